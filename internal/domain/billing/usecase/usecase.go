package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JakeRemmich/AutoHotKey/internal/domain/billing"
	"github.com/JakeRemmich/AutoHotKey/internal/domain/users"
	"github.com/JakeRemmich/AutoHotKey/internal/platform/metrics"
	"github.com/JakeRemmich/AutoHotKey/pkg/constant"
	"github.com/JakeRemmich/AutoHotKey/pkg/response"
	"github.com/rs/zerolog"
)

type UserRepository interface {
	FindUserByStripeCustomerID(ctx context.Context, customerID string) (*users.User, error)
	FindUserBySubscriptionID(ctx context.Context, subscriptionID string) (*users.User, error)
	SetStripeCustomerID(ctx context.Context, extID, customerID string) error
	MarkCanceling(ctx context.Context, extID string) error
	CountActiveSubscribers(ctx context.Context, planID int) (int64, error)
	ActivateMonthly(ctx context.Context, extID, subscriptionID, status string, endDate *time.Time, planID *int) error
	AddCredits(ctx context.Context, extID string, n int, planID *int) error
	UpdateSubscription(ctx context.Context, subscriptionID, status string, endDate *time.Time) error
	EndSubscription(ctx context.Context, subscriptionID string) error
}

type PlanRepository interface {
	ListPlans(ctx context.Context, activeOnly bool) ([]billing.Plan, error)
	FindPlan(ctx context.Context, id int) (*billing.Plan, error)
	CreatePlan(ctx context.Context, plan *billing.Plan) error
	UpdatePlan(ctx context.Context, plan *billing.Plan) error
	DeletePlan(ctx context.Context, id int) error
}

// Provider is the external billing system.
type Provider interface {
	CreateCustomer(ctx context.Context, email, userExtID string) (string, error)
	CreateCheckoutSession(ctx context.Context, p billing.CheckoutParams) (id, url string, err error)
	GetSubscription(ctx context.Context, id string) (*billing.Subscription, error)
	CancelAtPeriodEnd(ctx context.Context, id string) error
	ParseWebhook(payload []byte, signature string) (*billing.Event, error)
}

// EventQueue hands verified events to the worker.
type EventQueue interface {
	MarkSeen(ctx context.Context, eventID string) (bool, error)
	PublishBillingEvent(ctx context.Context, ev billing.Event) error
	Forget(ctx context.Context, eventID string) error
}

type Options struct {
	SuccessURL string
	CancelURL  string
}

type Usecase struct {
	users    UserRepository
	plans    PlanRepository
	provider Provider
	queue    EventQueue
	opts     Options
	log      zerolog.Logger
}

// NewUsecase wires the billing flows. queue may be nil, in which case
// webhook events are applied inline.
func NewUsecase(userRepo UserRepository, planRepo PlanRepository, provider Provider, queue EventQueue, opts Options, log zerolog.Logger) *Usecase {
	return &Usecase{
		users:    userRepo,
		plans:    planRepo,
		provider: provider,
		queue:    queue,
		opts:     opts,
		log:      log,
	}
}

var (
	errPlanNotFound     = response.NewCodedError(http.StatusNotFound, response.CodeNotFound, "Subscription plan not found")
	errNoSubscription   = response.NewCodedError(http.StatusBadRequest, response.CodeNotFound, "No active subscription found")
	errPlanHasSubscribe = response.NewError(http.StatusBadRequest, "Cannot delete subscription plan with active subscriptions. Please cancel all subscriptions first.", nil)
	errInvalidSignature = response.NewCodedError(http.StatusBadRequest, response.CodeInvalidSignature, "Invalid webhook signature")
)

func (u Usecase) ListPlans(ctx context.Context, activeOnly bool) ([]billing.Plan, error) {
	plans, err := u.plans.ListPlans(ctx, activeOnly)
	if err != nil {
		return nil, response.InternalServerError(err)
	}
	return plans, nil
}

func applyPlanRequest(plan *billing.Plan, req billing.PlanRequest) {
	plan.Name = strings.TrimSpace(req.Name)
	plan.Description = req.Description
	plan.Price = req.Price
	plan.Interval = req.Interval
	plan.Currency = strings.ToLower(req.Currency)
	if plan.Currency == "" {
		plan.Currency = "usd"
	}
	plan.Features = req.Features
	plan.StripePriceID = req.StripePriceID
	plan.StripeProductID = req.StripeProductID
	plan.PlanType = req.PlanType
	if req.IsActive != nil {
		plan.IsActive = *req.IsActive
	}
}

// planConsistent rejects one-time prices sold as subscriptions and the
// reverse.
func planConsistent(req billing.PlanRequest) error {
	oneTime := req.Interval == "one_time"
	if oneTime != (req.PlanType == billing.PlanTypePerScript) {
		return response.NewCodedError(http.StatusBadRequest, response.CodeValidationFailed,
			"per-script plans must use the one_time interval and monthly plans a recurring one")
	}
	return nil
}

func (u Usecase) CreatePlan(ctx context.Context, req billing.PlanRequest) (*billing.Plan, error) {
	if err := planConsistent(req); err != nil {
		return nil, err
	}
	plan := &billing.Plan{IsActive: true}
	applyPlanRequest(plan, req)

	if err := u.plans.CreatePlan(ctx, plan); err != nil {
		return nil, response.InternalServerError(err)
	}
	u.log.Info().Int("plan_id", plan.ID).Str("plan_type", plan.PlanType).Msg("subscription plan created")
	return plan, nil
}

func (u Usecase) UpdatePlan(ctx context.Context, id int, req billing.PlanRequest) (*billing.Plan, error) {
	if err := planConsistent(req); err != nil {
		return nil, err
	}
	plan, err := u.plans.FindPlan(ctx, id)
	if err != nil {
		return nil, response.InternalServerError(err)
	}
	if plan == nil {
		return nil, errPlanNotFound
	}
	applyPlanRequest(plan, req)

	if err := u.plans.UpdatePlan(ctx, plan); err != nil {
		return nil, response.InternalServerError(err)
	}
	return plan, nil
}

func (u Usecase) DeletePlan(ctx context.Context, id int) error {
	plan, err := u.plans.FindPlan(ctx, id)
	if err != nil {
		return response.InternalServerError(err)
	}
	if plan == nil {
		return errPlanNotFound
	}

	n, err := u.users.CountActiveSubscribers(ctx, id)
	if err != nil {
		return response.InternalServerError(err)
	}
	if n > 0 {
		return errPlanHasSubscribe
	}

	if err := u.plans.DeletePlan(ctx, id); err != nil {
		return response.InternalServerError(err)
	}
	return nil
}

// Checkout opens a hosted checkout for plan and returns where to send the
// user. The provider customer is created on first use.
func (u Usecase) Checkout(ctx context.Context, user *users.User, req billing.CheckoutRequest) (*billing.CheckoutResponse, error) {
	plan, err := u.plans.FindPlan(ctx, req.PlanID)
	if err != nil {
		return nil, response.InternalServerError(err)
	}
	if plan == nil || !plan.IsActive {
		return nil, errPlanNotFound
	}

	customerID := ""
	if user.StripeCustomerID != nil {
		customerID = *user.StripeCustomerID
	}
	if customerID == "" {
		customerID, err = u.provider.CreateCustomer(ctx, user.Email, user.ExtID)
		if err != nil {
			return nil, response.InternalServerError(err)
		}
		if err := u.users.SetStripeCustomerID(ctx, user.ExtID, customerID); err != nil {
			return nil, response.InternalServerError(err)
		}
	}

	mode := billing.ModeSubscription
	if plan.PlanType == billing.PlanTypePerScript {
		mode = billing.ModePayment
	}
	successURL := firstNonEmpty(req.SuccessURL, u.opts.SuccessURL)
	cancelURL := firstNonEmpty(req.CancelURL, u.opts.CancelURL)
	if successURL == "" || cancelURL == "" {
		return nil, response.NewCodedError(http.StatusBadRequest, response.CodeValidationFailed, "successUrl and cancelUrl are required")
	}

	id, url, err := u.provider.CreateCheckoutSession(ctx, billing.CheckoutParams{
		CustomerID: customerID,
		PriceID:    plan.StripePriceID,
		Mode:       mode,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
		Metadata: map[string]string{
			"planId":   strconv.Itoa(plan.ID),
			"planType": plan.PlanType,
			"userId":   user.ExtID,
		},
	})
	if err != nil {
		return nil, response.InternalServerError(err)
	}

	u.log.Info().Str("user_id", user.ExtID).Int("plan_id", plan.ID).Str("mode", mode).Msg("checkout session created")
	return &billing.CheckoutResponse{SessionID: id, URL: url}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (u Usecase) Status(ctx context.Context, user *users.User) (*billing.StatusResponse, error) {
	out := &billing.StatusResponse{
		Plan:                  user.SubscriptionPlan,
		Status:                user.SubscriptionStatus,
		EndDate:               user.SubscriptionEndDate,
		Credits:               user.Credits,
		ScriptsGeneratedCount: user.ScriptsGeneratedCount,
		HasSubscription:       user.StripeSubscriptionID != nil && user.SubscriptionPlan == constant.PlanMonthly,
	}
	if user.SubscriptionPlanID != nil {
		plan, err := u.plans.FindPlan(ctx, *user.SubscriptionPlanID)
		if err != nil {
			return nil, response.InternalServerError(err)
		}
		out.PlanDetails = plan
	}
	return out, nil
}

// Cancel stops renewal at the end of the paid period. The account stays
// monthly until the provider reports the subscription deleted.
func (u Usecase) Cancel(ctx context.Context, user *users.User) error {
	if user.StripeSubscriptionID == nil || *user.StripeSubscriptionID == "" || user.SubscriptionPlan != constant.PlanMonthly {
		return errNoSubscription
	}
	if err := u.provider.CancelAtPeriodEnd(ctx, *user.StripeSubscriptionID); err != nil {
		return response.InternalServerError(err)
	}
	if err := u.users.MarkCanceling(ctx, user.ExtID); err != nil {
		return response.InternalServerError(err)
	}
	u.log.Info().Str("user_id", user.ExtID).Msg("subscription set to cancel at period end")
	return nil
}

// HandleWebhook verifies a provider delivery and hands it on. Once an event
// is queued or applied the delivery is acknowledged. If it could be neither,
// the dedup marker is dropped and an error is returned so the provider
// delivers it again.
func (u Usecase) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	ev, err := u.provider.ParseWebhook(payload, signature)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("unknown", "rejected").Inc()
		u.log.Warn().Err(err).Msg("webhook signature verification failed")
		return errInvalidSignature
	}
	log := u.log.With().Str("event_id", ev.ID).Str("event_type", ev.Type).Logger()

	if !ev.Handled() {
		metrics.WebhookEvents.WithLabelValues(ev.Type, "ignored").Inc()
		log.Debug().Msg("unhandled webhook event")
		return nil
	}

	if u.queue != nil {
		first, err := u.queue.MarkSeen(ctx, ev.ID)
		if err != nil {
			log.Warn().Err(err).Msg("event dedup unavailable")
			first = true
		}
		if !first {
			metrics.WebhookEvents.WithLabelValues(ev.Type, "duplicate").Inc()
			log.Info().Msg("duplicate webhook event dropped")
			return nil
		}

		err = u.queue.PublishBillingEvent(ctx, *ev)
		if err == nil {
			metrics.WebhookEvents.WithLabelValues(ev.Type, "queued").Inc()
			return nil
		}
		log.Warn().Err(err).Msg("failed to queue event, applying inline")
	}

	if err := u.ApplyEvent(ctx, *ev); err != nil {
		log.Error().Err(err).Msg("failed to apply billing event")
		if u.queue != nil {
			if ferr := u.queue.Forget(ctx, ev.ID); ferr != nil {
				log.Warn().Err(ferr).Msg("failed to clear event dedup marker")
			}
		}
		return response.InternalServerError(err)
	}
	return nil
}

// ApplyEvent mutates the ledger for one event. Credit grants are additive
// and every write is a single conditional statement, so this is safe to run
// next to concurrent script generations.
func (u Usecase) ApplyEvent(ctx context.Context, ev billing.Event) error {
	err := u.apply(ctx, ev)
	outcome := "applied"
	if err != nil {
		outcome = "failed"
	}
	metrics.WebhookEvents.WithLabelValues(ev.Type, outcome).Inc()
	return err
}

func (u Usecase) apply(ctx context.Context, ev billing.Event) error {
	log := u.log.With().Str("event_id", ev.ID).Str("event_type", ev.Type).Logger()

	switch ev.Type {
	case billing.EventCheckoutCompleted:
		user, err := u.users.FindUserByStripeCustomerID(ctx, ev.CustomerID)
		if err != nil {
			return fmt.Errorf("find user by customer: %w", err)
		}
		if user == nil {
			log.Warn().Str("customer_id", ev.CustomerID).Msg("no user for checkout customer")
			return nil
		}

		switch ev.Mode {
		case billing.ModeSubscription:
			if ev.SubscriptionID == "" {
				return errors.New("subscription checkout without subscription id")
			}
			sub, err := u.provider.GetSubscription(ctx, ev.SubscriptionID)
			if err != nil {
				return err
			}
			var end *time.Time
			if !sub.CurrentPeriodEnd.IsZero() {
				end = &sub.CurrentPeriodEnd
			}
			if err := u.users.ActivateMonthly(ctx, user.ExtID, sub.ID, sub.Status, end, ev.PlanID); err != nil {
				return fmt.Errorf("activate monthly: %w", err)
			}
			log.Info().Str("user_id", user.ExtID).Msg("monthly subscription activated")

		case billing.ModePayment:
			if err := u.users.AddCredits(ctx, user.ExtID, 1, ev.PlanID); err != nil {
				return fmt.Errorf("add credits: %w", err)
			}
			log.Info().Str("user_id", user.ExtID).Msg("script credit added")

		default:
			log.Warn().Str("mode", ev.Mode).Msg("unknown checkout mode")
		}

	case billing.EventSubscriptionUpdated:
		user, err := u.users.FindUserBySubscriptionID(ctx, ev.SubscriptionID)
		if err != nil {
			return fmt.Errorf("find user by subscription: %w", err)
		}
		if user == nil {
			log.Warn().Str("subscription_id", ev.SubscriptionID).Msg("no user for subscription")
			return nil
		}
		if err := u.users.UpdateSubscription(ctx, ev.SubscriptionID, ev.Status, billing.PeriodEnd(ev.CurrentPeriodEnd)); err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}
		log.Info().Str("user_id", user.ExtID).Str("status", ev.Status).Msg("subscription updated")

	case billing.EventSubscriptionDeleted:
		if err := u.users.EndSubscription(ctx, ev.SubscriptionID); err != nil {
			return fmt.Errorf("end subscription: %w", err)
		}
		log.Info().Str("subscription_id", ev.SubscriptionID).Msg("subscription ended")
	}
	return nil
}
