package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/JakeRemmich/AutoHotKey/internal/domain/billing"
	"github.com/JakeRemmich/AutoHotKey/internal/platform/config"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// ErrInvalidSignature is returned for webhook payloads that fail
// verification. The payload is never decoded in that case.
var ErrInvalidSignature = errors.New("payment: invalid webhook signature")

// StripeService is the billing provider backed by Stripe.
type StripeService struct {
	api           *client.API
	webhookSecret string
	now           func() time.Time
}

func NewStripeService(cfg config.StripeConfig) *StripeService {
	return &StripeService{
		api:           client.New(cfg.SecretKey, nil),
		webhookSecret: cfg.WebhookSecret,
		now:           time.Now,
	}
}

func (s *StripeService) CreateCustomer(ctx context.Context, email, userExtID string) (string, error) {
	params := &stripe.CustomerParams{Email: stripe.String(email)}
	params.Context = ctx
	params.AddMetadata("userId", userExtID)

	cus, err := s.api.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	return cus.ID, nil
}

func (s *StripeService) CreateCheckoutSession(ctx context.Context, p billing.CheckoutParams) (string, string, error) {
	params := &stripe.CheckoutSessionParams{
		Customer:           stripe.String(p.CustomerID),
		Mode:               stripe.String(p.Mode),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(p.PriceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
	}
	params.Context = ctx
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return "", "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.ID, sess.URL, nil
}

func (s *StripeService) GetSubscription(ctx context.Context, id string) (*billing.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := s.api.Subscriptions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("get subscription %s: %w", id, err)
	}
	out := &billing.Subscription{ID: sub.ID, Status: string(sub.Status)}
	if end := billing.PeriodEnd(sub.CurrentPeriodEnd); end != nil {
		out.CurrentPeriodEnd = *end
	}
	return out, nil
}

// CancelAtPeriodEnd keeps the subscription running until the paid period
// ends; the deletion event arrives then.
func (s *StripeService) CancelAtPeriodEnd(ctx context.Context, id string) error {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	params.Context = ctx

	if _, err := s.api.Subscriptions.Update(id, params); err != nil {
		return fmt.Errorf("cancel subscription %s: %w", id, err)
	}
	return nil
}

// ParseWebhook verifies the signature over the raw body and only then
// decodes the event.
func (s *StripeService) ParseWebhook(payload []byte, signature string) (*billing.Event, error) {
	if signature == "" || s.webhookSecret == "" {
		return nil, ErrInvalidSignature
	}
	ev, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return normalize(ev, s.now())
}

func normalize(ev stripe.Event, receivedAt time.Time) (*billing.Event, error) {
	out := &billing.Event{ID: ev.ID, Type: string(ev.Type), ReceivedAt: receivedAt.UTC()}
	if ev.Data == nil {
		return out, nil
	}

	switch out.Type {
	case billing.EventCheckoutCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		out.Mode = string(sess.Mode)
		if sess.Customer != nil {
			out.CustomerID = sess.Customer.ID
		}
		if sess.Subscription != nil {
			out.SubscriptionID = sess.Subscription.ID
		}
		if raw, ok := sess.Metadata["planId"]; ok {
			if id, err := strconv.Atoi(raw); err == nil {
				out.PlanID = &id
			}
		}

	case billing.EventSubscriptionUpdated, billing.EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(ev.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		out.SubscriptionID = sub.ID
		out.Status = string(sub.Status)
		out.CurrentPeriodEnd = sub.CurrentPeriodEnd
		if sub.Customer != nil {
			out.CustomerID = sub.Customer.ID
		}
	}
	return out, nil
}
