package billing

import (
	"time"
)

// Plan types map onto the user's subscription_plan.
const (
	PlanTypeMonthly   = "monthly"
	PlanTypePerScript = "per-script"
)

// Checkout modes as reported by the billing provider.
const (
	ModeSubscription = "subscription"
	ModePayment      = "payment"
)

// Event types the ledger reacts to. Everything else is acknowledged and
// dropped.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// Plan is a catalogue entry pointing at an existing provider price.
type Plan struct {
	ID              int       `json:"id" gorm:"primaryKey;autoIncrement"`
	Name            string    `json:"name" gorm:"column:name;size:100;not null"`
	Description     string    `json:"description" gorm:"column:description;type:text"`
	Price           float64   `json:"price" gorm:"column:price;type:decimal(10,2);not null"`
	Interval        string    `json:"interval" gorm:"column:billing_interval;size:16;not null"`
	Currency        string    `json:"currency" gorm:"column:currency;size:8;not null;default:usd"`
	Features        []string  `json:"features" gorm:"column:features;serializer:json"`
	StripePriceID   string    `json:"stripePriceId" gorm:"column:stripe_price_id;size:64;uniqueIndex"`
	StripeProductID string    `json:"stripeProductId" gorm:"column:stripe_product_id;size:64"`
	PlanType        string    `json:"planType" gorm:"column:plan_type;size:16;not null"`
	IsActive        bool      `json:"isActive" gorm:"column:is_active;index;not null;default:true"`
	CreatedAt       time.Time `json:"createdAt" gorm:"autoCreateTime"`
	UpdatedAt       time.Time `json:"updatedAt" gorm:"autoUpdateTime"`
}

func (Plan) TableName() string { return "subscription_plans" }

type PlanRequest struct {
	Name            string   `json:"name" validate:"required,max=100"`
	Description     string   `json:"description" validate:"required"`
	Price           float64  `json:"price" validate:"gt=0"`
	Interval        string   `json:"interval" validate:"required,oneof=month year one_time"`
	Currency        string   `json:"currency" validate:"omitempty,len=3"`
	Features        []string `json:"features" validate:"required,min=1,dive,required"`
	StripePriceID   string   `json:"stripePriceId" validate:"required"`
	StripeProductID string   `json:"stripeProductId"`
	PlanType        string   `json:"planType" validate:"required,oneof=monthly per-script"`
	IsActive        *bool    `json:"isActive"`
}

type CheckoutRequest struct {
	PlanID     int    `json:"planId" validate:"required,gt=0"`
	SuccessURL string `json:"successUrl" validate:"omitempty,url"`
	CancelURL  string `json:"cancelUrl" validate:"omitempty,url"`
}

type CheckoutResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// CheckoutParams is what the provider needs to open a hosted checkout.
type CheckoutParams struct {
	CustomerID string
	PriceID    string
	Mode       string
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

// Subscription is the provider's view of a recurring subscription.
type Subscription struct {
	ID               string
	Status           string
	CurrentPeriodEnd time.Time
}

type StatusResponse struct {
	Plan                  string     `json:"plan"`
	Status                *string    `json:"status"`
	EndDate               *time.Time `json:"endDate"`
	Credits               int        `json:"credits"`
	ScriptsGeneratedCount int        `json:"scriptsGeneratedCount"`
	HasSubscription       bool       `json:"hasSubscription"`
	PlanDetails           *Plan      `json:"planDetails,omitempty"`
}

// Event is a verified provider webhook reduced to the fields the ledger
// uses. It is what travels over the billing queue.
type Event struct {
	ID               string    `json:"id"`
	Type             string    `json:"type"`
	CustomerID       string    `json:"customerId,omitempty"`
	SubscriptionID   string    `json:"subscriptionId,omitempty"`
	Mode             string    `json:"mode,omitempty"`
	PlanID           *int      `json:"planId,omitempty"`
	Status           string    `json:"status,omitempty"`
	CurrentPeriodEnd int64     `json:"currentPeriodEnd,omitempty"`
	ReceivedAt       time.Time `json:"receivedAt"`
	// Attempts counts failed applications by the worker.
	Attempts int `json:"attempts,omitempty"`
}

// Handled reports whether the ledger has anything to do for this event.
func (e Event) Handled() bool {
	switch e.Type {
	case EventCheckoutCompleted, EventSubscriptionUpdated, EventSubscriptionDeleted:
		return true
	}
	return false
}

// PeriodEnd converts the provider's unix seconds, zero meaning unknown.
func PeriodEnd(unix int64) *time.Time {
	if unix <= 0 {
		return nil
	}
	t := time.Unix(unix, 0).UTC()
	return &t
}
