package constant

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

// Context keys
const (
	CtxKeyUserExtID ContextKey = "user_ext_id"
	CtxKeyUser      ContextKey = "user"
)

// Roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Subscription plans
const (
	PlanFree      = "free"
	PlanMonthly   = "monthly"
	PlanPerScript = "per-script"
)

// Subscription statuses written by the ledger itself. Anything else comes
// straight from the billing provider.
const (
	SubscriptionActive    = "active"
	SubscriptionCanceled  = "canceled"
	SubscriptionCanceling = "canceling"
)

// FreeScriptQuota is the number of scripts a free account may generate.
const FreeScriptQuota = 3
