package usage

import (
	"strings"

	"github.com/JakeRemmich/AutoHotKey/internal/domain/users"
	"github.com/JakeRemmich/AutoHotKey/pkg/constant"
)

// Unlimited is reported as the limit of accounts without a quota.
const Unlimited = -1

// Decision is the outcome of checking an account before a generation.
type Decision int

const (
	// Allow lets the generation run without touching credits.
	Allow Decision = iota
	// ConsumeCredit lets the generation run against one per-script credit.
	ConsumeCredit
	// ConsumeFreeQuota lets the generation run against one of the free
	// plan's generations.
	ConsumeFreeQuota
	// DenyFreeQuota rejects a free account that used its quota.
	DenyFreeQuota
	// DenyNoCredits rejects a per-script account with no balance; the
	// account is demoted to free.
	DenyNoCredits
)

// AdminList is a case-insensitive allow-list of emails exempt from quotas.
type AdminList map[string]struct{}

func NewAdminList(emails []string) AdminList {
	list := make(AdminList, len(emails))
	for _, e := range emails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			list[e] = struct{}{}
		}
	}
	return list
}

func (a AdminList) Contains(email string) bool {
	_, ok := a[strings.ToLower(strings.TrimSpace(email))]
	return ok
}

// Decide applies the plan rules to a snapshot of the account.
func Decide(u users.User, exempt bool) Decision {
	if exempt {
		return Allow
	}
	switch u.SubscriptionPlan {
	case constant.PlanMonthly:
		return Allow
	case constant.PlanPerScript:
		if u.Credits > 0 {
			return ConsumeCredit
		}
		return DenyNoCredits
	default:
		if u.ScriptsGeneratedCount < constant.FreeScriptQuota {
			return ConsumeFreeQuota
		}
		return DenyFreeQuota
	}
}

// Limit is the number of generations the account may make in total under its
// current plan, or Unlimited.
func Limit(u users.User, exempt bool) int {
	if exempt {
		return Unlimited
	}
	switch u.SubscriptionPlan {
	case constant.PlanMonthly:
		return Unlimited
	case constant.PlanPerScript:
		return u.Credits
	default:
		return constant.FreeScriptQuota
	}
}

// Summary builds the usage block shown to the account owner.
func Summary(u users.User, exempt bool) users.Usage {
	return users.Usage{
		Plan:                  u.SubscriptionPlan,
		ScriptsGeneratedCount: u.ScriptsGeneratedCount,
		Credits:               u.Credits,
		Limit:                 Limit(u, exempt),
		SubscriptionStatus:    u.SubscriptionStatus,
		SubscriptionEndDate:   u.SubscriptionEndDate,
	}
}
