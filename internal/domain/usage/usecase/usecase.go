package usecase

import (
	"context"
	"fmt"
	"net/http"

	"github.com/JakeRemmich/AutoHotKey/internal/domain/usage"
	"github.com/JakeRemmich/AutoHotKey/internal/domain/users"
	"github.com/JakeRemmich/AutoHotKey/pkg/constant"
	"github.com/JakeRemmich/AutoHotKey/pkg/response"
	"github.com/rs/zerolog"
)

const (
	msgFreeQuota = "You have reached your free plan limit. Please upgrade to continue generating scripts."
	msgNoCredits = "You have used all your script credits. Please purchase more scripts or upgrade to unlimited plan."
)

type LedgerRepository interface {
	FindUserByExtID(ctx context.Context, extID string) (*users.User, error)
	IncrementScriptCount(ctx context.Context, extID string) error
	ReserveCredit(ctx context.Context, extID string) (bool, error)
	RefundCredit(ctx context.Context, extID string) error
	ReserveFreeGeneration(ctx context.Context, extID string, quota int) (bool, error)
	ReleaseFreeGeneration(ctx context.Context, extID string) error
	DemoteExhausted(ctx context.Context, extID string) error
}

// Ledger enforces plan quotas around a script generation.
type Ledger struct {
	repo   LedgerRepository
	admins usage.AdminList
	log    zerolog.Logger
}

func NewLedger(repo LedgerRepository, admins usage.AdminList, log zerolog.Logger) *Ledger {
	return &Ledger{repo: repo, admins: admins, log: log}
}

// Reservation is the permission to run one generation. It must be finished
// with Commit on success or Release on failure.
type Reservation struct {
	UserExtID string
	Plan      string
	Exempt    bool
	credit    bool
	counted   bool
}

// IsExempt reports whether the account bypasses quotas.
func (l *Ledger) IsExempt(u users.User) bool {
	return l.admins.Contains(u.Email)
}

// Usage returns the usage block for u.
func (l *Ledger) Usage(u users.User) users.Usage {
	return usage.Summary(u, l.IsExempt(u))
}

// Reserve checks the account against the stored row. Per-script plans take a
// credit and free plans take a quota slot up front, so concurrent generations
// cannot go past either limit.
func (l *Ledger) Reserve(ctx context.Context, u *users.User) (*Reservation, error) {
	current := u
	// A failed conditional update means the row changed underneath us;
	// decide again once against a fresh read.
	for attempt := 0; attempt < 2; attempt++ {
		exempt := l.IsExempt(*current)
		res := &Reservation{UserExtID: current.ExtID, Plan: current.SubscriptionPlan, Exempt: exempt}

		switch usage.Decide(*current, exempt) {
		case usage.Allow:
			return res, nil
		case usage.DenyFreeQuota:
			return nil, response.NewCodedError(http.StatusForbidden, response.CodeQuotaExceeded, msgFreeQuota)
		case usage.DenyNoCredits:
			return nil, l.demote(ctx, current.ExtID)
		case usage.ConsumeFreeQuota:
			ok, err := l.repo.ReserveFreeGeneration(ctx, current.ExtID, constant.FreeScriptQuota)
			if err != nil {
				return nil, response.InternalServerError(fmt.Errorf("reserve free generation: %w", err))
			}
			if ok {
				res.counted = true
				return res, nil
			}
		case usage.ConsumeCredit:
			ok, err := l.repo.ReserveCredit(ctx, current.ExtID)
			if err != nil {
				return nil, response.InternalServerError(fmt.Errorf("reserve credit: %w", err))
			}
			if ok {
				res.credit = true
				return res, nil
			}
		}

		fresh, err := l.repo.FindUserByExtID(ctx, current.ExtID)
		if err != nil {
			return nil, response.InternalServerError(err)
		}
		if fresh == nil {
			return nil, response.NewCodedError(http.StatusUnauthorized, response.CodeUserNotFound, "User not found")
		}
		current = fresh
	}
	if current.SubscriptionPlan == constant.PlanPerScript {
		return nil, l.demote(ctx, current.ExtID)
	}
	return nil, response.NewCodedError(http.StatusForbidden, response.CodeQuotaExceeded, msgFreeQuota)
}

func (l *Ledger) demote(ctx context.Context, extID string) error {
	if err := l.repo.DemoteExhausted(ctx, extID); err != nil {
		return response.InternalServerError(fmt.Errorf("demote exhausted account: %w", err))
	}
	l.log.Info().Str("user_id", extID).Msg("per-script credits exhausted, account moved to free plan")
	return response.NewCodedError(http.StatusForbidden, response.CodeQuotaExceeded, msgNoCredits)
}

// Commit records a successful generation.
func (l *Ledger) Commit(ctx context.Context, r *Reservation) error {
	if r.counted {
		return nil
	}
	if err := l.repo.IncrementScriptCount(ctx, r.UserExtID); err != nil {
		return fmt.Errorf("increment script count: %w", err)
	}
	return nil
}

// Release gives back what Reserve took after a failed generation.
func (l *Ledger) Release(ctx context.Context, r *Reservation) error {
	switch {
	case r.credit:
		if err := l.repo.RefundCredit(ctx, r.UserExtID); err != nil {
			return fmt.Errorf("refund credit: %w", err)
		}
	case r.counted:
		if err := l.repo.ReleaseFreeGeneration(ctx, r.UserExtID); err != nil {
			return fmt.Errorf("release free generation: %w", err)
		}
	}
	return nil
}
