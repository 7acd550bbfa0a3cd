package usecase

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/JakeRemmich/AutoHotKey/internal/domain/usage"
	"github.com/JakeRemmich/AutoHotKey/internal/domain/users"
	"github.com/JakeRemmich/AutoHotKey/pkg/constant"
	"github.com/JakeRemmich/AutoHotKey/pkg/response"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRepo mimics the single-statement semantics of the SQL ledger.
type memRepo struct {
	mu    sync.Mutex
	users map[string]*users.User
}

func newMemRepo(u ...users.User) *memRepo {
	r := &memRepo{users: map[string]*users.User{}}
	for i := range u {
		cp := u[i]
		r.users[cp.ExtID] = &cp
	}
	return r
}

func (r *memRepo) get(id string) users.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.users[id]
}

func (r *memRepo) FindUserByExtID(_ context.Context, extID string) (*users.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[extID]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r *memRepo) IncrementScriptCount(_ context.Context, extID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[extID].ScriptsGeneratedCount++
	return nil
}

func (r *memRepo) ReserveCredit(_ context.Context, extID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.users[extID]
	if u.SubscriptionPlan != constant.PlanPerScript || u.Credits <= 0 {
		return false, nil
	}
	u.Credits--
	return true, nil
}

func (r *memRepo) RefundCredit(_ context.Context, extID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[extID].Credits++
	return nil
}

func (r *memRepo) ReserveFreeGeneration(_ context.Context, extID string, quota int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.users[extID]
	if u.SubscriptionPlan == constant.PlanMonthly || u.SubscriptionPlan == constant.PlanPerScript || u.ScriptsGeneratedCount >= quota {
		return false, nil
	}
	u.ScriptsGeneratedCount++
	return true, nil
}

func (r *memRepo) ReleaseFreeGeneration(_ context.Context, extID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u := r.users[extID]; u.ScriptsGeneratedCount > 0 {
		u.ScriptsGeneratedCount--
	}
	return nil
}

func (r *memRepo) DemoteExhausted(_ context.Context, extID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.users[extID]
	if u.SubscriptionPlan == constant.PlanPerScript && u.Credits <= 0 {
		u.SubscriptionPlan = constant.PlanFree
		u.SubscriptionStatus = nil
		u.SubscriptionEndDate = nil
	}
	return nil
}

func newLedger(repo LedgerRepository, admins ...string) *Ledger {
	return NewLedger(repo, usage.NewAdminList(admins), zerolog.Nop())
}

func generate(t *testing.T, l *Ledger, repo *memRepo, id string) error {
	t.Helper()
	u, err := repo.FindUserByExtID(context.Background(), id)
	require.NoError(t, err)
	res, err := l.Reserve(context.Background(), u)
	if err != nil {
		return err
	}
	return l.Commit(context.Background(), res)
}

func requireQuotaError(t *testing.T, err error) {
	t.Helper()
	var apiErr *response.APIError
	require.True(t, errors.As(err, &apiErr), "expected APIError, got %v", err)
	assert.Equal(t, http.StatusForbidden, apiErr.Code)
	assert.Equal(t, response.CodeQuotaExceeded, apiErr.ErrCode)
}

func TestFreeQuotaBoundary(t *testing.T) {
	repo := newMemRepo(
		users.User{ExtID: "two", SubscriptionPlan: constant.PlanFree, ScriptsGeneratedCount: 2},
		users.User{ExtID: "three", SubscriptionPlan: constant.PlanFree, ScriptsGeneratedCount: 3},
	)
	l := newLedger(repo)

	require.NoError(t, generate(t, l, repo, "two"))
	assert.Equal(t, 3, repo.get("two").ScriptsGeneratedCount)

	requireQuotaError(t, generate(t, l, repo, "three"))
	assert.Equal(t, 3, repo.get("three").ScriptsGeneratedCount)
}

func TestCreditExhaustionDemotes(t *testing.T) {
	status := "active"
	repo := newMemRepo(users.User{ExtID: "u", SubscriptionPlan: constant.PlanPerScript, Credits: 0, SubscriptionStatus: &status})
	l := newLedger(repo)

	requireQuotaError(t, generate(t, l, repo, "u"))
	got := repo.get("u")
	assert.Equal(t, constant.PlanFree, got.SubscriptionPlan)
	assert.Nil(t, got.SubscriptionStatus)
}

func TestPerScriptConsumesCredit(t *testing.T) {
	repo := newMemRepo(users.User{ExtID: "u", SubscriptionPlan: constant.PlanPerScript, Credits: 2, ScriptsGeneratedCount: 7})
	l := newLedger(repo)

	require.NoError(t, generate(t, l, repo, "u"))
	got := repo.get("u")
	assert.Equal(t, 1, got.Credits)
	assert.Equal(t, 8, got.ScriptsGeneratedCount)
}

func TestMonthlyIsUnlimited(t *testing.T) {
	repo := newMemRepo(users.User{ExtID: "u", SubscriptionPlan: constant.PlanMonthly, ScriptsGeneratedCount: 100})
	l := newLedger(repo)

	require.NoError(t, generate(t, l, repo, "u"))
	assert.Equal(t, 101, repo.get("u").ScriptsGeneratedCount)
}

func TestAdminBypassesAndKeepsCredits(t *testing.T) {
	repo := newMemRepo(
		users.User{ExtID: "a", Email: "boss@example.com", SubscriptionPlan: constant.PlanFree, ScriptsGeneratedCount: 10},
		users.User{ExtID: "b", Email: "Boss2@example.com", SubscriptionPlan: constant.PlanPerScript, Credits: 1},
	)
	l := newLedger(repo, "boss@example.com", "boss2@example.com")

	require.NoError(t, generate(t, l, repo, "a"))
	assert.Equal(t, 11, repo.get("a").ScriptsGeneratedCount)

	require.NoError(t, generate(t, l, repo, "b"))
	assert.Equal(t, 1, repo.get("b").Credits)
}

func TestReleaseRefundsReservedCredit(t *testing.T) {
	repo := newMemRepo(users.User{ExtID: "u", SubscriptionPlan: constant.PlanPerScript, Credits: 1})
	l := newLedger(repo)
	u, _ := repo.FindUserByExtID(context.Background(), "u")

	res, err := l.Reserve(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, 0, repo.get("u").Credits)

	require.NoError(t, l.Release(context.Background(), res))
	got := repo.get("u")
	assert.Equal(t, 1, got.Credits)
	assert.Equal(t, 0, got.ScriptsGeneratedCount)
}

func TestReserve_StaleSnapshotRereads(t *testing.T) {
	// Snapshot says one credit but the stored balance is already spent.
	repo := newMemRepo(users.User{ExtID: "u", SubscriptionPlan: constant.PlanPerScript, Credits: 0})
	l := newLedger(repo)

	_, err := l.Reserve(context.Background(), &users.User{ExtID: "u", SubscriptionPlan: constant.PlanPerScript, Credits: 1})
	requireQuotaError(t, err)
	assert.Equal(t, constant.PlanFree, repo.get("u").SubscriptionPlan)
}

func TestReserve_StaleSnapshotUpgradedToMonthly(t *testing.T) {
	repo := newMemRepo(users.User{ExtID: "u", SubscriptionPlan: constant.PlanMonthly})
	l := newLedger(repo)

	res, err := l.Reserve(context.Background(), &users.User{ExtID: "u", SubscriptionPlan: constant.PlanPerScript, Credits: 1})
	require.NoError(t, err)
	assert.Equal(t, constant.PlanMonthly, res.Plan)
}

func TestConcurrentReservationsNeverOverdraw(t *testing.T) {
	// Count is past the free quota so a demoted account cannot fall back to it.
	repo := newMemRepo(users.User{ExtID: "u", SubscriptionPlan: constant.PlanPerScript, Credits: 3, ScriptsGeneratedCount: 10})
	l := newLedger(repo)
	snapshot := users.User{ExtID: "u", SubscriptionPlan: constant.PlanPerScript, Credits: 3, ScriptsGeneratedCount: 10}

	var ok int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cp := snapshot
			res, err := l.Reserve(context.Background(), &cp)
			if err == nil {
				atomic.AddInt32(&ok, 1)
				_ = l.Commit(context.Background(), res)
			}
		}()
	}
	wg.Wait()

	got := repo.get("u")
	assert.Equal(t, int32(3), ok)
	assert.Equal(t, 0, got.Credits)
	assert.Equal(t, 13, got.ScriptsGeneratedCount)
}

func TestConcurrentFreeGenerationsStopAtQuota(t *testing.T) {
	repo := newMemRepo(users.User{ExtID: "u", SubscriptionPlan: constant.PlanFree, ScriptsGeneratedCount: 2})
	l := newLedger(repo)

	// Every request was authenticated before any of them committed.
	snapshots := make([]users.User, 3)
	for i := range snapshots {
		snapshots[i] = repo.get("u")
	}

	allowed := 0
	for i := range snapshots {
		res, err := l.Reserve(context.Background(), &snapshots[i])
		if err != nil {
			requireQuotaError(t, err)
			continue
		}
		allowed++
		require.NoError(t, l.Commit(context.Background(), res))
	}

	assert.Equal(t, 1, allowed)
	assert.Equal(t, 3, repo.get("u").ScriptsGeneratedCount)
	assert.Equal(t, constant.PlanFree, repo.get("u").SubscriptionPlan)
}

func TestConcurrentFreeGenerationsParallel(t *testing.T) {
	repo := newMemRepo(users.User{ExtID: "u", SubscriptionPlan: constant.PlanFree})
	l := newLedger(repo)
	snapshot := repo.get("u")

	var ok int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cp := snapshot
			res, err := l.Reserve(context.Background(), &cp)
			if err == nil {
				atomic.AddInt32(&ok, 1)
				_ = l.Commit(context.Background(), res)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), ok)
	assert.Equal(t, 3, repo.get("u").ScriptsGeneratedCount)
}

func TestReleaseGivesBackFreeGeneration(t *testing.T) {
	repo := newMemRepo(users.User{ExtID: "u", SubscriptionPlan: constant.PlanFree, ScriptsGeneratedCount: 2})
	l := newLedger(repo)
	u := repo.get("u")

	res, err := l.Reserve(context.Background(), &u)
	require.NoError(t, err)
	assert.Equal(t, 3, repo.get("u").ScriptsGeneratedCount)

	require.NoError(t, l.Release(context.Background(), res))
	assert.Equal(t, 2, repo.get("u").ScriptsGeneratedCount)
}

func TestUsage(t *testing.T) {
	l := newLedger(newMemRepo(), "boss@example.com")
	assert.Equal(t, 3, l.Usage(users.User{SubscriptionPlan: constant.PlanFree}).Limit)
	assert.Equal(t, usage.Unlimited, l.Usage(users.User{Email: "boss@example.com", SubscriptionPlan: constant.PlanFree}).Limit)
}
