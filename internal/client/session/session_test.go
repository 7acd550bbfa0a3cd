package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/JakeRemmich/AutoHotKey/internal/domain/users"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var alice = users.UserProfile{ID: "u1", Email: "alice@example.com", Role: "user", SubscriptionPlan: "free"}

func openSQLite(t *testing.T, path string) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLiteStore(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) add(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func TestInit_RunsOnce(t *testing.T) {
	store := NewMemoryStore()
	st := NewState(store, zerolog.Nop())
	assert.Equal(t, Uninitialized, st.Status())

	select {
	case <-st.Ready():
		t.Fatal("ready before init")
	default:
	}

	require.NoError(t, st.Init(context.Background()))
	<-st.Ready()
	assert.Equal(t, Unauthenticated, st.Status())

	// Later writes are not picked up by a second Init.
	require.NoError(t, NewState(store, zerolog.Nop()).Login(context.Background(), alice, "a", "r"))
	require.NoError(t, st.Init(context.Background()))
	assert.Equal(t, Unauthenticated, st.Status())
}

func TestInit_RestoresCompleteSession(t *testing.T) {
	store := openSQLite(t, ":memory:")
	ctx := context.Background()
	require.NoError(t, NewState(store, zerolog.Nop()).Login(ctx, alice, "access", "refresh"))

	st := NewState(store, zerolog.Nop())
	require.NoError(t, st.Init(ctx))
	assert.Equal(t, Authenticated, st.Status())
	assert.Equal(t, alice, *st.User())
	assert.Equal(t, "access", st.AccessToken())
	assert.Equal(t, "refresh", st.RefreshToken())
}

func TestInit_PartialSessionIsCleared(t *testing.T) {
	cases := map[string]func(*MemoryStore){
		"access only": func(m *MemoryStore) { m.Set(KeyAccessToken, "a") },
		"no user": func(m *MemoryStore) {
			m.Set(KeyAccessToken, "a")
			m.Set(KeyRefreshToken, "r")
		},
		"garbage user": func(m *MemoryStore) {
			m.Set(KeyAccessToken, "a")
			m.Set(KeyRefreshToken, "r")
			m.Set(KeyUserData, "{not json")
		},
		"user without id": func(m *MemoryStore) {
			m.Set(KeyAccessToken, "a")
			m.Set(KeyRefreshToken, "r")
			m.Set(KeyUserData, `{"email":"a@b.co"}`)
		},
	}

	for name, seed := range cases {
		t.Run(name, func(t *testing.T) {
			store := NewMemoryStore()
			seed(store)

			st := NewState(store, zerolog.Nop())
			require.NoError(t, st.Init(context.Background()))
			assert.Equal(t, Unauthenticated, st.Status())
			assert.Empty(t, st.AccessToken())

			rec, err := store.Load(context.Background())
			require.NoError(t, err)
			assert.True(t, rec.empty(), "partial data must be removed")
		})
	}
}

func TestLogin_RejectsMissingParts(t *testing.T) {
	store := NewMemoryStore()
	st := NewState(store, zerolog.Nop())
	ctx := context.Background()
	require.NoError(t, st.Login(ctx, alice, "a", "r"))

	err := st.Login(ctx, users.UserProfile{Email: "x@y.co"}, "a", "r")
	assert.ErrorIs(t, err, ErrIncompleteSession)
	assert.Equal(t, Unauthenticated, st.Status())

	rec, err := store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, rec.empty())
}

type failingStore struct {
	*MemoryStore
}

func (failingStore) Save(context.Context, Record) error { return errors.New("disk full") }

func TestLogin_StoreFailureLeavesNothing(t *testing.T) {
	st := NewState(failingStore{NewMemoryStore()}, zerolog.Nop())
	require.Error(t, st.Login(context.Background(), alice, "a", "r"))
	assert.Equal(t, Unauthenticated, st.Status())
	assert.Nil(t, st.User())
}

func TestLogoutIsIdempotent(t *testing.T) {
	st := NewState(NewMemoryStore(), zerolog.Nop())
	ctx := context.Background()
	require.NoError(t, st.Login(ctx, alice, "a", "r"))

	require.NoError(t, st.Logout(ctx))
	require.NoError(t, st.Logout(ctx))
	assert.Equal(t, Unauthenticated, st.Status())
}

func TestSubscribeAndAuthCleared(t *testing.T) {
	st := NewState(NewMemoryStore(), zerolog.Nop())
	ctx := context.Background()
	rec := &recorder{}
	unsubscribe := st.Subscribe(rec.add)

	require.NoError(t, st.Login(ctx, alice, "a", "r"))
	st.ForceClear(ctx)
	assert.Equal(t, []EventKind{Changed, Changed, AuthCleared}, rec.kinds())

	unsubscribe()
	require.NoError(t, st.Login(ctx, alice, "a", "r"))
	assert.Len(t, rec.kinds(), 3)
}

func TestSQLiteStore_SaveIsAllOrNothing(t *testing.T) {
	store := openSQLite(t, ":memory:")
	ctx := context.Background()

	assert.ErrorIs(t, store.Save(ctx, Record{AccessToken: "a"}), ErrIncompleteSession)
	rec, err := store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, rec.empty())

	full := Record{AccessToken: "a", RefreshToken: "r", UserData: `{"id":"u1","email":"a@b.co"}`}
	require.NoError(t, store.Save(ctx, full))

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	require.Error(t, store.Save(cctx, Record{AccessToken: "a2", RefreshToken: "r2", UserData: "{}"}))

	rec, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, full, rec)
}

// Readers racing a writer only ever see a full session or none.
func TestSQLiteStore_NeverObservesPartialSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")
	writer := openSQLite(t, path)
	reader := openSQLite(t, path)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_ = writer.Save(ctx, Record{AccessToken: "a", RefreshToken: "r", UserData: `{"id":"u1","email":"a@b.co"}`})
			_ = writer.Clear(ctx)
		}
	}()

	for i := 0; i < 100; i++ {
		rec, err := reader.Load(ctx)
		if err != nil {
			continue
		}
		assert.True(t, rec.complete() || rec.empty(), "partial session observed: %+v", rec)
	}
	wg.Wait()
}

func TestRevalidate_PicksUpOtherProcessLogout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")
	ctx := context.Background()

	first := NewState(openSQLite(t, path), zerolog.Nop())
	second := NewState(openSQLite(t, path), zerolog.Nop())
	require.NoError(t, first.Login(ctx, alice, "a", "r"))
	require.NoError(t, second.Init(ctx))
	require.Equal(t, Authenticated, second.Status())

	require.NoError(t, first.Logout(ctx))
	require.NoError(t, second.Revalidate(ctx))
	assert.Equal(t, Unauthenticated, second.Status())
}

func TestWatcher_RevalidatesOnFileChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	other := NewState(openSQLite(t, path), zerolog.Nop())
	watched := NewState(openSQLite(t, path), zerolog.Nop())
	require.NoError(t, watched.Init(ctx))

	done := make(chan error, 1)
	go func() { done <- NewWatcher(watched, path, zerolog.Nop()).Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, other.Login(ctx, alice, "a", "r"))
	assert.Eventually(t, func() bool { return watched.Status() == Authenticated }, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, other.Logout(ctx))
	assert.Eventually(t, func() bool { return watched.Status() == Unauthenticated }, 3*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
