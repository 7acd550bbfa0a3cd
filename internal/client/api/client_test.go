package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JakeRemmich/AutoHotKey/internal/client/session"
	"github.com/JakeRemmich/AutoHotKey/internal/domain/users"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var profile = users.UserProfile{ID: "u1", Email: "a@b.co", Role: "user", SubscriptionPlan: "free"}

// fakeServer accepts exactly one access token at a time and hands out a
// new pair on refresh.
type fakeServer struct {
	mu          sync.Mutex
	access      string
	refresh     string
	generation  int
	refreshes   atomic.Int32
	refreshWait time.Duration
	refreshFail bool
	handler     func(w http.ResponseWriter, r *http.Request) bool
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.handler != nil && s.handler(w, r) {
		return
	}

	switch r.URL.Path {
	case "/api/auth/refresh":
		s.refreshes.Add(1)
		time.Sleep(s.refreshWait)
		var req users.RefreshRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.refreshFail || req.RefreshToken != s.refresh {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid refresh token", "code": "INVALID_REFRESH_TOKEN"})
			return
		}
		s.generation++
		s.access = "access-" + string(rune('0'+s.generation))
		s.refresh = "refresh-" + string(rune('0'+s.generation))
		writeJSON(w, http.StatusOK, users.AuthResponse{Success: true, AccessToken: s.access, RefreshToken: s.refresh, User: profile})

	case "/api/auth/login":
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid email or password", "code": "INVALID_CREDENTIALS"})

	default:
		s.mu.Lock()
		current := s.access
		s.mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer "+current {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Access token expired", "code": "TOKEN_EXPIRED"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": []interface{}{}})
	}
}

type fakeNav struct {
	mu      sync.Mutex
	path    string
	visited []string
}

func (n *fakeNav) CurrentPath() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.path
}

func (n *fakeNav) Navigate(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.visited = append(n.visited, path)
	n.path = path
}

type fixture struct {
	srv    *fakeServer
	state  *session.State
	nav    *fakeNav
	client *Client
}

// newFixture logs the client in with a token the server no longer accepts.
func newFixture(t *testing.T, srv *fakeServer) *fixture {
	t.Helper()
	if srv.access == "" {
		srv.access = "access-current"
	}
	if srv.refresh == "" {
		srv.refresh = "refresh-0"
	}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	state := session.NewState(session.NewMemoryStore(), zerolog.Nop())
	require.NoError(t, state.Login(context.Background(), profile, "access-stale", "refresh-0"))

	nav := &fakeNav{path: "/scripts"}
	c, err := NewClient(ts.URL, state, WithNavigator(nav), WithTimeouts(2*time.Second, time.Second))
	require.NoError(t, err)
	return &fixture{srv: srv, state: state, nav: nav, client: c}
}

func TestSingleRefreshForConcurrentExpiredRequests(t *testing.T) {
	f := newFixture(t, &fakeServer{refreshWait: 100 * time.Millisecond})

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.client.History(context.Background())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), f.srv.refreshes.Load())
	assert.Equal(t, "access-1", f.state.AccessToken())
	assert.Equal(t, "refresh-1", f.state.RefreshToken())
	assert.Empty(t, f.nav.visited)
}

func TestAdminRejectionNeverRefreshes(t *testing.T) {
	srv := &fakeServer{handler: func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path == "/api/subscription-plans" {
			writeJSON(w, http.StatusForbidden, map[string]string{"message": "Admin access required", "code": "ADMIN_REQUIRED"})
			return true
		}
		return false
	}}
	f := newFixture(t, srv)

	err := f.client.Do(context.Background(), http.MethodPost, "/api/subscription-plans", map[string]string{}, nil)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "ADMIN_REQUIRED", apiErr.Code)

	assert.Equal(t, int32(0), f.srv.refreshes.Load())
	assert.Equal(t, session.Unauthenticated, f.state.Status())
	assert.Equal(t, []string{LoginPath}, f.nav.visited)
}

func TestQuotaRejectionKeepsSession(t *testing.T) {
	srv := &fakeServer{handler: func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path == "/api/scripts/generate" {
			writeJSON(w, http.StatusForbidden, map[string]string{"message": "Free plan limit reached", "code": "QUOTA_EXCEEDED"})
			return true
		}
		return false
	}}
	f := newFixture(t, srv)

	_, err := f.client.Generate(context.Background(), "ctrl j types hello")
	require.Error(t, err)
	assert.True(t, IsQuotaExceeded(err))
	assert.Equal(t, session.Authenticated, f.state.Status())
	assert.Empty(t, f.nav.visited)
	assert.Equal(t, int32(0), f.srv.refreshes.Load())
}

func TestAuthEndpointsAreNeverRetried(t *testing.T) {
	f := newFixture(t, &fakeServer{})

	_, err := f.client.Login(context.Background(), "a@b.co", "wrong")
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "INVALID_CREDENTIALS", apiErr.Code)
	assert.Equal(t, int32(0), f.srv.refreshes.Load())
	assert.Empty(t, f.nav.visited)
}

func TestRefreshFailureClearsAndRedirects(t *testing.T) {
	f := newFixture(t, &fakeServer{refreshFail: true})
	var cleared atomic.Int32
	f.state.Subscribe(func(ev session.Event) {
		if ev.Kind == session.AuthCleared {
			cleared.Add(1)
		}
	})

	_, err := f.client.History(context.Background())
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "INVALID_REFRESH_TOKEN", apiErr.Code)

	assert.Equal(t, session.Unauthenticated, f.state.Status())
	assert.Equal(t, []string{LoginPath}, f.nav.visited)
	assert.Equal(t, int32(1), cleared.Load())
}

func TestRefreshFailureOnLoginPageDoesNotNavigate(t *testing.T) {
	f := newFixture(t, &fakeServer{refreshFail: true})
	f.nav.path = RegisterPath

	_, err := f.client.History(context.Background())
	require.Error(t, err)
	assert.Empty(t, f.nav.visited)
}

func TestMissingRefreshToken(t *testing.T) {
	f := newFixture(t, &fakeServer{})
	require.NoError(t, f.state.Logout(context.Background()))

	_, err := f.client.History(context.Background())
	assert.ErrorIs(t, err, ErrNoRefreshToken)
	assert.Equal(t, int32(0), f.srv.refreshes.Load())
	assert.Empty(t, f.nav.visited)
	assert.Equal(t, session.Unauthenticated, f.state.Status())
}

func TestRetriesOnlyOnce(t *testing.T) {
	srv := &fakeServer{handler: func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path == "/api/user" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Access token expired", "code": "TOKEN_EXPIRED"})
			return true
		}
		return false
	}}
	f := newFixture(t, srv)

	_, err := f.client.Account(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), f.srv.refreshes.Load())
	assert.Equal(t, session.Unauthenticated, f.state.Status())
}

func TestStaleTokenIsReplayedWithoutRefresh(t *testing.T) {
	f := newFixture(t, &fakeServer{})
	// Another caller already refreshed: the session holds the live token
	// but the request below was signed with the old one.
	require.NoError(t, f.state.Login(context.Background(), profile, "access-current", "refresh-0"))

	token, err := f.client.refresh(context.Background(), "access-stale")
	require.NoError(t, err)
	assert.Equal(t, "access-current", token)
	assert.Equal(t, int32(0), f.srv.refreshes.Load())
}

func TestNetworkErrorsPassThrough(t *testing.T) {
	state := session.NewState(session.NewMemoryStore(), zerolog.Nop())
	require.NoError(t, state.Login(context.Background(), profile, "a", "r"))

	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c, err := NewClient(url, state)
	require.NoError(t, err)
	_, err = c.History(context.Background())
	require.Error(t, err)

	var apiErr *Error
	assert.False(t, errors.As(err, &apiErr))
	assert.Equal(t, session.Authenticated, state.Status())
}

func TestNewClient_RefreshTimeoutMustBeShorter(t *testing.T) {
	_, err := NewClient("http://x", session.NewState(session.NewMemoryStore(), zerolog.Nop()), WithTimeouts(5*time.Second, 5*time.Second))
	require.Error(t, err)
}

func TestRegisterPersistsSession(t *testing.T) {
	srv := &fakeServer{handler: func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path != "/api/auth/register" {
			return false
		}
		var req users.RegisterRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		u := profile
		u.Email = strings.ToLower(req.Email)
		writeJSON(w, http.StatusCreated, users.AuthResponse{Success: true, AccessToken: "acc", RefreshToken: "ref", User: u})
		return true
	}}
	f := newFixture(t, srv)
	require.NoError(t, f.state.Logout(context.Background()))

	user, err := f.client.Register(context.Background(), "New@B.co", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "new@b.co", user.Email)
	assert.Equal(t, session.Authenticated, f.state.Status())
	assert.Equal(t, "acc", f.state.AccessToken())
}
