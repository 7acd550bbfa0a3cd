// Package api is the HTTP client for the AutoHotkey script service. It keeps
// calls authenticated across an access token expiry by refreshing the token
// pair once and replaying the failed request.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/JakeRemmich/AutoHotKey/internal/domain/users"
	"github.com/rs/zerolog"
)

const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultRefreshTimeout = 5 * time.Second

	authPathPrefix = "/api/auth/"
	refreshPath    = "/api/auth/refresh"
	LoginPath      = "/login"
	RegisterPath   = "/register"
)

// ErrNoRefreshToken is returned when an expired session has nothing to
// refresh with.
var ErrNoRefreshToken = errors.New("api: no refresh token stored")

// Session is the token holder the client reads from and writes to.
type Session interface {
	AccessToken() string
	RefreshToken() string
	Login(ctx context.Context, user users.UserProfile, accessToken, refreshToken string) error
	Logout(ctx context.Context) error
	ForceClear(ctx context.Context)
}

// Navigator moves the user to another screen after a forced logout.
type Navigator interface {
	CurrentPath() string
	Navigate(path string)
}

// Error is a failure reported by the server.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api: %d: %s", e.Status, e.Message)
}

// IsQuotaExceeded reports whether err is the generation quota rejection.
func IsQuotaExceeded(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusForbidden && apiErr.Code == codeQuotaExceeded
}

const (
	codeTokenExpired  = "TOKEN_EXPIRED"
	codeQuotaExceeded = "QUOTA_EXCEEDED"
)

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithTimeouts(request, refresh time.Duration) Option {
	return func(c *Client) {
		c.requestTimeout = request
		c.refreshTimeout = refresh
	}
}

func WithNavigator(nav Navigator) Option {
	return func(c *Client) { c.nav = nav }
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

type refreshCall struct {
	done  chan struct{}
	token string
	err   error
}

type Client struct {
	baseURL        string
	http           *http.Client
	session        Session
	nav            Navigator
	requestTimeout time.Duration
	refreshTimeout time.Duration
	log            zerolog.Logger

	mu       sync.Mutex
	inflight *refreshCall
}

func NewClient(baseURL string, session Session, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &http.Client{},
		session:        session,
		requestTimeout: DefaultRequestTimeout,
		refreshTimeout: DefaultRefreshTimeout,
		log:            zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.refreshTimeout >= c.requestTimeout {
		return nil, errors.New("api: refresh timeout must be shorter than request timeout")
	}
	return c, nil
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

func parseError(status int, data []byte) *Error {
	var body errorBody
	_ = json.Unmarshal(data, &body)
	msg := body.Message
	if msg == "" {
		msg = body.Error
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &Error{Status: status, Code: body.Code, Message: msg}
}

func isAuthPath(path string) bool {
	return strings.HasPrefix(path, authPathPrefix)
}

func isTokenFailure(e *Error) bool {
	return e.Status == http.StatusUnauthorized &&
		(e.Code == codeTokenExpired || strings.Contains(strings.ToLower(e.Message), "token"))
}

// send performs one attempt. The payload is kept as bytes so a replay sends
// the same body.
func (c *Client) send(ctx context.Context, method, path string, payload []byte, token string, timeout time.Duration) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, data, nil
}

// Do sends a JSON request and decodes a successful response into out.
func (c *Client) Do(ctx context.Context, method, path string, in, out interface{}) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("api: encode request: %w", err)
		}
	}

	token := c.session.AccessToken()
	retried := false
	for {
		status, data, err := c.send(ctx, method, path, payload, token, c.requestTimeout)
		if err != nil {
			return err
		}
		if status < http.StatusBadRequest {
			if out == nil || len(data) == 0 {
				return nil
			}
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("api: decode response: %w", err)
			}
			return nil
		}

		apiErr := parseError(status, data)
		if isAuthPath(path) {
			return apiErr
		}

		if !retried && isTokenFailure(apiErr) {
			retried = true
			token, err = c.refresh(ctx, token)
			if err != nil {
				return err
			}
			continue
		}

		if (status == http.StatusUnauthorized || status == http.StatusForbidden) && apiErr.Code != codeQuotaExceeded {
			c.log.Warn().Int("status", status).Str("code", apiErr.Code).Str("path", path).Msg("request rejected, ending session")
			c.endSession(ctx)
		}
		return apiErr
	}
}

// refresh returns a usable access token, starting at most one refresh call
// at a time. sent is the token the failed request carried; if the session
// already holds a newer one it is returned without asking the server.
func (c *Client) refresh(ctx context.Context, sent string) (string, error) {
	c.mu.Lock()
	if call := c.inflight; call != nil {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.token, call.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if current := c.session.AccessToken(); current != "" && current != sent {
		c.mu.Unlock()
		return current, nil
	}
	call := &refreshCall{done: make(chan struct{})}
	c.inflight = call
	c.mu.Unlock()

	// The refresh outlives the caller that started it; waiters depend on it.
	call.token, call.err = c.doRefresh(context.WithoutCancel(ctx))

	c.mu.Lock()
	c.inflight = nil
	c.mu.Unlock()
	close(call.done)

	return call.token, call.err
}

func (c *Client) doRefresh(ctx context.Context) (string, error) {
	refreshToken := c.session.RefreshToken()
	if refreshToken == "" {
		// Nothing to refresh with: drop what is left but stay on the
		// current screen.
		c.session.ForceClear(ctx)
		return "", ErrNoRefreshToken
	}

	payload, err := json.Marshal(users.RefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return "", err
	}
	status, data, err := c.send(ctx, http.MethodPost, refreshPath, payload, "", c.refreshTimeout)
	if err == nil && status >= http.StatusBadRequest {
		err = parseError(status, data)
	}

	var out users.AuthResponse
	if err == nil {
		if uerr := json.Unmarshal(data, &out); uerr != nil {
			err = fmt.Errorf("api: decode refresh response: %w", uerr)
		}
	}
	if err == nil {
		err = c.session.Login(ctx, out.User, out.AccessToken, out.RefreshToken)
	}
	if err != nil {
		c.log.Warn().Err(err).Msg("token refresh failed")
		c.endSession(ctx)
		return "", err
	}

	c.log.Debug().Msg("token pair refreshed")
	return out.AccessToken, nil
}

// endSession clears local state and sends the user to the login screen
// unless they are already on a page that needs no session.
func (c *Client) endSession(ctx context.Context) {
	c.session.ForceClear(ctx)
	if c.nav == nil {
		return
	}
	switch c.nav.CurrentPath() {
	case LoginPath, RegisterPath:
	default:
		c.nav.Navigate(LoginPath)
	}
}
