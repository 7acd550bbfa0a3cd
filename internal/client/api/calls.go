package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/JakeRemmich/AutoHotKey/internal/domain/scripts"
	"github.com/JakeRemmich/AutoHotKey/internal/domain/users"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// doData calls an endpoint that wraps its payload in {success, message, data}.
func (c *Client) doData(ctx context.Context, method, path string, in, out interface{}) error {
	var env envelope
	if err := c.Do(ctx, method, path, in, &env); err != nil {
		return err
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("api: decode response data: %w", err)
	}
	return nil
}

func (c *Client) authenticate(ctx context.Context, path string, in interface{}) (*users.UserProfile, error) {
	var out users.AuthResponse
	if err := c.Do(ctx, http.MethodPost, path, in, &out); err != nil {
		return nil, err
	}
	if err := c.session.Login(ctx, out.User, out.AccessToken, out.RefreshToken); err != nil {
		return nil, err
	}
	return &out.User, nil
}

func (c *Client) Register(ctx context.Context, email, password string) (*users.UserProfile, error) {
	return c.authenticate(ctx, "/api/auth/register", users.RegisterRequest{Email: email, Password: password})
}

func (c *Client) Login(ctx context.Context, email, password string) (*users.UserProfile, error) {
	return c.authenticate(ctx, "/api/auth/login", users.LoginRequest{Email: email, Password: password})
}

// Logout revokes the refresh token server side when possible. Local state
// is cleared regardless of the outcome.
func (c *Client) Logout(ctx context.Context) error {
	if rt := c.session.RefreshToken(); rt != "" {
		if err := c.Do(ctx, http.MethodPost, "/api/auth/logout", users.LogoutRequest{RefreshToken: rt}, nil); err != nil {
			c.log.Warn().Err(err).Msg("server logout failed")
		}
	}
	return c.session.Logout(ctx)
}

func (c *Client) UpdatePassword(ctx context.Context, current, next string) error {
	var out users.AuthResponse
	req := users.UpdatePasswordRequest{CurrentPassword: current, NewPassword: next}
	if err := c.Do(ctx, http.MethodPut, "/api/auth/update-password", req, &out); err != nil {
		return err
	}
	if out.AccessToken == "" {
		return nil
	}
	return c.session.Login(ctx, out.User, out.AccessToken, out.RefreshToken)
}

func (c *Client) Account(ctx context.Context) (*users.AccountResponse, error) {
	var out users.AccountResponse
	if err := c.Do(ctx, http.MethodGet, "/api/user", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Generate(ctx context.Context, description string) (string, error) {
	var out scripts.GenerateResponse
	if err := c.doData(ctx, http.MethodPost, "/api/scripts/generate", scripts.GenerateRequest{Description: description}, &out); err != nil {
		return "", err
	}
	return out.Script, nil
}

func (c *Client) SaveScript(ctx context.Context, req scripts.SaveRequest) (string, error) {
	var out scripts.SaveResponse
	if err := c.doData(ctx, http.MethodPost, "/api/scripts/save", req, &out); err != nil {
		return "", err
	}
	return out.ScriptID, nil
}

func (c *Client) History(ctx context.Context) ([]scripts.Script, error) {
	var out []scripts.Script
	if err := c.doData(ctx, http.MethodGet, "/api/scripts/history", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DownloadURL(ctx context.Context, scriptID string) (*scripts.DownloadResponse, error) {
	var out scripts.DownloadResponse
	if err := c.doData(ctx, http.MethodGet, "/api/scripts/"+url.PathEscape(scriptID)+"/download", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
