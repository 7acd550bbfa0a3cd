package jwt

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/JakeRemmich/AutoHotKey/internal/domain/users"
	"github.com/JakeRemmich/AutoHotKey/pkg/constant"
	"github.com/JakeRemmich/AutoHotKey/pkg/response"
	"github.com/labstack/echo/v4"
)

// UserFinder loads the subject of a verified access token.
type UserFinder interface {
	FindUserByExtID(ctx context.Context, extID string) (*users.User, error)
}

// Authenticator guards routes with a bearer access token and re-loads the
// user from persistence on every request.
type Authenticator struct {
	issuer *TokenIssuer
	users  UserFinder
}

func NewAuthenticator(issuer *TokenIssuer, finder UserFinder) *Authenticator {
	return &Authenticator{issuer: issuer, users: finder}
}

func (a *Authenticator) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, ok := BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok {
				return response.ErrorWithCode(c, http.StatusUnauthorized, response.CodeAuthRequired, "Access token required")
			}

			claims, err := a.issuer.Verify(token, AccessToken)
			switch {
			case errors.Is(err, ErrTokenExpired):
				return response.ErrorWithCode(c, http.StatusUnauthorized, response.CodeTokenExpired, "Access token expired")
			case err != nil:
				return response.ErrorWithCode(c, http.StatusUnauthorized, response.CodeInvalidToken, "Invalid access token")
			}

			user, err := a.users.FindUserByExtID(c.Request().Context(), claims.UserID)
			if err != nil {
				c.Logger().Error(err)
				return response.ErrorWithCode(c, http.StatusInternalServerError, response.CodeInternal, "Internal server error")
			}
			if user == nil {
				return response.ErrorWithCode(c, http.StatusUnauthorized, response.CodeUserNotFound, "User not found")
			}

			c.Set(string(constant.CtxKeyUserExtID), user.ExtID)
			c.Set(string(constant.CtxKeyUser), user)
			return next(c)
		}
	}
}

// BearerToken extracts the credential from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

// GetUserFromContext returns the user attached by the middleware.
func GetUserFromContext(c echo.Context) (*users.User, error) {
	user, ok := c.Get(string(constant.CtxKeyUser)).(*users.User)
	if !ok || user == nil {
		return nil, errors.New("user not found in context")
	}
	return user, nil
}

// GetUserExtIDFromContext extracts user_ext_id from echo context
func GetUserExtIDFromContext(c echo.Context) (string, error) {
	userExtID, ok := c.Get(string(constant.CtxKeyUserExtID)).(string)
	if !ok || userExtID == "" {
		return "", errors.New("user_ext_id not found in context")
	}
	return userExtID, nil
}
