package middleware

import (
	"net/http"

	"github.com/JakeRemmich/AutoHotKey/internal/domain/users"
	"github.com/JakeRemmich/AutoHotKey/pkg/constant"
	"github.com/JakeRemmich/AutoHotKey/pkg/response"
	"github.com/labstack/echo/v4"
)

// AdminOnly rejects users whose stored role is not admin. It must run after
// the authenticator, which loads the user fresh from the database.
func AdminOnly() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user, ok := c.Get(string(constant.CtxKeyUser)).(*users.User)
			if !ok || user == nil {
				return response.ErrorWithCode(c, http.StatusUnauthorized, response.CodeAuthRequired, "Access token required")
			}

			if user.Role != constant.RoleAdmin {
				return response.ErrorWithCode(c, http.StatusForbidden, response.CodeAdminRequired, "Admin access required")
			}

			return next(c)
		}
	}
}
