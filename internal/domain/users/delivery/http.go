package delivery

import (
	"context"
	"net/http"

	"github.com/JakeRemmich/AutoHotKey/internal/domain/users"
	"github.com/JakeRemmich/AutoHotKey/pkg/jwt"
	"github.com/JakeRemmich/AutoHotKey/pkg/middleware"
	"github.com/JakeRemmich/AutoHotKey/pkg/response"
	"github.com/labstack/echo/v4"
)

type UserUsecase interface {
	Register(ctx context.Context, payload users.RegisterRequest) (*users.AuthResponse, error)
	Login(ctx context.Context, payload users.LoginRequest) (*users.AuthResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*users.AuthResponse, error)
	Logout(ctx context.Context, refreshToken string)
	UpdatePassword(ctx context.Context, user *users.User, payload users.UpdatePasswordRequest) (*users.AuthResponse, error)
	UpdateEmail(ctx context.Context, user *users.User, payload users.UpdateEmailRequest) (*users.UserResponse, error)
	Account(user *users.User) *users.AccountResponse
}

type Handler struct {
	usecase UserUsecase
}

func NewHandler(usecase UserUsecase) *Handler {
	return &Handler{
		usecase: usecase,
	}
}

func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return response.NewCodedError(http.StatusBadRequest, response.CodeValidationFailed, "Invalid request body")
	}
	if err := c.Validate(req); err != nil {
		return response.NewCodedError(http.StatusBadRequest, response.CodeValidationFailed, err.Error())
	}
	return nil
}

func (h *Handler) Register(c echo.Context) error {
	logger := middleware.GetLogger(c)

	var req users.RegisterRequest
	if err := bindAndValidate(c, &req); err != nil {
		logger.Warn().Err(err).Msg("Register validation failed")
		return response.FromError(c, err)
	}

	result, err := h.usecase.Register(c.Request().Context(), req)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to register user")
		return response.FromError(c, err)
	}

	logger.Info().Str("user_id", result.User.ID).Msg("User registered successfully")
	return c.JSON(http.StatusCreated, result)
}

func (h *Handler) Login(c echo.Context) error {
	logger := middleware.GetLogger(c)

	var req users.LoginRequest
	if err := bindAndValidate(c, &req); err != nil {
		return response.FromError(c, err)
	}

	result, err := h.usecase.Login(c.Request().Context(), req)
	if err != nil {
		logger.Warn().Err(err).Msg("Login failed")
		return response.FromError(c, err)
	}

	logger.Info().Str("user_id", result.User.ID).Msg("User logged in successfully")
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) Refresh(c echo.Context) error {
	var req users.RefreshRequest
	if err := c.Bind(&req); err != nil {
		return response.ErrorWithCode(c, http.StatusUnauthorized, response.CodeMissingRefreshToken, "Refresh token required")
	}

	result, err := h.usecase.Refresh(c.Request().Context(), req.RefreshToken)
	if err != nil {
		return response.FromError(c, err)
	}

	return c.JSON(http.StatusOK, result)
}

// Logout always answers 200 so a client can drop its session unconditionally.
func (h *Handler) Logout(c echo.Context) error {
	var req users.LogoutRequest
	_ = c.Bind(&req)

	h.usecase.Logout(c.Request().Context(), req.RefreshToken)
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) UpdatePassword(c echo.Context) error {
	logger := middleware.GetLogger(c)

	user, err := jwt.GetUserFromContext(c)
	if err != nil {
		return response.ErrorWithCode(c, http.StatusUnauthorized, response.CodeAuthRequired, "Access token required")
	}

	var req users.UpdatePasswordRequest
	if err := bindAndValidate(c, &req); err != nil {
		return response.FromError(c, err)
	}

	result, err := h.usecase.UpdatePassword(c.Request().Context(), user, req)
	if err != nil {
		logger.Warn().Err(err).Str("user_id", user.ExtID).Msg("Failed to update password")
		return response.FromError(c, err)
	}

	return c.JSON(http.StatusOK, result)
}

func (h *Handler) UpdateEmail(c echo.Context) error {
	logger := middleware.GetLogger(c)

	user, err := jwt.GetUserFromContext(c)
	if err != nil {
		return response.ErrorWithCode(c, http.StatusUnauthorized, response.CodeAuthRequired, "Access token required")
	}

	var req users.UpdateEmailRequest
	if err := bindAndValidate(c, &req); err != nil {
		return response.FromError(c, err)
	}

	result, err := h.usecase.UpdateEmail(c.Request().Context(), user, req)
	if err != nil {
		logger.Warn().Err(err).Str("user_id", user.ExtID).Msg("Failed to update email")
		return response.FromError(c, err)
	}

	return c.JSON(http.StatusOK, result)
}

func (h *Handler) GetMe(c echo.Context) error {
	user, err := jwt.GetUserFromContext(c)
	if err != nil {
		return response.ErrorWithCode(c, http.StatusUnauthorized, response.CodeAuthRequired, "Access token required")
	}

	return c.JSON(http.StatusOK, h.usecase.Account(user))
}
