package delivery

import (
	"context"
	"net/http"

	"github.com/JakeRemmich/AutoHotKey/internal/domain/scripts"
	"github.com/JakeRemmich/AutoHotKey/internal/domain/users"
	"github.com/JakeRemmich/AutoHotKey/pkg/jwt"
	"github.com/JakeRemmich/AutoHotKey/pkg/middleware"
	"github.com/JakeRemmich/AutoHotKey/pkg/response"
	"github.com/labstack/echo/v4"
)

type ScriptUsecase interface {
	Generate(ctx context.Context, user *users.User, req scripts.GenerateRequest) (*scripts.GenerateResponse, error)
	Save(ctx context.Context, user *users.User, req scripts.SaveRequest) (*scripts.SaveResponse, error)
	History(ctx context.Context, user *users.User) ([]scripts.Script, error)
	Update(ctx context.Context, user *users.User, id string, req scripts.UpdateRequest) error
	Delete(ctx context.Context, user *users.User, id string) error
	Download(ctx context.Context, user *users.User, id string) (*scripts.DownloadResponse, error)
}

type Handler struct {
	usecase ScriptUsecase
}

func NewHandler(usecase ScriptUsecase) *Handler {
	return &Handler{usecase: usecase}
}

func currentUser(c echo.Context) (*users.User, error) {
	user, err := jwt.GetUserFromContext(c)
	if err != nil {
		return nil, response.NewCodedError(http.StatusUnauthorized, response.CodeAuthRequired, "Access token required")
	}
	return user, nil
}

func (h *Handler) Generate(c echo.Context) error {
	logger := middleware.GetLogger(c)

	user, err := currentUser(c)
	if err != nil {
		return response.FromError(c, err)
	}

	var req scripts.GenerateRequest
	if err := c.Bind(&req); err != nil {
		return response.ErrorWithCode(c, http.StatusBadRequest, response.CodeValidationFailed, "Invalid request body")
	}

	result, err := h.usecase.Generate(c.Request().Context(), user, req)
	if err != nil {
		logger.Warn().Err(err).Str("user_id", user.ExtID).Msg("Script generation rejected")
		return response.FromError(c, err)
	}

	return response.Success(c, http.StatusOK, "Script generated", result)
}

func (h *Handler) Save(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return response.FromError(c, err)
	}

	var req scripts.SaveRequest
	if err := c.Bind(&req); err != nil {
		return response.ErrorWithCode(c, http.StatusBadRequest, response.CodeValidationFailed, "Invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return response.ErrorWithCode(c, http.StatusBadRequest, response.CodeValidationFailed, err.Error())
	}

	result, err := h.usecase.Save(c.Request().Context(), user, req)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, http.StatusCreated, "Script saved", result)
}

func (h *Handler) History(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return response.FromError(c, err)
	}

	result, err := h.usecase.History(c.Request().Context(), user)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, http.StatusOK, "", result)
}

func (h *Handler) Update(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return response.FromError(c, err)
	}

	var req scripts.UpdateRequest
	if err := c.Bind(&req); err != nil {
		return response.ErrorWithCode(c, http.StatusBadRequest, response.CodeValidationFailed, "Invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return response.ErrorWithCode(c, http.StatusBadRequest, response.CodeValidationFailed, err.Error())
	}

	if err := h.usecase.Update(c.Request().Context(), user, c.Param("id"), req); err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, http.StatusOK, "Script updated", nil)
}

func (h *Handler) Delete(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return response.FromError(c, err)
	}

	if err := h.usecase.Delete(c.Request().Context(), user, c.Param("id")); err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, http.StatusOK, "Script deleted", nil)
}

func (h *Handler) Download(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return response.FromError(c, err)
	}

	result, err := h.usecase.Download(c.Request().Context(), user, c.Param("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, http.StatusOK, "", result)
}
