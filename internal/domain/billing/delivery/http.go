package delivery

import (
	"context"
	"net/http"
	"strconv"

	"github.com/JakeRemmich/AutoHotKey/internal/domain/billing"
	"github.com/JakeRemmich/AutoHotKey/internal/domain/users"
	"github.com/JakeRemmich/AutoHotKey/pkg/jwt"
	"github.com/JakeRemmich/AutoHotKey/pkg/middleware"
	"github.com/JakeRemmich/AutoHotKey/pkg/response"
	"github.com/labstack/echo/v4"
)

type BillingUsecase interface {
	ListPlans(ctx context.Context, activeOnly bool) ([]billing.Plan, error)
	CreatePlan(ctx context.Context, req billing.PlanRequest) (*billing.Plan, error)
	UpdatePlan(ctx context.Context, id int, req billing.PlanRequest) (*billing.Plan, error)
	DeletePlan(ctx context.Context, id int) error
	Checkout(ctx context.Context, user *users.User, req billing.CheckoutRequest) (*billing.CheckoutResponse, error)
	Status(ctx context.Context, user *users.User) (*billing.StatusResponse, error)
	Cancel(ctx context.Context, user *users.User) error
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

type Handler struct {
	usecase BillingUsecase
}

func NewHandler(usecase BillingUsecase) *Handler {
	return &Handler{usecase: usecase}
}

func currentUser(c echo.Context) (*users.User, error) {
	user, err := jwt.GetUserFromContext(c)
	if err != nil {
		return nil, response.NewCodedError(http.StatusUnauthorized, response.CodeAuthRequired, "Access token required")
	}
	return user, nil
}

func planID(c echo.Context) (int, error) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return 0, response.NewCodedError(http.StatusBadRequest, response.CodeValidationFailed, "Invalid plan id")
	}
	return id, nil
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

// ListPlans handles GET /api/subscription-plans. Only active plans are
// listed publicly; ListAllPlans is the admin view.
func (h *Handler) ListPlans(c echo.Context) error {
	result, err := h.usecase.ListPlans(c.Request().Context(), true)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, http.StatusOK, "", result)
}

func (h *Handler) ListAllPlans(c echo.Context) error {
	result, err := h.usecase.ListPlans(c.Request().Context(), false)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, http.StatusOK, "", result)
}

func (h *Handler) CreatePlan(c echo.Context) error {
	var req billing.PlanRequest
	if err := bindAndValidate(c, &req); err != nil {
		return response.FromError(c, err)
	}

	result, err := h.usecase.CreatePlan(c.Request().Context(), req)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, http.StatusCreated, "Subscription plan created", result)
}

func (h *Handler) UpdatePlan(c echo.Context) error {
	id, err := planID(c)
	if err != nil {
		return response.FromError(c, err)
	}
	var req billing.PlanRequest
	if err := bindAndValidate(c, &req); err != nil {
		return response.FromError(c, err)
	}

	result, err := h.usecase.UpdatePlan(c.Request().Context(), id, req)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, http.StatusOK, "Subscription plan updated", result)
}

func (h *Handler) DeletePlan(c echo.Context) error {
	id, err := planID(c)
	if err != nil {
		return response.FromError(c, err)
	}
	if err := h.usecase.DeletePlan(c.Request().Context(), id); err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, http.StatusOK, "Subscription plan deleted", nil)
}

func (h *Handler) Checkout(c echo.Context) error {
	logger := middleware.GetLogger(c)

	user, err := currentUser(c)
	if err != nil {
		return response.FromError(c, err)
	}
	var req billing.CheckoutRequest
	if err := bindAndValidate(c, &req); err != nil {
		return response.FromError(c, err)
	}

	result, err := h.usecase.Checkout(c.Request().Context(), user, req)
	if err != nil {
		logger.Error().Err(err).Str("user_id", user.ExtID).Int("plan_id", req.PlanID).Msg("Checkout failed")
		return response.FromError(c, err)
	}
	return response.Success(c, http.StatusOK, "", result)
}

func (h *Handler) Status(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return response.FromError(c, err)
	}

	result, err := h.usecase.Status(c.Request().Context(), user)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, http.StatusOK, "", result)
}

func (h *Handler) Cancel(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return response.FromError(c, err)
	}

	if err := h.usecase.Cancel(c.Request().Context(), user); err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, http.StatusOK, "Subscription will be canceled at the end of the current period", nil)
}
