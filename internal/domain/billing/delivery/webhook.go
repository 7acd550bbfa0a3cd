package delivery

import (
	"io"
	"net/http"

	"github.com/JakeRemmich/AutoHotKey/pkg/middleware"
	"github.com/JakeRemmich/AutoHotKey/pkg/response"
	"github.com/labstack/echo/v4"
)

const (
	signatureHeader = "Stripe-Signature"
	maxWebhookBody  = 64 << 10
)

// HandleWebhook handles POST /api/stripe-webhook. The signature covers the
// exact bytes received, so the body is read raw and never bound.
func (h *Handler) HandleWebhook(c echo.Context) error {
	logger := middleware.GetLogger(c)

	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to read webhook body")
		return response.ErrorWithCode(c, http.StatusBadRequest, response.CodeInvalidSignature, "Unable to read webhook body")
	}

	if err := h.usecase.HandleWebhook(c.Request().Context(), payload, c.Request().Header.Get(signatureHeader)); err != nil {
		return response.FromError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"received": true})
}
