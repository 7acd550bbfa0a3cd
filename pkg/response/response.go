package response

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Machine-readable error codes. Clients branch on these, never on messages.
const (
	CodeAuthRequired        = "AUTH_REQUIRED"
	CodeInvalidToken        = "INVALID_TOKEN"
	CodeTokenExpired        = "TOKEN_EXPIRED"
	CodeUserNotFound        = "USER_NOT_FOUND"
	CodeAdminRequired       = "ADMIN_REQUIRED"
	CodeMissingRefreshToken = "MISSING_REFRESH_TOKEN"
	CodeInvalidRefreshToken = "INVALID_REFRESH_TOKEN"
	CodeInvalidCredentials  = "INVALID_CREDENTIALS"
	CodeEmailTaken          = "EMAIL_TAKEN"
	CodeValidationFailed    = "VALIDATION_FAILED"
	CodeQuotaExceeded       = "QUOTA_EXCEEDED"
	CodeNotFound            = "NOT_FOUND"
	CodeGenerationFailed    = "GENERATION_FAILED"
	CodeInvalidSignature    = "INVALID_SIGNATURE"
	CodeInternal            = "INTERNAL_ERROR"
)

type SuccessResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type ErrorResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Code    string      `json:"code,omitempty"`
	Errors  interface{} `json:"errors,omitempty"`
}

func Success(c echo.Context, code int, message string, data interface{}) error {
	return c.JSON(code, SuccessResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// Error writes a failure body without a machine code.
func Error(c echo.Context, code int, message string, errDetails interface{}) error {
	return c.JSON(code, ErrorResponse{
		Message: message,
		Errors:  errDetails,
	})
}

// ErrorWithCode writes a failure body carrying a machine-readable code.
func ErrorWithCode(c echo.Context, code int, errCode, message string) error {
	return c.JSON(code, ErrorResponse{
		Message: message,
		Code:    errCode,
	})
}

type APIError struct {
	Code    int
	ErrCode string
	Message string
	Details interface{}
}

func (e *APIError) Error() string {
	return e.Message
}

func NewError(code int, message string, details interface{}) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// NewCodedError builds an APIError with a machine code and no details.
func NewCodedError(code int, errCode, message string) *APIError {
	return &APIError{
		Code:    code,
		ErrCode: errCode,
		Message: message,
	}
}

// Write renders an APIError in the standard failure shape.
func Write(c echo.Context, apiErr *APIError) error {
	return c.JSON(apiErr.Code, ErrorResponse{
		Message: apiErr.Message,
		Code:    apiErr.ErrCode,
		Errors:  apiErr.Details,
	})
}

// FromError renders err, treating anything that is not an APIError as a 500.
// The underlying error text is never sent to the caller.
func FromError(c echo.Context, err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code >= http.StatusInternalServerError {
			return c.JSON(apiErr.Code, ErrorResponse{Message: apiErr.Message, Code: apiErr.ErrCode})
		}
		return Write(c, apiErr)
	}
	return ErrorWithCode(c, http.StatusInternalServerError, CodeInternal, "Internal server error")
}

func CustomErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		_ = FromError(c, apiErr)
		return
	}

	var echoErr *echo.HTTPError
	if errors.As(err, &echoErr) {
		var msg string
		if s, ok := echoErr.Message.(string); ok {
			msg = s
		} else {
			msg = http.StatusText(echoErr.Code)
		}
		_ = Error(c, echoErr.Code, msg, nil)
		return
	}
	c.Logger().Error(err)
	_ = ErrorWithCode(c, http.StatusInternalServerError, CodeInternal, "Internal server error")
}

func InternalServerError(err error) error {
	return &APIError{
		Code:    http.StatusInternalServerError,
		ErrCode: CodeInternal,
		Message: "Internal server error",
		Details: err,
	}
}
