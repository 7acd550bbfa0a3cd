package middleware

import (
	"strconv"
	"time"

	"github.com/JakeRemmich/AutoHotKey/internal/platform/metrics"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	headerRequestID = "X-Request-Id"
	ctxKeyLogger    = "logger"
)

// RequestID tags every request with an id, stores a child logger carrying it
// and records the outcome once the handler returns.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			requestID := req.Header.Get(headerRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
				req.Header.Set(headerRequestID, requestID)
			}
			c.Response().Header().Set(headerRequestID, requestID)

			logger := log.With().
				Str("request_id", requestID).
				Logger()
			c.Set(ctxKeyLogger, &logger)

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			elapsed := time.Since(start)

			metrics.HTTPRequests.WithLabelValues(req.Method, route, strconv.Itoa(status)).Inc()
			metrics.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())

			logger.Info().
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("remote_ip", c.RealIP()).
				Int("status", status).
				Dur("latency", elapsed).
				Msg("request handled")

			return nil
		}
	}
}

// GetLogger retrieves the logger from echo context
// If not found, returns the default logger
func GetLogger(c echo.Context) *zerolog.Logger {
	if logger, ok := c.Get(ctxKeyLogger).(*zerolog.Logger); ok {
		return logger
	}
	return &log.Logger
}

func GetRequestID(c echo.Context) string {
	return c.Request().Header.Get(headerRequestID)
}
