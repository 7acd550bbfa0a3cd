package metrics

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ahk_http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ahk_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	ScriptGenerations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ahk_script_generations_total",
		Help: "Script generation attempts by plan and outcome.",
	}, []string{"plan", "outcome"})

	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ahk_token_refreshes_total",
		Help: "Refresh token exchanges by outcome.",
	}, []string{"outcome"})

	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ahk_billing_events_total",
		Help: "Billing events by type and outcome.",
	}, []string{"type", "outcome"})
)

// Handler exposes the default registry on an echo route.
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}
