package main

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	billingDelivery "github.com/JakeRemmich/AutoHotKey/internal/domain/billing/delivery"
	scriptDelivery "github.com/JakeRemmich/AutoHotKey/internal/domain/scripts/delivery"
	userDelivery "github.com/JakeRemmich/AutoHotKey/internal/domain/users/delivery"
	"github.com/JakeRemmich/AutoHotKey/internal/platform/metrics"
	"github.com/JakeRemmich/AutoHotKey/pkg/jwt"
	appMiddleware "github.com/JakeRemmich/AutoHotKey/pkg/middleware"
	"github.com/JakeRemmich/AutoHotKey/pkg/response"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type healthCheck func(ctx context.Context) error

type routeDeps struct {
	cors     []string
	auth     *jwt.Authenticator
	users    *userDelivery.Handler
	scripts  *scriptDelivery.Handler
	billing  *billingDelivery.Handler
	checkers map[string]healthCheck
}

func healthCheckers(sqlDB *sql.DB, mongoClient *mongodriver.Client, redisClient *redis.Client) map[string]healthCheck {
	return map[string]healthCheck{
		"mysql": sqlDB.PingContext,
		"mongo": func(ctx context.Context) error { return mongoClient.Ping(ctx, readpref.Primary()) },
		"redis": func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	}
}

func health(checkers map[string]healthCheck) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		deps := map[string]string{}
		for name, check := range checkers {
			if err := check(ctx); err != nil {
				deps[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			deps[name] = "ok"
		}

		state := "ok"
		if status != http.StatusOK {
			state = "degraded"
		}
		return c.JSON(status, map[string]interface{}{"status": state, "dependencies": deps})
	}
}

func setupRoutes(e *echo.Echo, d routeDeps) {
	// Middleware
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     d.cors,
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		AllowCredentials: true,
	}))

	e.HTTPErrorHandler = response.CustomErrorHandler

	e.GET("/health", health(d.checkers))
	e.GET("/metrics", metrics.Handler())

	requireAuth := d.auth.Middleware()
	api := e.Group("/api")

	// Auth routes
	auth := api.Group("/auth")
	{
		auth.POST("/register", d.users.Register)
		auth.POST("/login", d.users.Login)
		auth.POST("/refresh", d.users.Refresh)
		auth.POST("/logout", d.users.Logout)
		auth.PUT("/update-password", d.users.UpdatePassword, requireAuth)
		auth.PUT("/update-email", d.users.UpdateEmail, requireAuth)
	}

	api.GET("/user", d.users.GetMe, requireAuth)

	// Script routes
	scripts := api.Group("/scripts", requireAuth)
	{
		scripts.POST("/generate", d.scripts.Generate)
		scripts.POST("/save", d.scripts.Save)
		scripts.GET("/history", d.scripts.History)
		scripts.PUT("/:id", d.scripts.Update)
		scripts.DELETE("/:id", d.scripts.Delete)
		scripts.GET("/:id/download", d.scripts.Download)
	}

	// Billing routes
	api.GET("/subscription-plans", d.billing.ListPlans)
	api.POST("/checkout-sessions", d.billing.Checkout, requireAuth)
	api.GET("/subscriptions/status", d.billing.Status, requireAuth)
	api.POST("/subscriptions/cancel", d.billing.Cancel, requireAuth)

	// Signed by the billing provider, no bearer token
	api.POST("/stripe-webhook", d.billing.HandleWebhook)

	// Admin routes (JWT + role re-read from the loaded user)
	adminOnly := []echo.MiddlewareFunc{requireAuth, appMiddleware.AdminOnly()}
	api.GET("/admin/subscription-plans", d.billing.ListAllPlans, adminOnly...)
	api.POST("/subscription-plans", d.billing.CreatePlan, adminOnly...)
	api.PUT("/subscription-plans/:id", d.billing.UpdatePlan, adminOnly...)
	api.DELETE("/subscription-plans/:id", d.billing.DeletePlan, adminOnly...)
}
