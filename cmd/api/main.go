package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JakeRemmich/AutoHotKey/internal/domain/billing"
	billingDelivery "github.com/JakeRemmich/AutoHotKey/internal/domain/billing/delivery"
	billingRepository "github.com/JakeRemmich/AutoHotKey/internal/domain/billing/repository"
	billingUsecase "github.com/JakeRemmich/AutoHotKey/internal/domain/billing/usecase"
	scriptDelivery "github.com/JakeRemmich/AutoHotKey/internal/domain/scripts/delivery"
	scriptRepository "github.com/JakeRemmich/AutoHotKey/internal/domain/scripts/repository"
	scriptUsecase "github.com/JakeRemmich/AutoHotKey/internal/domain/scripts/usecase"
	"github.com/JakeRemmich/AutoHotKey/internal/domain/usage"
	usageUsecase "github.com/JakeRemmich/AutoHotKey/internal/domain/usage/usecase"
	"github.com/JakeRemmich/AutoHotKey/internal/domain/users"
	"github.com/JakeRemmich/AutoHotKey/internal/domain/users/delivery"
	"github.com/JakeRemmich/AutoHotKey/internal/domain/users/repository"
	"github.com/JakeRemmich/AutoHotKey/internal/domain/users/usecase"
	"github.com/JakeRemmich/AutoHotKey/internal/platform/config"
	"github.com/JakeRemmich/AutoHotKey/internal/platform/database"
	"github.com/JakeRemmich/AutoHotKey/internal/platform/llm"
	platformmongo "github.com/JakeRemmich/AutoHotKey/internal/platform/mongo"
	"github.com/JakeRemmich/AutoHotKey/internal/platform/payment"
	"github.com/JakeRemmich/AutoHotKey/internal/platform/queue"
	"github.com/JakeRemmich/AutoHotKey/internal/platform/storage"
	"github.com/JakeRemmich/AutoHotKey/pkg/jwt"
	"github.com/JakeRemmich/AutoHotKey/pkg/middleware"
	customValidator "github.com/JakeRemmich/AutoHotKey/pkg/validator"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

func main() {
	// Setup zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zlog.Logger = zlog.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	zlog.Info().Msg("Starting AutoHotkey API Server...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// MySQL holds accounts, the usage ledger and the plan catalogue
	db, err := database.InitMySQL(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get database instance: %v", err)
	}
	defer sqlDB.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db, &users.User{}, &billing.Plan{}); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
	}

	// MongoDB holds saved scripts
	mongoClient, mongoDB, err := platformmongo.InitMongo(ctx, cfg.Mongo)
	if err != nil {
		log.Fatalf("Failed to initialize MongoDB: %v", err)
	}
	defer func() { _ = mongoClient.Disconnect(context.Background()) }()

	redisClient, err := queue.InitRedis(ctx, cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	minioClient, err := storage.InitMinIO(ctx, cfg.MinIO)
	if err != nil {
		log.Fatalf("Failed to initialize MinIO: %v", err)
	}

	issuer, err := jwt.NewTokenIssuer(cfg.JWT.AccessSecret, cfg.JWT.RefreshSecret,
		jwt.WithTTL(cfg.JWT.AccessTokenExpiry, cfg.JWT.RefreshTokenExpiry))
	if err != nil {
		log.Fatalf("Failed to initialize token issuer: %v", err)
	}

	// Repositories
	userRepo := repository.NewUser(db)
	planRepo := billingRepository.NewPlan(db)
	scriptRepo := scriptRepository.NewScript(mongoDB)
	if err := scriptRepo.EnsureIndexes(ctx); err != nil {
		log.Fatalf("Failed to create script indexes: %v", err)
	}

	// Services
	appLog := zlog.Logger
	ledger := usageUsecase.NewLedger(userRepo, usage.NewAdminList(cfg.Billing.AdminEmails), appLog.With().Str("component", "ledger").Logger())
	generator := llm.NewClient(cfg.LLM, appLog.With().Str("component", "llm").Logger())
	scriptStore := storage.NewScriptStore(minioClient, cfg.MinIO.BucketScripts, cfg.MinIO.URLExpiry)
	stripeService := payment.NewStripeService(cfg.Stripe)
	billingQueue := queue.NewRedisQueue(redisClient, cfg.Queue)

	// Use cases
	userUC := usecase.NewUsecase(userRepo, issuer, ledger, appLog.With().Str("component", "users").Logger())
	scriptUC := scriptUsecase.NewUsecase(scriptRepo, generator, ledger, scriptStore, appLog.With().Str("component", "scripts").Logger())
	billingUC := billingUsecase.NewUsecase(userRepo, planRepo, stripeService, billingQueue, billingUsecase.Options{
		SuccessURL: cfg.Stripe.SuccessURL,
		CancelURL:  cfg.Stripe.CancelURL,
	}, appLog.With().Str("component", "billing").Logger())

	// Echo
	e := echo.New()
	e.HideBanner = true
	e.Validator = customValidator.New()
	e.Server.ReadTimeout = cfg.Server.ReadTimeout
	e.Server.WriteTimeout = cfg.Server.WriteTimeout
	e.Use(middleware.RequestID())

	setupRoutes(e, routeDeps{
		cors:     cfg.Server.CORSOrigins,
		auth:     jwt.NewAuthenticator(issuer, userRepo),
		users:    delivery.NewHandler(userUC),
		scripts:  scriptDelivery.NewHandler(scriptUC),
		billing:  billingDelivery.NewHandler(billingUC),
		checkers: healthCheckers(sqlDB, mongoClient, redisClient),
	})

	go func() {
		port := cfg.Server.Port
		zlog.Info().Str("port", port).Msg("Starting HTTP server")
		if err := e.Start(":" + port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Error().Err(err).Msg("Server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	zlog.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	zlog.Info().Msg("Server exited successfully")
}
