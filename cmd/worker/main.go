package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	billingRepository "github.com/JakeRemmich/AutoHotKey/internal/domain/billing/repository"
	billingUsecase "github.com/JakeRemmich/AutoHotKey/internal/domain/billing/usecase"
	"github.com/JakeRemmich/AutoHotKey/internal/domain/users/repository"
	"github.com/JakeRemmich/AutoHotKey/internal/platform/config"
	"github.com/JakeRemmich/AutoHotKey/internal/platform/database"
	"github.com/JakeRemmich/AutoHotKey/internal/platform/payment"
	"github.com/JakeRemmich/AutoHotKey/internal/platform/queue"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

func main() {
	// Setup zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zlog.Logger = zlog.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	zlog.Info().Msg("Starting AutoHotkey Billing Worker...")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.InitMySQL(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get database instance: %v", err)
	}
	defer sqlDB.Close()

	initCtx, initCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer initCancel()

	redisClient, err := queue.InitRedis(initCtx, cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	billingQueue := queue.NewRedisQueue(redisClient, cfg.Queue)

	// The worker only applies events, it never publishes; no queue is
	// passed so nothing loops back onto the list.
	billingUC := billingUsecase.NewUsecase(
		repository.NewUser(db),
		billingRepository.NewPlan(db),
		payment.NewStripeService(cfg.Stripe),
		nil,
		billingUsecase.Options{},
		zlog.Logger.With().Str("component", "billing").Logger(),
	)

	processor := NewEventProcessor(billingQueue, billingUC,
		RetryPolicy{MaxAttempts: cfg.Queue.MaxAttempts, Delay: cfg.Queue.RetryDelay},
		zlog.Logger.With().Str("component", "worker").Logger())

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	processorDone := make(chan error, 1)
	go func() {
		processorDone <- processor.Start(workerCtx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case <-quit:
		zlog.Info().Msg("Received shutdown signal, stopping worker...")
		cancel()

		select {
		case err := <-processorDone:
			if err != nil && !errors.Is(err, context.Canceled) {
				zlog.Error().Err(err).Msg("Worker stopped with error")
			} else {
				zlog.Info().Msg("Worker stopped gracefully")
			}
		case <-time.After(30 * time.Second):
			zlog.Warn().Msg("Worker shutdown timeout, forcing exit")
		}
	case err := <-processorDone:
		if err != nil {
			zlog.Fatal().Err(err).Msg("Worker stopped with error")
		}
	}

	zlog.Info().Msg("Worker exited")
}
