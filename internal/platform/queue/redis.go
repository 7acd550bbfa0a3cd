package queue

import (
	"context"
	"fmt"

	"github.com/JakeRemmich/AutoHotKey/internal/platform/config"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// InitRedis connects to Redis and verifies the connection.
func InitRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	addr := fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("error verifying Redis connection: %w", err)
	}

	log.Info().Str("addr", addr).Msg("Redis connection established")
	return client, nil
}
