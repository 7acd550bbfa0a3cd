package mongo

import (
	"context"
	"fmt"

	"github.com/JakeRemmich/AutoHotKey/internal/platform/config"
	"github.com/rs/zerolog/log"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// InitMongo connects to MongoDB, pings the primary and returns the client
// together with the configured database.
func InitMongo(ctx context.Context, cfg config.MongoConfig) (*mongodriver.Client, *mongodriver.Database, error) {
	if cfg.URI == "" {
		return nil, nil, fmt.Errorf("mongo: empty uri")
	}
	if cfg.Database == "" {
		return nil, nil, fmt.Errorf("mongo: empty database name")
	}

	cli, err := mongodriver.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}

	if err := cli.Ping(ctx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("mongo ping: %w", err)
	}

	log.Info().Str("database", cfg.Database).Msg("MongoDB connection established")
	return cli, cli.Database(cfg.Database), nil
}
