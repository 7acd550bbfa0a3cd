package storage

import (
	"context"
	"fmt"

	"github.com/JakeRemmich/AutoHotKey/internal/platform/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// InitMinIO connects to MinIO and makes sure the scripts bucket exists.
func InitMinIO(ctx context.Context, cfg config.MinIOConfig) (*minio.Client, error) {
	minioClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("error initializing minio client: %w", err)
	}

	if err := ensureBucket(ctx, minioClient, cfg.BucketScripts); err != nil {
		return nil, err
	}
	return minioClient, nil
}

// ensureBucket is idempotent. The bucket stays private; downloads go
// through presigned URLs.
func ensureBucket(ctx context.Context, client *minio.Client, bucketName string) error {
	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("error checking bucket '%s': %w", bucketName, err)
	}
	if exists {
		return nil
	}

	if err := client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("error creating bucket '%s': %w", bucketName, err)
	}
	log.Info().Str("bucket", bucketName).Msg("Bucket created")
	return nil
}
