package storage

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
)

const scriptContentType = "text/plain; charset=utf-8"

// ScriptStore exports saved scripts as .ahk objects.
type ScriptStore struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

func NewScriptStore(client *minio.Client, bucket string, expiry time.Duration) *ScriptStore {
	return &ScriptStore{
		client: client,
		bucket: bucket,
		expiry: expiry,
	}
}

// ObjectKey is where a user's script export lives.
func ObjectKey(userID, scriptID string) string {
	return path.Join("scripts", userID, scriptID+".ahk")
}

// FileName turns a script name into a safe download name.
func FileName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ' || r == '.':
			return '_'
		}
		return -1
	}, strings.TrimSpace(name))
	if name == "" {
		name = "script"
	}
	return name + ".ahk"
}

// Export uploads the script body and returns a presigned download URL valid
// for the configured expiry.
func (s *ScriptStore) Export(ctx context.Context, key, fileName, body string) (string, time.Time, error) {
	_, err := s.client.PutObject(ctx, s.bucket, key, strings.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType:        scriptContentType,
		ContentDisposition: fmt.Sprintf("attachment; filename=%q", fileName),
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to upload script to MinIO: %w", err)
	}

	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	expiresAt := time.Now().Add(s.expiry)
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.expiry, params)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to presign script url: %w", err)
	}
	return u.String(), expiresAt, nil
}

// Remove deletes an export. Missing objects are not an error.
func (s *ScriptStore) Remove(ctx context.Context, key string) error {
	return s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
}
