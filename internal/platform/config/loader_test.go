package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := chdirTemp(t)
	yaml := []byte(`
server:
  port: "8081"
jwt:
  access_secret: "file-access"
  refresh_secret: "file-refresh"
billing:
  admin_emails: ["Boss@Example.com"]
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app-config.yaml"), yaml, 0o600))
	t.Setenv("AHK_JWT_REFRESH_SECRET", "env-refresh")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8081", cfg.Server.Port)
	assert.Equal(t, "file-access", cfg.JWT.AccessSecret)
	assert.Equal(t, "env-refresh", cfg.JWT.RefreshSecret)
	assert.Equal(t, 15*time.Minute, cfg.JWT.AccessTokenExpiry)
	assert.Equal(t, 7*24*time.Hour, cfg.JWT.RefreshTokenExpiry)
	assert.Equal(t, []string{"boss@example.com"}, cfg.Billing.AdminEmails)
	assert.Equal(t, "billing:events", cfg.Queue.Name)
	assert.Equal(t, 3, cfg.LLM.MaxRetries)
}

func TestLoadConfig_MissingSecrets(t *testing.T) {
	chdirTemp(t)
	t.Setenv("AHK_JWT_ACCESS_SECRET", "")
	t.Setenv("AHK_JWT_REFRESH_SECRET", "")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestValidate_SameSecrets(t *testing.T) {
	cfg := Config{JWT: JWTConfig{
		AccessSecret: "same", RefreshSecret: "same",
		AccessTokenExpiry: time.Minute, RefreshTokenExpiry: time.Hour,
	}}
	require.Error(t, cfg.Validate())
}

func TestNormalizeList(t *testing.T) {
	assert.Equal(t, []string{"a@x.io", "b@y.io"}, normalizeList([]string{" A@x.io , b@y.io", ""}))
}
