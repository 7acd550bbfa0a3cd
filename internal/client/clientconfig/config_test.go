package clientconfig

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

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5000", cfg.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 5*time.Second, cfg.RefreshTimeout)
	assert.Equal(t, "session.db", filepath.Base(cfg.SessionPath))
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ahkctl.yaml"), []byte("base_url: http://api.example\nrefresh_timeout: 2s\n"), 0o600))
	t.Setenv("AHKCTL_REQUEST_TIMEOUT", "4s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://api.example", cfg.BaseURL)
	assert.Equal(t, 2*time.Second, cfg.RefreshTimeout)
	assert.Equal(t, 4*time.Second, cfg.RequestTimeout)
}

func TestLoad_RejectsSlowRefresh(t *testing.T) {
	chdirTemp(t)
	t.Setenv("AHKCTL_REFRESH_TIMEOUT", "30s")

	_, err := Load()
	require.Error(t, err)
}
