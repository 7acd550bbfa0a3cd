// Package clientconfig loads settings for the ahkctl command line client.
package clientconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	BaseURL        string        `mapstructure:"base_url"`
	SessionPath    string        `mapstructure:"session_path"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RefreshTimeout time.Duration `mapstructure:"refresh_timeout"`
	LogLevel       string        `mapstructure:"log_level"`
}

func defaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "ahkctl", "session.db")
}

// Load reads ahkctl.yaml from the working directory or the user config
// directory. AHKCTL_ prefixed variables override file values.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("ahkctl")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, "ahkctl"))
	}
	v.SetEnvPrefix("AHKCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("base_url", "http://localhost:5000")
	v.SetDefault("session_path", defaultSessionPath())
	v.SetDefault("request_timeout", "10s")
	v.SetDefault("refresh_timeout", "5s")
	v.SetDefault("log_level", "warn")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read ahkctl config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode ahkctl config: %w", err)
	}
	if cfg.RefreshTimeout >= cfg.RequestTimeout {
		return nil, errors.New("ahkctl config: refresh_timeout must be shorter than request_timeout")
	}
	return &cfg, nil
}
