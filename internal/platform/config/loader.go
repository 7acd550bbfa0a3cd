package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "5000")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", "3306")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("mongo.uri", "mongodb://127.0.0.1:27017")
	v.SetDefault("mongo.database", "autohotkey")

	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", "6379")

	v.SetDefault("queue.name", "billing:events")
	v.SetDefault("queue.dedup_ttl", "24h")
	v.SetDefault("queue.poll_timeout", "5s")
	v.SetDefault("queue.max_attempts", 5)
	v.SetDefault("queue.retry_delay", "2s")

	v.SetDefault("minio.bucket_scripts", "scripts")
	v.SetDefault("minio.url_expiry", "15m")

	v.SetDefault("jwt.access_token_expiry", "15m")
	v.SetDefault("jwt.refresh_token_expiry", "168h")

	v.SetDefault("llm.model", "gpt-3.5-turbo")
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.retry_delay", "1s")
}

// LoadConfig reads app-config.yaml from the working directory or ./config.
// Every key can be overridden with an AHK_ prefixed variable, for example
// AHK_JWT_ACCESS_SECRET. A .env file is loaded first when present.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Info().Msg("Loaded .env file")
	}

	v := viper.New()
	v.SetConfigName("app-config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("AHK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		log.Warn().Msg("app-config.yaml not found, using defaults and environment")
	}

	// AutomaticEnv only applies to keys viper already knows about.
	for _, key := range []string{
		"database.user", "database.password", "database.dbname",
		"redis.password", "minio.endpoint", "minio.access_key_id", "minio.secret_access_key",
		"jwt.access_secret", "jwt.refresh_secret",
		"stripe.secret_key", "stripe.webhook_secret", "stripe.success_url", "stripe.cancel_url",
		"llm.api_key", "llm.base_url", "billing.admin_emails",
	} {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Billing.AdminEmails = normalizeList(cfg.Billing.AdminEmails)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Info().Msg("Configuration loaded successfully")
	return &cfg, nil
}

// Validate rejects configurations the API cannot run with.
func (c *Config) Validate() error {
	if c.JWT.AccessSecret == "" || c.JWT.RefreshSecret == "" {
		return errors.New("config: jwt.access_secret and jwt.refresh_secret are required")
	}
	if c.JWT.AccessSecret == c.JWT.RefreshSecret {
		return errors.New("config: access and refresh secrets must differ")
	}
	if c.JWT.AccessTokenExpiry >= c.JWT.RefreshTokenExpiry {
		return errors.New("config: access token expiry must be shorter than refresh token expiry")
	}
	return nil
}

// normalizeList splits comma separated entries coming from the environment
// and lower-cases them.
func normalizeList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
