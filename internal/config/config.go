package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	// DatabaseURL selects the storage backend: Postgres when set, the
	// single-instance in-memory store when empty.
	DatabaseURL string `env:"DATABASE_URL"`

	// ServiceAuthToken is the shared credential the gateway presents on the
	// quota endpoints.
	ServiceAuthToken string `env:"SERVICE_AUTH_TOKEN,required"`

	GoogleClientID      string   `env:"GOOGLE_CLIENT_ID,required"`
	GoogleAllowedDomain string   `env:"GOOGLE_ALLOWED_DOMAIN,required"`
	GoogleAllowedEmails []string `env:"GOOGLE_ALLOWED_EMAILS,required"`

	Port        int      `env:"PORT,default=8080"`
	LogLevel    string   `env:"LOG_LEVEL,default=info"`
	CORSOrigins []string `env:"CORS_ORIGINS"`

	// IdempotencyTTL bounds how long a consume decision stays replayable.
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL,default=24h"`

	// TxMaxAttempts bounds serializable-transaction retries in the Postgres
	// quota backend before a 503 surfaces.
	TxMaxAttempts int `env:"TX_MAX_ATTEMPTS,default=4"`

	DefaultRequestsPerMinute int `env:"DEFAULT_REQUESTS_PER_MINUTE,default=60"`
	DefaultRequestsPerDay    int `env:"DEFAULT_REQUESTS_PER_DAY,default=10000"`

	// HTTP server timeouts
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT,default=15s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT,default=30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT,default=60s"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.IdempotencyTTL <= 0 {
		return fmt.Errorf("IDEMPOTENCY_TTL must be positive, got %s", c.IdempotencyTTL)
	}
	if c.TxMaxAttempts < 1 || c.TxMaxAttempts > 10 {
		return fmt.Errorf("TX_MAX_ATTEMPTS must be between 1 and 10, got %d", c.TxMaxAttempts)
	}
	if c.DefaultRequestsPerMinute < 1 || c.DefaultRequestsPerDay < 1 {
		return fmt.Errorf("default limits must be positive")
	}
	return nil
}

// UsesPostgres reports whether the transactional backend is configured.
func (c *Config) UsesPostgres() bool {
	return c.DatabaseURL != ""
}
