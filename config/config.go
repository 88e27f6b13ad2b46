// Package config loads runtime configuration from the environment.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the server.
type Config struct {
	AppEnv          string        `envconfig:"APP_ENV" default:"development"`
	AppAddr         string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout  time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`

	DBPath string `envconfig:"DB_PATH" default:"freight.db"`

	// RedisAddr switches document/batch locking to Redis when set.
	RedisAddr string        `envconfig:"REDIS_ADDR"`
	LockTTL   time.Duration `envconfig:"LOCK_TTL" default:"30s"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	// LogFormat is json or console; empty picks one from AppEnv.
	LogFormat string `envconfig:"LOG_FORMAT"`

	SweepEnabled  bool          `envconfig:"SWEEP_ENABLED" default:"false"`
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"1h"`
	SweepRepair   bool          `envconfig:"SWEEP_REPAIR" default:"false"`

	// RateLimit is requests per minute per client IP; 0 disables it.
	RateLimit   int      `envconfig:"RATE_LIMIT" default:"600"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"*"`
}

// Load reads a .env file if one exists, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DBPath) == "" {
		return errors.New("DB_PATH must not be empty")
	}
	if c.SweepEnabled && c.SweepInterval <= 0 {
		return errors.New("SWEEP_INTERVAL must be positive when the sweep is enabled")
	}
	if c.RateLimit < 0 {
		return errors.New("RATE_LIMIT must not be negative")
	}
	return nil
}

// IsProduction returns true when the server runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}
