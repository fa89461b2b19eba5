// Package config loads the daemon configuration from environment variables,
// with an optional .env file for local runs. Environment variables take
// priority over the .env file, which takes priority over defaults.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all feedengine configuration.
type Config struct {
	// FIX upstream
	FIXServer    string `env:"FIX_SERVER"`
	FIXPort      string `env:"FIX_PORT"`
	SenderCompID string `env:"SENDER_COMP_ID"`
	TargetCompID string `env:"TARGET_COMP_ID"`
	Username     string `env:"USERNAME"`
	Password     string `env:"PASSWORD"`

	// Durable store
	PGHost     string `env:"PG_HOST"`
	PGPort     int    `env:"PG_PORT" envDefault:"5432"`
	PGUser     string `env:"PG_USER"`
	PGPassword string `env:"PG_PASSWORD"`
	PGDatabase string `env:"PG_DATABASE"`

	// Cache
	RedisHost string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort int    `env:"REDIS_PORT" envDefault:"6379"`

	// Observability
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9104"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads configuration from a .env file (when present) and the
// environment.
func Load(log zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using environment only")
	}
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Warn logs a warning per missing FIX setting. Missing credentials do not
// stop the process; the connect attempt fails and the reconnect loop takes
// over.
func (c *Config) Warn(log zerolog.Logger) {
	settings := []struct{ name, value string }{
		{"FIX_SERVER", c.FIXServer},
		{"FIX_PORT", c.FIXPort},
		{"SENDER_COMP_ID", c.SenderCompID},
		{"TARGET_COMP_ID", c.TargetCompID},
		{"USERNAME", c.Username},
		{"PASSWORD", c.Password},
	}
	for _, s := range settings {
		if s.value == "" {
			log.Warn().Str("var", s.name).Msg("FIX setting not set; session will not establish")
		}
	}
}
