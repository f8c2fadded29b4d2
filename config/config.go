// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds everything cmd/server needs to start.
type Config struct {
	Port             string        `env:"PORT"              envDefault:"8080"`
	DBPath           string        `env:"OBLIGATION_DB"     envDefault:"obligations.db"`
	ScanInterval     time.Duration `env:"SCAN_INTERVAL"     envDefault:"1h"`
	SchedulerEnabled bool          `env:"SCHEDULER_ENABLED" envDefault:"true"`
	LogLevel         string        `env:"LOG_LEVEL"         envDefault:"info"`
	AllowedOrigins   []string      `env:"ALLOWED_ORIGINS"   envDefault:"http://localhost:5173,http://localhost:8080" envSeparator:","`
	MaxCatchUp       int           `env:"MAX_CATCH_UP"      envDefault:"120"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.ScanInterval <= 0 {
		return Config{}, fmt.Errorf("SCAN_INTERVAL must be positive, got %s", cfg.ScanInterval)
	}
	if cfg.MaxCatchUp <= 0 {
		return Config{}, fmt.Errorf("MAX_CATCH_UP must be positive, got %d", cfg.MaxCatchUp)
	}
	return cfg, nil
}
