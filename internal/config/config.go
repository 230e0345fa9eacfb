package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr string     `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`

	// DBDriver selects the store: sqlite, postgres or memory.
	DBDriver    string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBPath      string `env:"DB_PATH" envDefault:"data/quiz.db"`
	DatabaseURL string `env:"DATABASE_URL"`

	// RedisURL enables the cross-process change feed. Empty keeps change
	// notifications in memory.
	RedisURL string `env:"REDIS_URL"`

	// SessionSecret signs session tokens. Empty means a random secret per
	// process, so tokens do not survive a restart.
	SessionSecret string        `env:"SESSION_SECRET"`
	PollInterval  time.Duration `env:"POLL_INTERVAL" envDefault:"3s"`

	// QuestionsPath overrides the built-in question bank.
	QuestionsPath string `env:"QUESTIONS_PATH"`
	SPADir        string `env:"SPA_DIR" envDefault:"../web/dist"`
}

// Load reads the environment. A .env file in the working directory fills
// in variables that are not already set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	switch cfg.DBDriver {
	case "sqlite", "postgres", "memory":
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
	if cfg.DBDriver == "postgres" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for postgres")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL must be positive")
	}
	return &cfg, nil
}
