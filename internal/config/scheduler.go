package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/sethvargo/go-envconfig"
)

type SchedulerConfig struct {
	// Launcher is prepended to every command vector, e.g. "python manage.py".
	Launcher      string        `env:"SCHEDULER_LAUNCHER"`
	PollInterval  time.Duration `env:"SCHEDULER_POLL_INTERVAL, default=100ms"`
	FlushInterval time.Duration `env:"SCHEDULER_FLUSH_INTERVAL, default=1s"`
	CatchUpWindow time.Duration `env:"SCHEDULER_CATCH_UP_WINDOW, default=1m"`
	RunTimeout    time.Duration `env:"RUN_TIMEOUT, default=0"`
	Timezone      string        `env:"SCHEDULER_TIMEZONE, default=UTC"`
	LogLevel      string        `env:"LOG_LEVEL, default=info"`
}

func NewSchedulerConfigFromEnv() (*SchedulerConfig, error) {
	var cfg SchedulerConfig
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		return nil, err
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("SCHEDULER_POLL_INTERVAL must be positive, got %s", cfg.PollInterval)
	}
	if cfg.FlushInterval < cfg.PollInterval {
		return nil, fmt.Errorf("SCHEDULER_FLUSH_INTERVAL (%s) must not be shorter than SCHEDULER_POLL_INTERVAL (%s)", cfg.FlushInterval, cfg.PollInterval)
	}
	if cfg.CatchUpWindow <= 0 {
		return nil, fmt.Errorf("SCHEDULER_CATCH_UP_WINDOW must be positive, got %s", cfg.CatchUpWindow)
	}
	if _, err := cfg.LauncherArgs(); err != nil {
		return nil, err
	}
	if _, err := cfg.Location(); err != nil {
		return nil, err
	}
	if _, err := cfg.Level(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LauncherArgs splits Launcher into words using shell quoting rules.
func (c *SchedulerConfig) LauncherArgs() ([]string, error) {
	args, err := shellquote.Split(c.Launcher)
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_LAUNCHER %q: %w", c.Launcher, err)
	}
	return args, nil
}

func (c *SchedulerConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c *SchedulerConfig) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return level, nil
}
