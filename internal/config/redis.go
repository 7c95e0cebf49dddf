package config

import (
	"context"

	"github.com/sethvargo/go-envconfig"
)

// RedisConfig configures run event publishing. An empty Addr disables it.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	Stream   string `env:"REDIS_STREAM, default=run_events"`
}

func (c *RedisConfig) Enabled() bool {
	return c.Addr != ""
}

func NewRedisConfigFromEnv() (*RedisConfig, error) {
	var cfg RedisConfig
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
