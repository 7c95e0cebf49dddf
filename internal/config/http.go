package config

import (
	"context"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type HTTPConfig struct {
	Addr            string        `env:"HTTP_ADDR, default=:8080"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT, default=10s"`
	// AllowedOrigins enables CORS for the listed origins.
	AllowedOrigins []string `env:"HTTP_ALLOWED_ORIGINS"`
}

func NewHTTPConfigFromEnv() (*HTTPConfig, error) {
	var cfg HTTPConfig
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
