package config

import (
	"context"

	"github.com/sethvargo/go-envconfig"
)

type CatalogConfig struct {
	Path  string `env:"CATALOG_PATH, default=commands.yaml"`
	Watch bool   `env:"CATALOG_WATCH, default=true"`
}

func NewCatalogConfigFromEnv() (*CatalogConfig, error) {
	var cfg CatalogConfig
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
