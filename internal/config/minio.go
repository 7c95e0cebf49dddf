package config

import (
	"context"

	"github.com/sethvargo/go-envconfig"
)

// MinioConfig configures run output archiving. An empty Endpoint
// disables archiving.
type MinioConfig struct {
	Endpoint string `env:"MINIO_ENDPOINT"`
	Username string `env:"MINIO_USERNAME"`
	Password string `env:"MINIO_PASSWORD"`
	Bucket   string `env:"MINIO_BUCKET, default=cmdcron"`
	Secure   bool   `env:"MINIO_SECURE, default=false"`
	// Inline archives from the scheduler process. Turn it off when
	// cmd/worker archives from the Redis stream instead.
	Inline bool `env:"MINIO_ARCHIVE_INLINE, default=true"`
}

func (c *MinioConfig) Enabled() bool {
	return c.Endpoint != ""
}

func NewMinioConfigFromEnv() (*MinioConfig, error) {
	var cfg MinioConfig
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
