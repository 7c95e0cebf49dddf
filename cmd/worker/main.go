package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/glizzus/cmdcron/internal/config"
	"github.com/glizzus/cmdcron/internal/datalayer"
	"github.com/glizzus/cmdcron/internal/repository"
	"github.com/glizzus/cmdcron/internal/worker"
)

const consumerGroup = "cmdcron-worker"

var dryRun = flag.Bool("dry-run", false, "Do not archive output, just print run events to terminal")

func runWorkerForever() error {
	flag.Parse()
	slog.SetLogLoggerLevel(slog.LevelDebug)
	if err := config.LoadEnv(); err != nil {
		if os.IsNotExist(err) {
			slog.Warn("No .env file found, continuing without it")
		} else {
			return fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisConfig, err := config.NewRedisConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load redis config: %w", err)
	}
	if !redisConfig.Enabled() {
		return fmt.Errorf("REDIS_ADDR is not set")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     redisConfig.Addr,
		Password: redisConfig.Password,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	consumer, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("failed to get hostname: %w", err)
	}

	handlers := worker.MultiEventHandler{&worker.PrintingEventHandler{}}
	if *dryRun {
		slog.Info("Dry run mode: run output will not be archived")
	} else {
		archiver, cleanup, err := newArchiver(ctx)
		if err != nil {
			return err
		}
		defer cleanup()
		handlers = append(handlers, archiver)
	}

	receiver, err := worker.NewRedisEventReceiver(ctx, rdb, redisConfig.Stream, consumerGroup, consumer)
	if err != nil {
		return fmt.Errorf("failed to create event receiver: %w", err)
	}

	slog.Info("worker listening for run events", "stream", redisConfig.Stream, "consumer", consumer)
	if err := receiver.Receive(ctx, handlers); err != nil {
		return fmt.Errorf("failed to receive run events: %w", err)
	}
	return nil
}

func newArchiver(ctx context.Context) (worker.EventHandler, func(), error) {
	minioConfig, err := config.NewMinioConfigFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load minio config: %w", err)
	}
	if !minioConfig.Enabled() {
		return nil, nil, fmt.Errorf("MINIO_ENDPOINT is not set")
	}
	storage, err := datalayer.NewMinioStorage(minioConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create minio storage: %w", err)
	}
	if err := storage.EnsureBucket(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to ensure minio bucket: %w", err)
	}

	pool, err := datalayer.NewPostgresPoolFromEnv(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	runs := repository.NewPostgresRunRepository(pool)
	return worker.NewArchivingEventHandler(runs, storage), pool.Close, nil
}

func main() {
	if err := runWorkerForever(); err != nil {
		slog.Error("Worker encountered an error", slog.Any("error", err))
		os.Exit(1)
	}
}
