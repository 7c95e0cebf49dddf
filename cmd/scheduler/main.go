package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/glizzus/cmdcron/internal/command"
	"github.com/glizzus/cmdcron/internal/config"
	"github.com/glizzus/cmdcron/internal/datalayer"
	"github.com/glizzus/cmdcron/internal/engine"
	"github.com/glizzus/cmdcron/internal/executor"
	"github.com/glizzus/cmdcron/internal/handler"
	"github.com/glizzus/cmdcron/internal/repository"
	"github.com/glizzus/cmdcron/internal/worker"
)

func runSchedulerForever() error {
	if err := config.LoadEnv(); err != nil {
		if os.IsNotExist(err) {
			slog.Warn("No .env file found, continuing without it")
		} else {
			return fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	schedulerConfig, err := config.NewSchedulerConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load scheduler config: %w", err)
	}
	level, _ := schedulerConfig.Level()
	slog.SetLogLoggerLevel(level)
	location, _ := schedulerConfig.Location()
	launcher, _ := schedulerConfig.LauncherArgs()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := datalayer.NewPostgresPoolFromEnv(ctx)
	if err != nil {
		return fmt.Errorf("failed to create postgres pool: %w", err)
	}
	defer pool.Close()

	if err := datalayer.MigratePostgres(pool); err != nil {
		return fmt.Errorf("failed to migrate postgres: %w", err)
	}

	schedules := repository.NewPostgresScheduleRepository(pool)
	runs := repository.NewPostgresRunRepository(pool)

	catalogConfig, err := config.NewCatalogConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load catalog config: %w", err)
	}
	catalog, err := command.NewFileCatalog(catalogConfig.Path, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to load command catalog: %w", err)
	}
	if catalogConfig.Watch {
		go func() {
			if err := catalog.Watch(ctx); err != nil {
				slog.Error("catalog watcher stopped", "error", err)
			}
		}()
	}

	events, cleanup, err := buildEventHandler(ctx, runs)
	if err != nil {
		return err
	}
	defer cleanup()

	exec := executor.New(runs, executor.Config{
		PollInterval:  schedulerConfig.PollInterval,
		FlushInterval: schedulerConfig.FlushInterval,
		RunTimeout:    schedulerConfig.RunTimeout,
	}, executor.WithEvents(events))

	eng := engine.New(schedules, runs, catalog, exec, engine.Config{
		Prefix:        launcher,
		CatchUpWindow: schedulerConfig.CatchUpWindow,
		Location:      location,
	})

	httpConfig, err := config.NewHTTPConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load http config: %w", err)
	}
	server := &http.Server{
		Addr:    httpConfig.Addr,
		Handler: handler.New(eng, slog.Default()).Router(httpConfig.AllowedOrigins),
	}
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", httpConfig.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	go eng.Run(ctx)

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-serverErr:
		if err != nil {
			stop()
			exec.Wait()
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpConfig.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("failed to shut down http server", "error", err)
	}

	slog.Info("waiting for running commands to finish")
	exec.Wait()
	return nil
}

// buildEventHandler always logs run events. Output is archived to MinIO
// and events are published to Redis when those are configured.
func buildEventHandler(ctx context.Context, runs repository.RunRepository) (worker.EventHandler, func(), error) {
	handlers := worker.MultiEventHandler{&worker.PrintingEventHandler{}}
	cleanup := func() {}

	minioConfig, err := config.NewMinioConfigFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load minio config: %w", err)
	}
	if minioConfig.Enabled() && minioConfig.Inline {
		minioStorage, err := datalayer.NewMinioStorage(minioConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create minio storage: %w", err)
		}
		if err := minioStorage.EnsureBucket(ctx); err != nil {
			return nil, nil, fmt.Errorf("failed to ensure minio bucket: %w", err)
		}
		handlers = append(handlers, worker.NewArchivingEventHandler(runs, minioStorage))
	}

	redisConfig, err := config.NewRedisConfigFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load redis config: %w", err)
	}
	if redisConfig.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     redisConfig.Addr,
			Password: redisConfig.Password,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		handlers = append(handlers, worker.NewRedisEventHandler(rdb, redisConfig.Stream))
		cleanup = func() {
			if err := rdb.Close(); err != nil {
				slog.Warn("failed to close redis client", "error", err)
			}
		}
	}

	return handlers, cleanup, nil
}

func main() {
	if err := runSchedulerForever(); err != nil {
		log.Fatalf("failed to run scheduler: %v", err)
	}
}
