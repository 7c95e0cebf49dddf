package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/glizzus/cmdcron/internal/run"
)

type EventKind string

const (
	EventRunStarted  EventKind = "run.started"
	EventRunFinished EventKind = "run.finished"
)

// DefaultStream is the Redis stream run events are appended to.
const DefaultStream = "run_events"

// RunEvent announces a lifecycle change of a run.
type RunEvent struct {
	Kind        EventKind
	RunID       string
	CommandName string
	Status      run.Status
	ExitCode    int
	At          time.Time
}

type EventHandler interface {
	HandleEvents(ctx context.Context, events ...RunEvent) error
}

type PrintingEventHandler struct {
	Logger *slog.Logger
}

func (h *PrintingEventHandler) HandleEvents(ctx context.Context, events ...RunEvent) error {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, event := range events {
		logger.InfoContext(
			ctx,
			"Run event",
			slog.String("kind", string(event.Kind)),
			slog.String("runID", event.RunID),
			slog.String("command", event.CommandName),
			slog.String("status", string(event.Status)),
			slog.Int("exitCode", event.ExitCode),
			slog.String("at", event.At.Format("2006-01-02 15:04:05")),
		)
	}
	return nil
}

var _ EventHandler = (*PrintingEventHandler)(nil)

// MemoryEventHandler records every event it handles.
type MemoryEventHandler struct {
	mu     sync.Mutex
	events []RunEvent
}

func (h *MemoryEventHandler) HandleEvents(_ context.Context, events ...RunEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, events...)
	return nil
}

func (h *MemoryEventHandler) Events() []RunEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]RunEvent(nil), h.events...)
}

var _ EventHandler = (*MemoryEventHandler)(nil)

func eventValues(event RunEvent) map[string]any {
	return map[string]any{
		"kind":        string(event.Kind),
		"runID":       event.RunID,
		"commandName": event.CommandName,
		"status":      string(event.Status),
		"exitCode":    strconv.Itoa(event.ExitCode),
		"at":          event.At.Format(time.RFC3339Nano),
	}
}

func parseEvent(values map[string]any) (RunEvent, error) {
	str := func(key string) string {
		s, _ := values[key].(string)
		return s
	}
	at, err := time.Parse(time.RFC3339Nano, str("at"))
	if err != nil {
		return RunEvent{}, fmt.Errorf("failed to parse event time: %w", err)
	}
	exitCode, err := strconv.Atoi(str("exitCode"))
	if err != nil {
		return RunEvent{}, fmt.Errorf("failed to parse exit code: %w", err)
	}
	return RunEvent{
		Kind:        EventKind(str("kind")),
		RunID:       str("runID"),
		CommandName: str("commandName"),
		Status:      run.Status(str("status")),
		ExitCode:    exitCode,
		At:          at,
	}, nil
}

// RedisEventHandler appends events to a Redis stream.
type RedisEventHandler struct {
	client *redis.Client
	stream string
}

func NewRedisEventHandler(client *redis.Client, stream string) *RedisEventHandler {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisEventHandler{client: client, stream: stream}
}

func (h *RedisEventHandler) HandleEvents(ctx context.Context, events ...RunEvent) error {
	_, err := h.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, event := range events {
			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: h.stream,
				Values: eventValues(event),
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish %d run events: %w", len(events), err)
	}
	return nil
}

var _ EventHandler = (*RedisEventHandler)(nil)

// RedisEventReceiver reads run events from a stream as part of a
// consumer group.
type RedisEventReceiver struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	block    time.Duration
}

func NewRedisEventReceiver(ctx context.Context, client *redis.Client, stream, group, consumer string) (*RedisEventReceiver, error) {
	if stream == "" {
		stream = DefaultStream
	}
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil && !errors.Is(err, redis.Nil) && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("failed to create consumer group %s: %w", group, err)
	}

	return &RedisEventReceiver{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		block:    5 * time.Second,
	}, nil
}

// Receive passes events to handler until ctx is done. Events are
// acknowledged once the handler returns without error.
func (r *RedisEventReceiver) Receive(ctx context.Context, handler EventHandler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    r.group,
			Consumer: r.consumer,
			Streams:  []string{r.stream, ">"},
			Count:    10,
			Block:    r.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to read from stream %s: %w", r.stream, err)
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				event, err := parseEvent(msg.Values)
				if err != nil {
					slog.WarnContext(ctx, "dropping malformed run event", "id", msg.ID, "error", err)
					r.client.XAck(ctx, r.stream, r.group, msg.ID)
					continue
				}
				if err := handler.HandleEvents(ctx, event); err != nil {
					return fmt.Errorf("failed to handle run event %s: %w", msg.ID, err)
				}
				if err := r.client.XAck(ctx, r.stream, r.group, msg.ID).Err(); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("failed to ack run event %s: %w", msg.ID, err)
				}
			}
		}
	}
}
