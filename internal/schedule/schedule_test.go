package schedule_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glizzus/cmdcron/internal/schedule"
)

func TestEvery(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		// ticks to wait for before cancelling
		wantTicks int32
	}{
		{name: "cancel after ticks", interval: 20 * time.Millisecond, wantTicks: 3},
		{name: "cancel before first tick", interval: time.Hour, wantTicks: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()

			var ticks atomic.Int32
			var last atomic.Int64
			done := make(chan struct{})
			go func() {
				defer close(done)
				schedule.Every(ctx, tt.interval, func(_ context.Context, at time.Time) {
					if prev := last.Swap(at.UnixNano()); prev >= at.UnixNano() {
						t.Errorf("tick at %v is not after the previous tick", at)
					}
					ticks.Add(1)
				})
			}()

			deadline := time.Now().Add(5 * time.Second)
			for ticks.Load() < tt.wantTicks && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			if got := ticks.Load(); got < tt.wantTicks {
				t.Fatalf("saw %d ticks, want at least %d", got, tt.wantTicks)
			}
			cancel()

			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatal("Every did not return after cancellation")
			}
			after := ticks.Load()
			time.Sleep(60 * time.Millisecond)
			if got := ticks.Load(); got != after {
				t.Errorf("ticked %d times after returning", got-after)
			}
		})
	}
}

func TestEveryMinute_ReturnsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		schedule.EveryMinute(ctx, func(context.Context, time.Time) {
			t.Error("tick ran on a cancelled context")
		})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("EveryMinute did not return for a cancelled context")
	}
}
