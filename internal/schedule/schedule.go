package schedule

import (
	"context"
	"time"
)

// Every calls tick at each boundary of interval (for a minute interval:
// hh:mm:00) until ctx is cancelled. It blocks; tick runs on the calling
// goroutine, so a slow tick delays the next one rather than overlapping it.
func Every(ctx context.Context, interval time.Duration, tick func(ctx context.Context, at time.Time)) {
	for {
		next := time.Now().Truncate(interval).Add(interval)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case at := <-timer.C:
			tick(ctx, at)
		}
	}
}

// EveryMinute is Every with a one minute interval.
func EveryMinute(ctx context.Context, tick func(ctx context.Context, at time.Time)) {
	Every(ctx, time.Minute, tick)
}
