package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glizzus/cmdcron/internal/repository"
)

// Launch is one run started by a tick.
type Launch struct {
	CommandName string
	RunID       string
	DueAt       time.Time
}

// ScheduleError is a failure confined to one schedule during a tick.
type ScheduleError struct {
	CommandName string
	Err         error
}

func (e ScheduleError) Error() string {
	return fmt.Sprintf("schedule %s: %v", e.CommandName, e.Err)
}

// TickReport summarizes one pass over the active schedules.
type TickReport struct {
	At         time.Time
	Considered int
	Launched   []Launch
	// Duplicates lists schedules that were due but already had a run
	// for their due minute.
	Duplicates []string
	Errors     []ScheduleError
}

// Tick launches every active schedule that is due at now and has not run
// since its due minute. A failing schedule never prevents the others from
// being considered. Tick does not wait for executions to finish.
func (e *Engine) Tick(ctx context.Context, now time.Time) TickReport {
	now = now.In(e.cfg.Location)
	report := TickReport{At: now}

	schedules, err := e.schedules.ListSchedules(ctx, true)
	if err != nil {
		e.log.Error("failed to list active schedules", "error", err)
		report.Errors = append(report.Errors, ScheduleError{Err: err})
		return report
	}
	commands, err := e.catalog.ListCommands(ctx)
	if err != nil {
		e.log.Error("failed to list catalog commands", "error", err)
		report.Errors = append(report.Errors, ScheduleError{Err: err})
		return report
	}

	for _, s := range schedules {
		report.Considered++
		launch, duplicate, err := e.tickSchedule(ctx, s, commands, now)
		switch {
		case err != nil:
			e.log.Error("schedule failed during tick", "command", s.CommandName, "error", err)
			report.Errors = append(report.Errors, ScheduleError{CommandName: s.CommandName, Err: err})
		case duplicate:
			e.log.Debug("schedule already ran for this minute", "command", s.CommandName)
			report.Duplicates = append(report.Duplicates, s.CommandName)
		case launch != nil:
			e.log.Info("schedule launched", "command", s.CommandName, "run", launch.RunID, "dueAt", launch.DueAt)
			report.Launched = append(report.Launched, *launch)
		}
	}
	return report
}

var errPanicked = errors.New("panic while evaluating schedule")

func (e *Engine) tickSchedule(
	ctx context.Context,
	s repository.Schedule,
	commands map[string]string,
	now time.Time,
) (launch *Launch, duplicate bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			launch, duplicate = nil, false
			err = fmt.Errorf("%w: %v", errPanicked, r)
		}
	}()

	spec, err := s.Spec()
	if err != nil {
		return nil, false, err
	}
	due, ok := spec.DueInstant(now)
	if !ok || now.Sub(due) >= e.cfg.CatchUpWindow {
		return nil, false, nil
	}

	app, known := commands[s.CommandName]
	if !known {
		return nil, false, fmt.Errorf("command %q is no longer in the catalog", s.CommandName)
	}
	if s.AppName != "" {
		app = s.AppName
	}

	existing, err := e.runs.FindRunsSince(ctx, s.CommandName, due)
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up recent runs: %w", err)
	}
	if len(existing) > 0 {
		return nil, true, nil
	}

	rec, err := e.launch(ctx, s.CommandName, app, s.Arguments, now)
	if err != nil {
		return nil, false, err
	}
	return &Launch{CommandName: s.CommandName, RunID: rec.ID, DueAt: due}, false, nil
}
