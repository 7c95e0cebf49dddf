// Package engine decides which schedules are due, creates their run
// records and hands them to an executor. It also serves the operator
// operations that read and change schedules and runs.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/glizzus/cmdcron/internal/command"
	"github.com/glizzus/cmdcron/internal/generator"
	"github.com/glizzus/cmdcron/internal/repository"
	"github.com/glizzus/cmdcron/internal/run"
	"github.com/glizzus/cmdcron/internal/schedule"
)

// DefaultCatchUpWindow makes a schedule due only during its matching minute.
const DefaultCatchUpWindow = time.Minute

// Launcher starts a pending run in the background.
type Launcher interface {
	Start(ctx context.Context, rec run.Record, argv []string)
}

type Config struct {
	// Prefix is prepended to every command vector, e.g. ["python", "manage.py"].
	Prefix []string
	// CatchUpWindow is how long after a due minute a schedule may still
	// be launched if no run has been recorded for it.
	CatchUpWindow time.Duration
	// Location is the timezone cron fields are evaluated in.
	Location *time.Location
}

type Engine struct {
	schedules repository.ScheduleRepository
	runs      repository.RunRepository
	catalog   command.Catalog
	launcher  Launcher
	ids       generator.Generator[string]
	cfg       Config
	log       *slog.Logger
	now       func() time.Time
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.log = logger }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDs(ids generator.Generator[string]) Option {
	return func(e *Engine) { e.ids = ids }
}

func New(
	schedules repository.ScheduleRepository,
	runs repository.RunRepository,
	catalog command.Catalog,
	launcher Launcher,
	cfg Config,
	opts ...Option,
) *Engine {
	if cfg.CatchUpWindow <= 0 {
		cfg.CatchUpWindow = DefaultCatchUpWindow
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	e := &Engine{
		schedules: schedules,
		runs:      runs,
		catalog:   catalog,
		launcher:  launcher,
		ids:       &generator.UUIDV4Generator{},
		cfg:       cfg,
		log:       slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run ticks at the start of every minute until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	e.log.Info("scheduler started", "location", e.cfg.Location.String(), "catchUpWindow", e.cfg.CatchUpWindow)
	schedule.EveryMinute(ctx, func(ctx context.Context, at time.Time) {
		report := e.Tick(ctx, at)
		e.log.Debug("tick complete",
			"at", report.At,
			"considered", report.Considered,
			"launched", len(report.Launched),
			"duplicates", len(report.Duplicates),
			"errors", len(report.Errors),
		)
	})
}

// argv prefixes the built command line with the configured launcher.
func (e *Engine) argv(name string, args command.Arguments) []string {
	return append(slices.Clone(e.cfg.Prefix), command.Build(name, args)...)
}

// launch records a pending run and hands it to the launcher.
func (e *Engine) launch(ctx context.Context, name, app string, args command.Arguments, now time.Time) (run.Record, error) {
	id, err := e.ids.Next()
	if err != nil {
		return run.Record{}, fmt.Errorf("failed to generate run id: %w", err)
	}

	rec := run.New(id, name, app, args.Clone(), now)
	if err := e.runs.CreateRun(ctx, rec); err != nil {
		return run.Record{}, fmt.Errorf("failed to create run for %s: %w", name, err)
	}
	if err := e.start(ctx, rec, e.argv(name, rec.Arguments)); err != nil {
		return run.Record{}, err
	}
	return rec, nil
}

// start hands rec to the launcher. If the launcher panics, rec is
// finished as a Failure so it does not stay Pending.
func (e *Engine) start(ctx context.Context, rec run.Record, argv []string) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		err = fmt.Errorf("launcher panicked for %s: %v", rec.CommandName, r)
		e.log.Error("failed to launch run", "run", rec.ID, "command", rec.CommandName, "error", err)

		update := run.Finish(run.StatusFailure, "Error: "+err.Error(), e.now())
		if uerr := e.runs.UpdateRun(context.WithoutCancel(ctx), rec.ID, update); uerr != nil {
			e.log.Error("failed to record launch failure", "run", rec.ID, "error", uerr)
		}
	}()
	e.launcher.Start(ctx, rec, argv)
	return nil
}

// RunNow launches name immediately. If override is non-nil it is used
// for this run only; otherwise the schedule's stored arguments are used.
// The command needs a catalog entry but not a schedule.
func (e *Engine) RunNow(ctx context.Context, name string, override command.Arguments) (run.Record, error) {
	app, err := command.Lookup(ctx, e.catalog, name)
	if err != nil {
		return run.Record{}, err
	}

	args := override
	if args == nil {
		s, err := e.schedules.GetSchedule(ctx, name)
		switch {
		case err == nil:
			args = s.Arguments
		case !isScheduleNotFound(err):
			return run.Record{}, fmt.Errorf("failed to load schedule %s: %w", name, err)
		}
	}
	if err := args.Validate(); err != nil {
		return run.Record{}, &schedule.ValidationError{Field: "arguments", Value: command.PositionalKey, Reason: err.Error()}
	}

	rec, err := e.launch(ctx, name, app, args, e.now())
	if err != nil {
		return run.Record{}, err
	}
	e.log.Info("run started on demand", "command", name, "run", rec.ID)
	return rec, nil
}

// GetStatus returns the polling view of a run, or a
// *repository.RunNotFoundError.
func (e *Engine) GetStatus(ctx context.Context, runID string) (run.StatusPayload, error) {
	rec, err := e.runs.GetRun(ctx, runID)
	if err != nil {
		return run.StatusPayload{}, err
	}
	return run.NewStatusPayload(rec), nil
}

func (e *Engine) GetRun(ctx context.Context, runID string) (run.Record, error) {
	return e.runs.GetRun(ctx, runID)
}

func (e *Engine) ListRuns(ctx context.Context, filter repository.RunFilter) ([]run.Record, error) {
	return e.runs.ListRuns(ctx, filter)
}

func (e *Engine) ListSchedules(ctx context.Context, activeOnly bool) ([]repository.Schedule, error) {
	return e.schedules.ListSchedules(ctx, activeOnly)
}

func (e *Engine) GetSchedule(ctx context.Context, name string) (repository.Schedule, error) {
	return e.schedules.GetSchedule(ctx, name)
}

// ArgumentSchema returns the arguments the catalog lists for name.
func (e *Engine) ArgumentSchema(ctx context.Context, name string) ([]command.ArgumentSpec, error) {
	return e.catalog.ArgumentSchema(ctx, name)
}

// NextRuns previews the next n fire times of a schedule.
func (e *Engine) NextRuns(s repository.Schedule, n int) ([]time.Time, error) {
	spec, err := s.Spec()
	if err != nil {
		return nil, err
	}
	return spec.NextRunTimes(e.now().In(e.cfg.Location), n)
}

// SaveSchedule validates s against the catalog and its cron fields and
// stores it. An empty AppName is filled from the catalog.
func (e *Engine) SaveSchedule(ctx context.Context, s repository.Schedule) (repository.Schedule, error) {
	app, err := command.Lookup(ctx, e.catalog, s.CommandName)
	var unknown *command.UnknownCommandError
	if errors.As(err, &unknown) {
		return repository.Schedule{}, &schedule.ValidationError{Field: "command", Value: s.CommandName, Reason: "not in the command catalog", Err: err}
	}
	if err != nil {
		return repository.Schedule{}, err
	}
	if s.AppName == "" {
		s.AppName = app
	}
	if s.Minute == "" {
		s.Minute = "*"
	}
	if s.Hour == "" {
		s.Hour = "*"
	}
	if s.Day == "" {
		s.Day = "*"
	}
	if _, err := schedule.Validate(s.Minute, s.Hour, s.Day); err != nil {
		return repository.Schedule{}, err
	}
	if s.Arguments == nil {
		s.Arguments = command.Arguments{}
	}
	if err := s.Arguments.Validate(); err != nil {
		return repository.Schedule{}, &schedule.ValidationError{Field: "arguments", Value: command.PositionalKey, Reason: err.Error()}
	}

	if err := e.schedules.SaveSchedule(ctx, s); err != nil {
		return repository.Schedule{}, err
	}
	e.log.Info("schedule saved", "command", s.CommandName, "cron", s.Expression(), "active", s.Active)
	return s, nil
}
