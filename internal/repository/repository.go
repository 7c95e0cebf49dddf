package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/glizzus/cmdcron/internal/command"
	"github.com/glizzus/cmdcron/internal/run"
	"github.com/glizzus/cmdcron/internal/schedule"
)

// Schedule is the operator configuration for one catalog command.
type Schedule struct {
	CommandName string
	AppName     string
	Minute      string
	Hour        string
	Day         string
	Active      bool
	Arguments   command.Arguments
}

// Spec parses the schedule's cron fields.
func (s Schedule) Spec() (schedule.Spec, error) {
	return schedule.ParseSpec(s.Minute, s.Hour, s.Day)
}

// Expression renders the schedule as a five field cron line.
func (s Schedule) Expression() string {
	return fmt.Sprintf("%s %s %s * *", s.Minute, s.Hour, s.Day)
}

// NewSchedule returns an inactive schedule that fires every minute.
func NewSchedule(commandName, appName string) Schedule {
	return Schedule{
		CommandName: commandName,
		AppName:     appName,
		Minute:      "*",
		Hour:        "*",
		Day:         "*",
		Arguments:   command.Arguments{},
	}
}

type ScheduleRepository interface {
	ListSchedules(ctx context.Context, activeOnly bool) ([]Schedule, error)
	GetSchedule(ctx context.Context, commandName string) (Schedule, error)
	SaveSchedule(ctx context.Context, s Schedule) error
	// CreateScheduleIfMissing inserts s unless a schedule for the same
	// command exists. It reports whether a row was created.
	CreateScheduleIfMissing(ctx context.Context, s Schedule) (bool, error)
}

// RunFilter narrows ListRuns. Zero fields do not filter.
type RunFilter struct {
	CommandName string
	Status      run.Status
	Before      time.Time
	Limit       int
}

type RunRepository interface {
	CreateRun(ctx context.Context, r run.Record) error
	// UpdateRun applies u to the run in a single write. It returns a
	// *RunNotFoundError if the run does not exist, or a
	// *run.TransitionError if the run's status is not allowed by u.Guard.
	UpdateRun(ctx context.Context, id string, u run.Update) error
	GetRun(ctx context.Context, id string) (run.Record, error)
	// FindRunsSince returns the runs of a command started at or after since.
	FindRunsSince(ctx context.Context, commandName string, since time.Time) ([]run.Record, error)
	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context, filter RunFilter) ([]run.Record, error)
	// CountRunsBefore and DeleteRunsBefore only consider terminal runs.
	CountRunsBefore(ctx context.Context, before time.Time) (int, error)
	DeleteRunsBefore(ctx context.Context, before time.Time) (int, error)
}

type RunNotFoundError struct {
	ID string
}

func (e *RunNotFoundError) Error() string {
	return fmt.Sprintf("run %s not found", e.ID)
}

var _ error = (*RunNotFoundError)(nil)

type ScheduleNotFoundError struct {
	CommandName string
}

func (e *ScheduleNotFoundError) Error() string {
	return fmt.Sprintf("no schedule for command %q", e.CommandName)
}

var _ error = (*ScheduleNotFoundError)(nil)
