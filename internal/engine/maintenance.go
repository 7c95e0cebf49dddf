package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/glizzus/cmdcron/internal/command"
	"github.com/glizzus/cmdcron/internal/repository"
	"github.com/glizzus/cmdcron/internal/run"
	"github.com/glizzus/cmdcron/internal/util"
)

func isScheduleNotFound(err error) bool {
	var nf *repository.ScheduleNotFoundError
	return errors.As(err, &nf)
}

type SyncOptions struct {
	// CreateMissing creates an inactive schedule for every catalog
	// command that has none.
	CreateMissing bool
	// IncludeApps limits the sync to commands of these apps when non-empty.
	IncludeApps []string
	// ExcludeCommands are never created.
	ExcludeCommands []string
}

type SyncReport struct {
	// Missing lists catalog commands without a schedule.
	Missing []string
	Created []string
	// Obsolete lists schedules whose command left the catalog. They are
	// reported, never deleted.
	Obsolete []string
}

// SyncCatalog compares the catalog with the stored schedules.
func (e *Engine) SyncCatalog(ctx context.Context, opts SyncOptions) (SyncReport, error) {
	commands, err := e.catalog.ListCommands(ctx)
	if err != nil {
		return SyncReport{}, fmt.Errorf("failed to list catalog commands: %w", err)
	}
	schedules, err := e.schedules.ListSchedules(ctx, false)
	if err != nil {
		return SyncReport{}, fmt.Errorf("failed to list schedules: %w", err)
	}

	scheduled := make(map[string]struct{}, len(schedules))
	var report SyncReport
	for _, s := range schedules {
		scheduled[s.CommandName] = struct{}{}
		if _, ok := commands[s.CommandName]; !ok {
			report.Obsolete = append(report.Obsolete, s.CommandName)
		}
	}

	for _, name := range command.Names(commands) {
		app := commands[name]
		if len(opts.IncludeApps) > 0 && !slices.Contains(opts.IncludeApps, app) {
			continue
		}
		if slices.Contains(opts.ExcludeCommands, name) {
			continue
		}
		if _, ok := scheduled[name]; ok {
			continue
		}
		report.Missing = append(report.Missing, name)

		if !opts.CreateMissing {
			continue
		}
		created, err := e.schedules.CreateScheduleIfMissing(ctx, repository.NewSchedule(name, app))
		if err != nil {
			return report, fmt.Errorf("failed to create schedule for %s: %w", name, err)
		}
		if created {
			report.Created = append(report.Created, name)
		}
	}

	e.log.Info("catalog synchronized",
		"missing", len(report.Missing),
		"created", len(report.Created),
		"obsolete", len(report.Obsolete),
	)
	return report, nil
}

// pruneSampleSize is how many matching runs a dry run lists.
const pruneSampleSize = 10

type PruneReport struct {
	Cutoff  time.Time
	Matched int
	Deleted int
	// Samples holds up to ten matching runs, newest first, on a dry run.
	Samples []run.Record
}

// PruneRuns deletes finished runs that started more than olderThan ago.
// With dryRun set nothing is deleted.
func (e *Engine) PruneRuns(ctx context.Context, olderThan time.Duration, dryRun bool) (PruneReport, error) {
	if olderThan <= 0 {
		return PruneReport{}, fmt.Errorf("prune age must be positive, got %s", olderThan)
	}
	report := PruneReport{Cutoff: e.now().Add(-olderThan)}

	matched, err := e.runs.CountRunsBefore(ctx, report.Cutoff)
	if err != nil {
		return PruneReport{}, err
	}
	report.Matched = matched

	if dryRun {
		candidates, err := e.runs.ListRuns(ctx, repository.RunFilter{Before: report.Cutoff})
		if err != nil {
			return PruneReport{}, err
		}
		finished := util.Filter(candidates, func(r run.Record) bool { return r.Status.Terminal() })
		report.Samples = finished[:min(len(finished), pruneSampleSize)]
		return report, nil
	}

	deleted, err := e.runs.DeleteRunsBefore(ctx, report.Cutoff)
	if err != nil {
		return PruneReport{}, err
	}
	report.Deleted = deleted
	e.log.Info("pruned runs", "cutoff", report.Cutoff, "deleted", deleted)
	return report, nil
}
