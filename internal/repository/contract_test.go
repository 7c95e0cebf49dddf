package repository_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/glizzus/cmdcron/internal/command"
	"github.com/glizzus/cmdcron/internal/repository"
	"github.com/glizzus/cmdcron/internal/run"
)

var base = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func testScheduleRepository(t *testing.T, repo repository.ScheduleRepository) {
	ctx := t.Context()

	report := repository.Schedule{
		CommandName: "generate_report",
		AppName:     "example_app",
		Minute:      "0",
		Hour:        "9",
		Day:         "*",
		Active:      true,
		Arguments:   command.Arguments{"report_type": "weekly", "_positional": []any{"x"}},
	}
	if err := repo.SaveSchedule(ctx, report); err != nil {
		t.Fatalf("SaveSchedule: %v", err)
	}

	t.Run("a saved schedule can be read back", func(t *testing.T) {
		got, err := repo.GetSchedule(ctx, "generate_report")
		if err != nil {
			t.Fatalf("GetSchedule: %v", err)
		}
		if diff := cmp.Diff(report, got); diff != "" {
			t.Errorf("GetSchedule mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("a missing schedule is reported as not found", func(t *testing.T) {
		_, err := repo.GetSchedule(ctx, "nope")
		var nf *repository.ScheduleNotFoundError
		if !errors.As(err, &nf) {
			t.Errorf("GetSchedule(nope) error = %v, want *ScheduleNotFoundError", err)
		}
	})

	t.Run("CreateScheduleIfMissing never overwrites", func(t *testing.T) {
		created, err := repo.CreateScheduleIfMissing(ctx, repository.NewSchedule("generate_report", "other"))
		if err != nil {
			t.Fatalf("CreateScheduleIfMissing: %v", err)
		}
		if created {
			t.Errorf("CreateScheduleIfMissing reported a new row for an existing schedule")
		}
		got, err := repo.GetSchedule(ctx, "generate_report")
		if err != nil {
			t.Fatalf("GetSchedule: %v", err)
		}
		if !got.Active || got.AppName != "example_app" {
			t.Errorf("existing schedule was modified: %+v", got)
		}

		created, err = repo.CreateScheduleIfMissing(ctx, repository.NewSchedule("hello_world", "example_app"))
		if err != nil {
			t.Fatalf("CreateScheduleIfMissing: %v", err)
		}
		if !created {
			t.Errorf("CreateScheduleIfMissing did not create hello_world")
		}
	})

	t.Run("ListSchedules filters on active and sorts by name", func(t *testing.T) {
		all, err := repo.ListSchedules(ctx, false)
		if err != nil {
			t.Fatalf("ListSchedules: %v", err)
		}
		var names []string
		for _, s := range all {
			names = append(names, s.CommandName)
		}
		if diff := cmp.Diff([]string{"generate_report", "hello_world"}, names); diff != "" {
			t.Errorf("ListSchedules(false) names mismatch (-want +got):\n%s", diff)
		}

		active, err := repo.ListSchedules(ctx, true)
		if err != nil {
			t.Fatalf("ListSchedules: %v", err)
		}
		if len(active) != 1 || active[0].CommandName != "generate_report" {
			t.Errorf("ListSchedules(true) = %+v, want only generate_report", active)
		}
	})
}

func testRunRepository(t *testing.T, repo repository.RunRepository) {
	ctx := t.Context()

	const (
		first  = "6f1c1c1e-0d5e-4b8a-9a55-2d3a3d1f0001"
		second = "6f1c1c1e-0d5e-4b8a-9a55-2d3a3d1f0002"
		old    = "6f1c1c1e-0d5e-4b8a-9a55-2d3a3d1f0003"
	)

	args := command.Arguments{"days": "30"}
	for _, rec := range []run.Record{
		run.New(first, "cleanup_old_data", "example_app", args, base),
		run.New(second, "cleanup_old_data", "example_app", nil, base.Add(time.Minute)),
		run.New(old, "hello_world", "example_app", nil, base.Add(-40*24*time.Hour)),
	} {
		if err := repo.CreateRun(ctx, rec); err != nil {
			t.Fatalf("CreateRun(%s): %v", rec.ID, err)
		}
	}

	t.Run("a run moves through its lifecycle", func(t *testing.T) {
		if err := repo.UpdateRun(ctx, first, run.Start("Starting command: cleanup_old_data\n")); err != nil {
			t.Fatalf("UpdateRun(start): %v", err)
		}
		if err := repo.UpdateRun(ctx, first, run.Progress("STDOUT (in progress):\nok\n")); err != nil {
			t.Fatalf("UpdateRun(progress): %v", err)
		}
		end := base.Add(3 * time.Second)
		if err := repo.UpdateRun(ctx, first, run.Finish(run.StatusSuccess, "STDOUT:\nok\n", end)); err != nil {
			t.Fatalf("UpdateRun(finish): %v", err)
		}

		got, err := repo.GetRun(ctx, first)
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if got.Status != run.StatusSuccess || got.Output != "STDOUT:\nok\n" {
			t.Errorf("GetRun = %+v", got)
		}
		if got.EndedAt == nil || !got.EndedAt.Equal(end) {
			t.Errorf("EndedAt = %v, want %v", got.EndedAt, end)
		}
		if d := got.Duration(); d == nil || *d != 3*time.Second {
			t.Errorf("Duration = %v, want 3s", d)
		}
		if diff := cmp.Diff(args, got.Arguments); diff != "" {
			t.Errorf("Arguments mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("updates that skip a state are rejected", func(t *testing.T) {
		err := repo.UpdateRun(ctx, second, run.Finish(run.StatusSuccess, "", base.Add(2*time.Minute)))
		var terr *run.TransitionError
		if !errors.As(err, &terr) {
			t.Fatalf("UpdateRun error = %v, want *run.TransitionError", err)
		}
		got, err := repo.GetRun(ctx, second)
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if got.Status != run.StatusPending || got.EndedAt != nil {
			t.Errorf("rejected update changed the run: %+v", got)
		}
	})

	t.Run("unknown runs are reported as not found", func(t *testing.T) {
		for _, id := range []string{"6f1c1c1e-0d5e-4b8a-9a55-2d3a3d1f9999", "not-a-uuid"} {
			var nf *repository.RunNotFoundError
			if _, err := repo.GetRun(ctx, id); !errors.As(err, &nf) {
				t.Errorf("GetRun(%s) error = %v, want *RunNotFoundError", id, err)
			}
			if err := repo.UpdateRun(ctx, id, run.Start("")); !errors.As(err, &nf) {
				t.Errorf("UpdateRun(%s) error = %v, want *RunNotFoundError", id, err)
			}
		}
	})

	t.Run("FindRunsSince includes the boundary", func(t *testing.T) {
		runs, err := repo.FindRunsSince(ctx, "cleanup_old_data", base)
		if err != nil {
			t.Fatalf("FindRunsSince: %v", err)
		}
		if len(runs) != 2 || runs[0].ID != second || runs[1].ID != first {
			t.Errorf("FindRunsSince = %v, want [%s %s]", ids(runs), second, first)
		}

		runs, err = repo.FindRunsSince(ctx, "cleanup_old_data", base.Add(30*time.Second))
		if err != nil {
			t.Fatalf("FindRunsSince: %v", err)
		}
		if len(runs) != 1 || runs[0].ID != second {
			t.Errorf("FindRunsSince = %v, want [%s]", ids(runs), second)
		}
	})

	t.Run("ListRuns filters", func(t *testing.T) {
		runs, err := repo.ListRuns(ctx, repository.RunFilter{Status: run.StatusSuccess})
		if err != nil {
			t.Fatalf("ListRuns: %v", err)
		}
		if diff := cmp.Diff([]string{first}, ids(runs)); diff != "" {
			t.Errorf("ListRuns(success) mismatch (-want +got):\n%s", diff)
		}

		runs, err = repo.ListRuns(ctx, repository.RunFilter{Limit: 2})
		if err != nil {
			t.Fatalf("ListRuns: %v", err)
		}
		if diff := cmp.Diff([]string{second, first}, ids(runs)); diff != "" {
			t.Errorf("ListRuns(limit 2) mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("pruning only removes old terminal runs", func(t *testing.T) {
		if err := repo.UpdateRun(ctx, old, run.Finish(run.StatusFailure, "boom", base.Add(-40*24*time.Hour))); err != nil {
			t.Fatalf("UpdateRun: %v", err)
		}
		cutoff := base.Add(-30 * 24 * time.Hour)

		n, err := repo.CountRunsBefore(ctx, cutoff)
		if err != nil || n != 1 {
			t.Fatalf("CountRunsBefore = %d, %v; want 1", n, err)
		}
		n, err = repo.DeleteRunsBefore(ctx, cutoff)
		if err != nil || n != 1 {
			t.Fatalf("DeleteRunsBefore = %d, %v; want 1", n, err)
		}
		var nf *repository.RunNotFoundError
		if _, err := repo.GetRun(ctx, old); !errors.As(err, &nf) {
			t.Errorf("pruned run still readable: %v", err)
		}
		if _, err := repo.GetRun(ctx, second); err != nil {
			t.Errorf("recent run was pruned: %v", err)
		}
	})
}

func ids(runs []run.Record) []string {
	out := make([]string, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.ID)
	}
	return out
}
