package repository

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/glizzus/cmdcron/internal/run"
)

// MemoryScheduleRepository keeps schedules in a map. It is safe for
// concurrent use and hands out copies.
type MemoryScheduleRepository struct {
	mu        sync.RWMutex
	schedules map[string]Schedule
}

func NewMemoryScheduleRepository() *MemoryScheduleRepository {
	return &MemoryScheduleRepository{schedules: make(map[string]Schedule)}
}

func cloneSchedule(s Schedule) Schedule {
	s.Arguments = s.Arguments.Clone()
	return s
}

func (r *MemoryScheduleRepository) ListSchedules(_ context.Context, activeOnly bool) ([]Schedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Schedule, 0, len(r.schedules))
	for _, s := range r.schedules {
		if activeOnly && !s.Active {
			continue
		}
		out = append(out, cloneSchedule(s))
	}
	slices.SortFunc(out, func(a, b Schedule) int { return cmp.Compare(a.CommandName, b.CommandName) })
	return out, nil
}

func (r *MemoryScheduleRepository) GetSchedule(_ context.Context, commandName string) (Schedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schedules[commandName]
	if !ok {
		return Schedule{}, &ScheduleNotFoundError{CommandName: commandName}
	}
	return cloneSchedule(s), nil
}

func (r *MemoryScheduleRepository) SaveSchedule(_ context.Context, s Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.schedules[s.CommandName] = cloneSchedule(s)
	return nil
}

func (r *MemoryScheduleRepository) CreateScheduleIfMissing(_ context.Context, s Schedule) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.schedules[s.CommandName]; ok {
		return false, nil
	}
	r.schedules[s.CommandName] = cloneSchedule(s)
	return true, nil
}

var _ ScheduleRepository = (*MemoryScheduleRepository)(nil)

// MemoryRunRepository keeps run records in a map. It is safe for
// concurrent use and hands out copies.
type MemoryRunRepository struct {
	mu   sync.RWMutex
	runs map[string]run.Record
}

func NewMemoryRunRepository() *MemoryRunRepository {
	return &MemoryRunRepository{runs: make(map[string]run.Record)}
}

func cloneRecord(r run.Record) run.Record {
	r.Arguments = r.Arguments.Clone()
	if r.EndedAt != nil {
		end := *r.EndedAt
		r.EndedAt = &end
	}
	return r
}

func newestFirst(a, b run.Record) int {
	return b.StartedAt.Compare(a.StartedAt)
}

func (r *MemoryRunRepository) CreateRun(_ context.Context, rec run.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.runs[rec.ID] = cloneRecord(rec)
	return nil
}

func (r *MemoryRunRepository) UpdateRun(_ context.Context, id string, u run.Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.runs[id]
	if !ok {
		return &RunNotFoundError{ID: id}
	}
	next, err := rec.Apply(u)
	if err != nil {
		return err
	}
	r.runs[id] = next
	return nil
}

func (r *MemoryRunRepository) GetRun(_ context.Context, id string) (run.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.runs[id]
	if !ok {
		return run.Record{}, &RunNotFoundError{ID: id}
	}
	return cloneRecord(rec), nil
}

func (r *MemoryRunRepository) FindRunsSince(_ context.Context, commandName string, since time.Time) ([]run.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []run.Record
	for _, rec := range r.runs {
		if rec.CommandName == commandName && !rec.StartedAt.Before(since) {
			out = append(out, cloneRecord(rec))
		}
	}
	slices.SortFunc(out, newestFirst)
	return out, nil
}

func (r *MemoryRunRepository) ListRuns(_ context.Context, filter RunFilter) ([]run.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []run.Record
	for _, rec := range r.runs {
		if filter.CommandName != "" && rec.CommandName != filter.CommandName {
			continue
		}
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		if !filter.Before.IsZero() && !rec.StartedAt.Before(filter.Before) {
			continue
		}
		out = append(out, cloneRecord(rec))
	}
	slices.SortFunc(out, newestFirst)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *MemoryRunRepository) CountRunsBefore(_ context.Context, before time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, rec := range r.runs {
		if rec.Status.Terminal() && rec.StartedAt.Before(before) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRunRepository) DeleteRunsBefore(_ context.Context, before time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, rec := range r.runs {
		if rec.Status.Terminal() && rec.StartedAt.Before(before) {
			delete(r.runs, id)
			n++
		}
	}
	return n, nil
}

var _ RunRepository = (*MemoryRunRepository)(nil)
