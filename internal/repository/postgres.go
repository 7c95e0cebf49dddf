package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/glizzus/cmdcron/internal/command"
	"github.com/glizzus/cmdcron/internal/run"
)

type PostgresScheduleRepository struct {
	db *pgxpool.Pool
}

func NewPostgresScheduleRepository(db *pgxpool.Pool) *PostgresScheduleRepository {
	return &PostgresScheduleRepository{db: db}
}

func encodeArguments(args command.Arguments) ([]byte, error) {
	if args == nil {
		args = command.Arguments{}
	}
	b, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode arguments: %w", err)
	}
	return b, nil
}

func decodeArguments(raw []byte) (command.Arguments, error) {
	var args command.Arguments
	if len(raw) == 0 {
		return command.Arguments{}, nil
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("failed to decode arguments: %w", err)
	}
	return args, nil
}

func ScheduleToRowParams(s Schedule) ([]any, error) {
	args, err := encodeArguments(s.Arguments)
	if err != nil {
		return nil, err
	}
	return []any{
		s.CommandName,
		s.AppName,
		s.Minute,
		s.Hour,
		s.Day,
		s.Active,
		args,
	}, nil
}

const scheduleColumns = `command_name, app_name, minute, hour, day, active, arguments`

func scanSchedule(row pgx.CollectableRow) (Schedule, error) {
	var (
		s   Schedule
		raw []byte
	)
	if err := row.Scan(&s.CommandName, &s.AppName, &s.Minute, &s.Hour, &s.Day, &s.Active, &raw); err != nil {
		return Schedule{}, err
	}
	args, err := decodeArguments(raw)
	if err != nil {
		return Schedule{}, err
	}
	s.Arguments = args
	return s, nil
}

func (r *PostgresScheduleRepository) ListSchedules(ctx context.Context, activeOnly bool) ([]Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY command_name`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	schedules, err := pgx.CollectRows(rows, scanSchedule)
	if err != nil {
		return nil, fmt.Errorf("failed to scan schedules: %w", err)
	}
	return schedules, nil
}

func (r *PostgresScheduleRepository) GetSchedule(ctx context.Context, commandName string) (Schedule, error) {
	rows, err := r.db.Query(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE command_name = $1`, commandName)
	if err != nil {
		return Schedule{}, fmt.Errorf("failed to query schedule: %w", err)
	}
	s, err := pgx.CollectExactlyOneRow(rows, scanSchedule)
	if errors.Is(err, pgx.ErrNoRows) {
		return Schedule{}, &ScheduleNotFoundError{CommandName: commandName}
	}
	if err != nil {
		return Schedule{}, fmt.Errorf("failed to scan schedule: %w", err)
	}
	return s, nil
}

func (r *PostgresScheduleRepository) SaveSchedule(ctx context.Context, s Schedule) error {
	const query = `
	INSERT INTO schedules (command_name, app_name, minute, hour, day, active, arguments)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (command_name) DO UPDATE SET
		app_name = EXCLUDED.app_name,
		minute = EXCLUDED.minute,
		hour = EXCLUDED.hour,
		day = EXCLUDED.day,
		active = EXCLUDED.active,
		arguments = EXCLUDED.arguments,
		updated_at = now()
	`

	params, err := ScheduleToRowParams(s)
	if err != nil {
		return err
	}
	if _, err := r.db.Exec(ctx, query, params...); err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}
	return nil
}

func (r *PostgresScheduleRepository) CreateScheduleIfMissing(ctx context.Context, s Schedule) (bool, error) {
	const query = `
	INSERT INTO schedules (command_name, app_name, minute, hour, day, active, arguments)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (command_name) DO NOTHING
	`

	params, err := ScheduleToRowParams(s)
	if err != nil {
		return false, err
	}
	tag, err := r.db.Exec(ctx, query, params...)
	if err != nil {
		return false, fmt.Errorf("failed to create schedule: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

var _ ScheduleRepository = (*PostgresScheduleRepository)(nil)

type PostgresRunRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRunRepository(db *pgxpool.Pool) *PostgresRunRepository {
	return &PostgresRunRepository{db: db}
}

const runColumns = `id::text, command_name, app_name, arguments, started_at, ended_at, status, output`

func scanRun(row pgx.CollectableRow) (run.Record, error) {
	var (
		rec    run.Record
		raw    []byte
		status string
	)
	if err := row.Scan(&rec.ID, &rec.CommandName, &rec.AppName, &raw, &rec.StartedAt, &rec.EndedAt, &status, &rec.Output); err != nil {
		return run.Record{}, err
	}
	args, err := decodeArguments(raw)
	if err != nil {
		return run.Record{}, err
	}
	st, err := run.ParseStatus(status)
	if err != nil {
		return run.Record{}, err
	}
	rec.Arguments = args
	rec.Status = st
	return rec, nil
}

func statusStrings(statuses []run.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func (r *PostgresRunRepository) CreateRun(ctx context.Context, rec run.Record) error {
	const query = `
	INSERT INTO runs (id, command_name, app_name, arguments, started_at, ended_at, status, output)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	args, err := encodeArguments(rec.Arguments)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, query,
		rec.ID,
		rec.CommandName,
		rec.AppName,
		args,
		rec.StartedAt,
		rec.EndedAt,
		string(rec.Status),
		rec.Output,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

func (r *PostgresRunRepository) UpdateRun(ctx context.Context, id string, u run.Update) error {
	if _, err := uuid.Parse(id); err != nil {
		return &RunNotFoundError{ID: id}
	}

	const query = `
	UPDATE runs SET
		status = COALESCE($2, status),
		output = COALESCE($3, output),
		ended_at = CASE WHEN $4::timestamptz IS NULL THEN ended_at ELSE GREATEST($4::timestamptz, started_at) END
	WHERE id = $1 AND (cardinality($5::text[]) = 0 OR status = ANY($5::text[]))
	`

	var status *string
	if u.Status != nil {
		s := string(*u.Status)
		status = &s
	}
	tag, err := r.db.Exec(ctx, query, id, status, u.Output, u.EndedAt, statusStrings(u.Guard()))
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Nothing matched: either the run is gone or its status did not allow the update.
	var current string
	err = r.db.QueryRow(ctx, `SELECT status FROM runs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return &RunNotFoundError{ID: id}
	}
	if err != nil {
		return fmt.Errorf("failed to read run %s: %w", id, err)
	}
	to := run.Status(current)
	if u.Status != nil {
		to = *u.Status
	}
	return &run.TransitionError{ID: id, From: run.Status(current), To: to}
}

func (r *PostgresRunRepository) GetRun(ctx context.Context, id string) (run.Record, error) {
	if _, err := uuid.Parse(id); err != nil {
		return run.Record{}, &RunNotFoundError{ID: id}
	}

	rows, err := r.db.Query(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	if err != nil {
		return run.Record{}, fmt.Errorf("failed to query run: %w", err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanRun)
	if errors.Is(err, pgx.ErrNoRows) {
		return run.Record{}, &RunNotFoundError{ID: id}
	}
	if err != nil {
		return run.Record{}, fmt.Errorf("failed to scan run: %w", err)
	}
	return rec, nil
}

func (r *PostgresRunRepository) FindRunsSince(ctx context.Context, commandName string, since time.Time) ([]run.Record, error) {
	const query = `SELECT ` + runColumns + ` FROM runs
	WHERE command_name = $1 AND started_at >= $2
	ORDER BY started_at DESC`

	rows, err := r.db.Query(ctx, query, commandName, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs since %s: %w", since.Format(time.RFC3339), err)
	}
	runs, err := pgx.CollectRows(rows, scanRun)
	if err != nil {
		return nil, fmt.Errorf("failed to scan runs: %w", err)
	}
	return runs, nil
}

func (r *PostgresRunRepository) ListRuns(ctx context.Context, filter RunFilter) ([]run.Record, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE TRUE`
	var params []any
	if filter.CommandName != "" {
		params = append(params, filter.CommandName)
		query += fmt.Sprintf(` AND command_name = $%d`, len(params))
	}
	if filter.Status != "" {
		params = append(params, string(filter.Status))
		query += fmt.Sprintf(` AND status = $%d`, len(params))
	}
	if !filter.Before.IsZero() {
		params = append(params, filter.Before)
		query += fmt.Sprintf(` AND started_at < $%d`, len(params))
	}
	query += ` ORDER BY started_at DESC`
	if filter.Limit > 0 {
		params = append(params, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(params))
	}

	rows, err := r.db.Query(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	runs, err := pgx.CollectRows(rows, scanRun)
	if err != nil {
		return nil, fmt.Errorf("failed to scan runs: %w", err)
	}
	return runs, nil
}

func (r *PostgresRunRepository) CountRunsBefore(ctx context.Context, before time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM runs WHERE started_at < $1 AND status IN ('success', 'failure')`,
		before,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return n, nil
}

func (r *PostgresRunRepository) DeleteRunsBefore(ctx context.Context, before time.Time) (int, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM runs WHERE started_at < $1 AND status IN ('success', 'failure')`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete runs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

var _ RunRepository = (*PostgresRunRepository)(nil)
