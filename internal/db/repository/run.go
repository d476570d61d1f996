package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"etl-catalog/internal/domain"
)

// Compile-time check.
var _ domain.RunRepository = (*RunRepo)(nil)

// RunRepo implements RunRepository using SQLite.
type RunRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewRunRepo creates a new RunRepo.
func NewRunRepo(db *sql.DB) *RunRepo {
	return &RunRepo{db: db, now: time.Now}
}

const runColumns = `id, selector, forced, status, error, started_at, finished_at`

const stepColumns = `id, run_id, step_uri, tier, checksum, status, error, duration_ms, created_at`

type scanner interface {
	Scan(dest ...any) error
}

// CreateRun inserts a new run. ID and StartedAt are assigned when empty.
func (r *RunRepo) CreateRun(ctx context.Context, run *domain.Run) (*domain.Run, error) {
	out := *run
	if out.ID == "" {
		out.ID = domain.NewID()
	}
	if out.StartedAt.IsZero() {
		out.StartedAt = r.now()
	}
	if out.Status == "" {
		out.Status = domain.RunStatusRunning
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, NULL)`,
		out.ID, out.Selector, boolToInt(out.Force), out.Status, nullStrFromPtr(out.Error), formatTime(out.StartedAt))
	if err != nil {
		return nil, mapDBError(err)
	}
	out.StartedAt = parseTime(formatTime(out.StartedAt))
	out.FinishedAt = nil
	return &out, nil
}

// FinishRun records the final status of a run.
func (r *RunRepo) FinishRun(ctx context.Context, id, status string, errMsg *string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		status, nullStrFromPtr(errMsg), formatTime(r.now()), id)
	if err != nil {
		return mapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound("run %s not found", id)
	}
	return nil
}

// GetRun returns a run by its ID.
func (r *RunRepo) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound("run %s not found", id)
		}
		return nil, mapDBError(err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first. A non-positive limit means 20.
func (r *RunRepo) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	runs := make([]domain.Run, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// RecordStep inserts the outcome of one step. ID and CreatedAt are assigned
// when empty; an unknown run is a NotFoundError.
func (r *RunRepo) RecordStep(ctx context.Context, step *domain.StepRun) (*domain.StepRun, error) {
	out := *step
	if out.ID == "" {
		out.ID = domain.NewID()
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = r.now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO step_runs (`+stepColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		out.ID, out.RunID, out.StepURI, out.Tier, out.Checksum, out.Status,
		nullStrFromPtr(out.Error), out.DurationMs, formatTime(out.CreatedAt))
	if err != nil {
		return nil, mapDBError(err)
	}
	out.CreatedAt = parseTime(formatTime(out.CreatedAt))
	return &out, nil
}

// ListStepsByRun returns the step outcomes of a run in tier order.
func (r *RunRepo) ListStepsByRun(ctx context.Context, runID string) ([]domain.StepRun, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+stepColumns+` FROM step_runs WHERE run_id = ? ORDER BY tier, step_uri, rowid`, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var steps []domain.StepRun
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, *s)
	}
	return steps, rows.Err()
}

// LastSaved returns the most recent SAVED outcome of a step.
func (r *RunRepo) LastSaved(ctx context.Context, stepURI string) (*domain.StepRun, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+stepColumns+` FROM step_runs WHERE step_uri = ? AND status = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		stepURI, domain.StepStatusSaved)
	s, err := scanStep(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound("step %s has never been saved", stepURI)
		}
		return nil, mapDBError(err)
	}
	return s, nil
}

// === Private mappers ===

func scanRun(row scanner) (*domain.Run, error) {
	var (
		run       domain.Run
		forced    int64
		errMsg    sql.NullString
		startedAt string
		finished  sql.NullString
	)
	if err := row.Scan(&run.ID, &run.Selector, &forced, &run.Status, &errMsg, &startedAt, &finished); err != nil {
		return nil, err
	}
	run.Force = forced != 0
	run.Error = ptrFromNullStr(errMsg)
	run.StartedAt = parseTime(startedAt)
	if finished.Valid {
		t := parseTime(finished.String)
		run.FinishedAt = &t
	}
	return &run, nil
}

func scanStep(row scanner) (*domain.StepRun, error) {
	var (
		s         domain.StepRun
		errMsg    sql.NullString
		createdAt string
	)
	if err := row.Scan(&s.ID, &s.RunID, &s.StepURI, &s.Tier, &s.Checksum, &s.Status,
		&errMsg, &s.DurationMs, &createdAt); err != nil {
		return nil, err
	}
	s.Error = ptrFromNullStr(errMsg)
	s.CreatedAt = parseTime(createdAt)
	return &s, nil
}
