package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"duck-etl/internal/domain"
)

// Compile-time check.
var _ domain.RunRepository = (*RunRepo)(nil)

// RunRepo implements domain.RunRepository on the SQLite ledger.
type RunRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewRunRepo creates a new RunRepo.
func NewRunRepo(db *sql.DB) *RunRepo {
	return &RunRepo{db: db, now: time.Now}
}

const runColumns = `id, status, stages, input_root, output_root, started_at, finished_at, error_message`

const stageRunColumns = `id, run_id, stage, status, result, started_at, finished_at, error_message`

// CreateRun inserts a run. ID and StartedAt are filled in when empty.
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
		`INSERT INTO etl_runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		out.ID, out.Status, strings.Join(out.Stages, ","), out.InputRoot, out.OutputRoot,
		formatTime(out.StartedAt), nullTime(out.FinishedAt), nullStrFromPtr(out.ErrorMessage))
	if err != nil {
		return nil, mapDBError(err)
	}
	return r.GetRun(ctx, out.ID)
}

// FinishRun records the final status of a run.
func (r *RunRepo) FinishRun(ctx context.Context, runID, status string, errMsg *string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE etl_runs SET status = ?, finished_at = ?, error_message = ? WHERE id = ?`,
		status, formatTime(r.now()), nullStrFromPtr(errMsg), runID)
	if err != nil {
		return mapDBError(err)
	}
	return requireAffected(res, "run", runID)
}

// CreateStageRun inserts a stage run for an existing run.
func (r *RunRepo) CreateStageRun(ctx context.Context, sr *domain.StageRun) (*domain.StageRun, error) {
	out := *sr
	if out.ID == "" {
		out.ID = domain.NewID()
	}
	if out.StartedAt.IsZero() {
		out.StartedAt = r.now()
	}
	if out.Status == "" {
		out.Status = domain.StageStatusRunning
	}
	result, err := encodeResult(out.Result)
	if err != nil {
		return nil, err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO etl_stage_runs (`+stageRunColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		out.ID, out.RunID, out.Stage, out.Status, result,
		formatTime(out.StartedAt), nullTime(out.FinishedAt), nullStrFromPtr(out.ErrorMessage))
	if err != nil {
		return nil, mapDBError(err)
	}
	return &out, nil
}

// FinishStageRun records the final status and result of a stage run.
func (r *RunRepo) FinishStageRun(ctx context.Context, stageRunID, status string, result *domain.StageResult, errMsg *string) error {
	encoded, err := encodeResult(result)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE etl_stage_runs SET status = ?, result = ?, finished_at = ?, error_message = ? WHERE id = ?`,
		status, encoded, formatTime(r.now()), nullStrFromPtr(errMsg), stageRunID)
	if err != nil {
		return mapDBError(err)
	}
	return requireAffected(res, "stage run", stageRunID)
}

// GetRun returns a run by ID.
func (r *RunRepo) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM etl_runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if err != nil {
		return nil, mapDBError(err)
	}
	return run, nil
}

// LatestRun returns the most recently started run.
func (r *RunRepo) LatestRun(ctx context.Context) (*domain.Run, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM etl_runs ORDER BY started_at DESC, id DESC LIMIT 1`)
	run, err := scanRun(row)
	if err != nil {
		return nil, mapDBError(err)
	}
	return run, nil
}

// ListRuns returns up to limit runs, newest first.
func (r *RunRepo) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM etl_runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// ListStageRuns returns the stage runs of a run in start order.
func (r *RunRepo) ListStageRuns(ctx context.Context, runID string) ([]domain.StageRun, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+stageRunColumns+` FROM etl_stage_runs WHERE run_id = ? ORDER BY started_at, id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StageRun
	for rows.Next() {
		sr, err := scanStageRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sr)
	}
	return out, rows.Err()
}

// === Private mappers ===

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*domain.Run, error) {
	var (
		run                  domain.Run
		stages, started      string
		finished, errMessage sql.NullString
	)
	if err := s.Scan(&run.ID, &run.Status, &stages, &run.InputRoot, &run.OutputRoot,
		&started, &finished, &errMessage); err != nil {
		return nil, err
	}
	if stages != "" {
		run.Stages = strings.Split(stages, ",")
	}
	run.StartedAt = parseTime(started)
	run.FinishedAt = timePtr(finished)
	run.ErrorMessage = strPtr(errMessage)
	return &run, nil
}

func scanStageRun(s scanner) (*domain.StageRun, error) {
	var (
		sr                           domain.StageRun
		started                      string
		result, finished, errMessage sql.NullString
	)
	if err := s.Scan(&sr.ID, &sr.RunID, &sr.Stage, &sr.Status, &result,
		&started, &finished, &errMessage); err != nil {
		return nil, err
	}
	if result.Valid && result.String != "" {
		var res domain.StageResult
		if err := json.Unmarshal([]byte(result.String), &res); err != nil {
			return nil, fmt.Errorf("decode result of stage run %s: %w", sr.ID, err)
		}
		sr.Result = &res
	}
	sr.StartedAt = parseTime(started)
	sr.FinishedAt = timePtr(finished)
	sr.ErrorMessage = strPtr(errMessage)
	return &sr, nil
}

func encodeResult(res *domain.StageResult) (sql.NullString, error) {
	if res == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(res)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode stage result: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func requireAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound("%s %s not found", kind, id)
	}
	return nil
}
