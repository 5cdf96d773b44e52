package etl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"duck-etl/internal/domain"
	"duck-etl/internal/metrics"
)

// RunRequest selects what a run executes.
type RunRequest struct {
	Stages     []string // subset of domain.StageOrder; empty runs every stage
	Resume     bool     // reuse the stages completed by the latest unfinished run
	InputRoot  string
	OutputRoot string
}

// RunSummary is the ledger view of a finished run.
type RunSummary struct {
	Run    *domain.Run
	Stages []domain.StageRun
}

// Runner executes stages strictly in order and records them in the ledger.
type Runner struct {
	stages  map[string]StageFunc
	runs    domain.RunRepository
	metrics *metrics.Recorder
	logger  *slog.Logger
}

// NewRunner creates a new Runner.
func NewRunner(stages map[string]StageFunc, runs domain.RunRepository, rec *metrics.Recorder, logger *slog.Logger) *Runner {
	return &Runner{stages: stages, runs: runs, metrics: rec, logger: logger}
}

// SelectStages validates names and returns them in execution order. No names
// selects every stage.
func SelectStages(names []string) ([]string, error) {
	if len(names) == 0 {
		return append([]string(nil), domain.StageOrder...), nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if !domain.IsKnownStage(n) {
			return nil, domain.ErrValidation("unknown stage %q (valid: %s)", n, strings.Join(domain.StageOrder, ", "))
		}
		want[n] = true
	}
	out := make([]string, 0, len(want))
	for _, s := range domain.StageOrder {
		if want[s] {
			out = append(out, s)
		}
	}
	return out, nil
}

// Run executes the selected stages. The first stage failure stops the run;
// later stages are recorded as skipped and the failure is returned as a
// *domain.StageError. The summary is returned whenever the run was recorded.
func (r *Runner) Run(ctx context.Context, req RunRequest) (*RunSummary, error) {
	selected, err := SelectStages(req.Stages)
	if err != nil {
		return nil, err
	}
	for _, s := range selected {
		if r.stages[s] == nil {
			return nil, fmt.Errorf("stage %s is not registered", s)
		}
	}

	reuse := map[string]string{}
	if req.Resume {
		if reuse, err = r.resumable(ctx, req); err != nil {
			return nil, err
		}
	}

	run, err := r.runs.CreateRun(ctx, &domain.Run{
		Stages:     selected,
		InputRoot:  req.InputRoot,
		OutputRoot: req.OutputRoot,
	})
	if err != nil {
		return nil, fmt.Errorf("record run: %w", err)
	}
	logger := r.logger.With("run_id", run.ID)
	logger.Info("run started", "stages", selected, "resume", req.Resume)

	// the ledger is updated even when ctx is cancelled
	ledgerCtx := context.WithoutCancel(ctx)

	var runErr error
	for _, stage := range selected {
		switch {
		case runErr != nil:
			if err := r.recordStage(ledgerCtx, run.ID, stage, domain.StageStatusSkipped, nil); err != nil {
				return nil, err
			}
			continue
		case reuse[stage] != "":
			logger.Info("stage reused", "stage", stage, "from_run", reuse[stage])
			msg := "output reused from run " + reuse[stage]
			if err := r.recordStage(ledgerCtx, run.ID, stage, domain.StageStatusReused, &msg); err != nil {
				return nil, err
			}
			continue
		}

		if err := r.runStage(ctx, ledgerCtx, run.ID, stage, logger); err != nil {
			var ledgerErr *ledgerError
			if errors.As(err, &ledgerErr) {
				return nil, ledgerErr.err
			}
			runErr = err
		}
	}

	status := domain.RunStatusSuccess
	var errMsg *string
	if runErr != nil {
		status = domain.RunStatusFailed
		msg := runErr.Error()
		errMsg = &msg
	}
	if err := r.runs.FinishRun(ledgerCtx, run.ID, status, errMsg); err != nil {
		return nil, fmt.Errorf("record run result: %w", err)
	}
	if runErr != nil {
		logger.Error("run failed", "error", runErr)
	} else {
		logger.Info("run completed", "stages", len(selected))
	}

	summary, err := r.Summary(ledgerCtx, run.ID)
	if err != nil {
		return nil, err
	}
	return summary, runErr
}

// ledgerError marks a failure to record state, which aborts the run.
type ledgerError struct{ err error }

func (e *ledgerError) Error() string { return e.err.Error() }

func (r *Runner) runStage(ctx, ledgerCtx context.Context, runID, stage string, logger *slog.Logger) error {
	logger = logger.With("stage", stage)
	sr, err := r.runs.CreateStageRun(ledgerCtx, &domain.StageRun{RunID: runID, Stage: stage})
	if err != nil {
		return &ledgerError{fmt.Errorf("record stage %s: %w", stage, err)}
	}

	logger.Info("stage started")
	start := time.Now()
	res, err := r.stages[stage](ctx)
	took := time.Since(start)

	if err != nil {
		stageErr := &domain.StageError{Stage: stage, Err: err}
		msg := err.Error()
		r.metrics.ObserveStage(stage, domain.StageStatusFailed, took, nil)
		if ferr := r.runs.FinishStageRun(ledgerCtx, sr.ID, domain.StageStatusFailed, nil, &msg); ferr != nil {
			return &ledgerError{fmt.Errorf("record stage %s result: %w", stage, ferr)}
		}
		logger.Error("stage failed", "error", err, "took", took)
		return stageErr
	}

	r.metrics.ObserveStage(stage, domain.StageStatusSuccess, took, res)
	if err := r.runs.FinishStageRun(ledgerCtx, sr.ID, domain.StageStatusSuccess, res, nil); err != nil {
		return &ledgerError{fmt.Errorf("record stage %s result: %w", stage, err)}
	}
	logger.Info("stage completed", "took", took, "rows_written", res.RowsWritten)
	return nil
}

func (r *Runner) recordStage(ctx context.Context, runID, stage, status string, msg *string) error {
	now := time.Now()
	_, err := r.runs.CreateStageRun(ctx, &domain.StageRun{
		RunID:        runID,
		Stage:        stage,
		Status:       status,
		FinishedAt:   &now,
		ErrorMessage: msg,
	})
	if err != nil {
		return fmt.Errorf("record stage %s: %w", stage, err)
	}
	return nil
}

// resumable returns the stages whose output the latest run left complete,
// mapped to the run that produced it. Nothing is reused when the latest run
// succeeded.
func (r *Runner) resumable(ctx context.Context, req RunRequest) (map[string]string, error) {
	latest, err := r.runs.LatestRun(ctx)
	if err != nil {
		var notFound *domain.NotFoundError
		if errors.As(err, &notFound) {
			r.logger.Info("no previous run to resume")
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("find run to resume: %w", err)
	}
	if latest.Status == domain.RunStatusSuccess {
		r.logger.Info("latest run succeeded, nothing to resume", "run_id", latest.ID)
		return map[string]string{}, nil
	}
	if latest.OutputRoot != req.OutputRoot || latest.InputRoot != req.InputRoot {
		return nil, domain.ErrValidation("cannot resume run %s: it used input %q and output %q",
			latest.ID, latest.InputRoot, latest.OutputRoot)
	}

	stages, err := r.runs.ListStageRuns(ctx, latest.ID)
	if err != nil {
		return nil, fmt.Errorf("list stages of run %s: %w", latest.ID, err)
	}
	out := map[string]string{}
	for _, sr := range stages {
		switch sr.Status {
		case domain.StageStatusSuccess:
			out[sr.Stage] = latest.ID
		case domain.StageStatusReused:
			// keep pointing at the run that produced the output
			out[sr.Stage] = strings.TrimPrefix(derefOr(sr.ErrorMessage, latest.ID), "output reused from run ")
		}
	}
	r.logger.Info("resuming", "from_run", latest.ID, "reused", len(out))
	return out, nil
}

// Summary loads a run and its stages from the ledger.
func (r *Runner) Summary(ctx context.Context, runID string) (*RunSummary, error) {
	return LoadSummary(ctx, r.runs, runID)
}

// LoadSummary reads a recorded run and its stages.
func LoadSummary(ctx context.Context, runs domain.RunRepository, runID string) (*RunSummary, error) {
	run, err := runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	stages, err := runs.ListStageRuns(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &RunSummary{Run: run, Stages: stages}, nil
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}
