// Package testutil provides shared fakes and mocks of domain interfaces for
// use in tests across the codebase.
package testutil

import (
	"context"

	"duck-etl/internal/domain"
)

// === Run Repository Mock ===

// MockRunRepository implements domain.RunRepository for testing. Methods
// without a function set panic.
type MockRunRepository struct {
	CreateRunFn      func(ctx context.Context, run *domain.Run) (*domain.Run, error)
	FinishRunFn      func(ctx context.Context, runID, status string, errMsg *string) error
	CreateStageRunFn func(ctx context.Context, sr *domain.StageRun) (*domain.StageRun, error)
	FinishStageRunFn func(ctx context.Context, stageRunID, status string, result *domain.StageResult, errMsg *string) error
	GetRunFn         func(ctx context.Context, runID string) (*domain.Run, error)
	LatestRunFn      func(ctx context.Context) (*domain.Run, error)
	ListRunsFn       func(ctx context.Context, limit int) ([]domain.Run, error)
	ListStageRunsFn  func(ctx context.Context, runID string) ([]domain.StageRun, error)
}

var _ domain.RunRepository = (*MockRunRepository)(nil)

// CreateRun implements the interface method for testing.
func (m *MockRunRepository) CreateRun(ctx context.Context, run *domain.Run) (*domain.Run, error) {
	if m.CreateRunFn != nil {
		return m.CreateRunFn(ctx, run)
	}
	panic("unexpected call to MockRunRepository.CreateRun")
}

// FinishRun implements the interface method for testing.
func (m *MockRunRepository) FinishRun(ctx context.Context, runID, status string, errMsg *string) error {
	if m.FinishRunFn != nil {
		return m.FinishRunFn(ctx, runID, status, errMsg)
	}
	panic("unexpected call to MockRunRepository.FinishRun")
}

// CreateStageRun implements the interface method for testing.
func (m *MockRunRepository) CreateStageRun(ctx context.Context, sr *domain.StageRun) (*domain.StageRun, error) {
	if m.CreateStageRunFn != nil {
		return m.CreateStageRunFn(ctx, sr)
	}
	panic("unexpected call to MockRunRepository.CreateStageRun")
}

// FinishStageRun implements the interface method for testing.
func (m *MockRunRepository) FinishStageRun(ctx context.Context, stageRunID, status string, result *domain.StageResult, errMsg *string) error {
	if m.FinishStageRunFn != nil {
		return m.FinishStageRunFn(ctx, stageRunID, status, result, errMsg)
	}
	panic("unexpected call to MockRunRepository.FinishStageRun")
}

// GetRun implements the interface method for testing.
func (m *MockRunRepository) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	if m.GetRunFn != nil {
		return m.GetRunFn(ctx, runID)
	}
	panic("unexpected call to MockRunRepository.GetRun")
}

// LatestRun implements the interface method for testing.
func (m *MockRunRepository) LatestRun(ctx context.Context) (*domain.Run, error) {
	if m.LatestRunFn != nil {
		return m.LatestRunFn(ctx)
	}
	panic("unexpected call to MockRunRepository.LatestRun")
}

// ListRuns implements the interface method for testing.
func (m *MockRunRepository) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if m.ListRunsFn != nil {
		return m.ListRunsFn(ctx, limit)
	}
	panic("unexpected call to MockRunRepository.ListRuns")
}

// ListStageRuns implements the interface method for testing.
func (m *MockRunRepository) ListStageRuns(ctx context.Context, runID string) ([]domain.StageRun, error) {
	if m.ListStageRunsFn != nil {
		return m.ListStageRunsFn(ctx, runID)
	}
	panic("unexpected call to MockRunRepository.ListStageRuns")
}
