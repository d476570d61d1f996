package domain

import "context"

// RunRepository persists the runner's ledger of runs and step outcomes.
type RunRepository interface {
	CreateRun(ctx context.Context, run *Run) (*Run, error)
	FinishRun(ctx context.Context, id, status string, errMsg *string) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	RecordStep(ctx context.Context, step *StepRun) (*StepRun, error)
	ListStepsByRun(ctx context.Context, runID string) ([]StepRun, error)
	LastSaved(ctx context.Context, stepURI string) (*StepRun, error)
}
