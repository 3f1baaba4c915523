package store

import (
	"context"

	"github.com/me/tickbatch/pkg/model"
)

// Store persists run history: one row per run and one per concluded case
// instance. Schedule state itself is never persisted.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *model.Run) error
	FinishRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error)

	// Case results
	RecordCase(ctx context.Context, result *model.CaseResult) error
	ListCaseResults(ctx context.Context, runID string) ([]*model.CaseResult, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
