package store

import (
	"context"
	"errors"

	"github.com/seantiz/procjoin/internal/model"
)

// ErrInvalidTransition is returned when a handle status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// RunStats holds aggregate execution statistics.
type RunStats struct {
	TotalRuns        int            `json:"total_runs"`
	RunsByStatus     map[string]int `json:"runs_by_status"`
	TotalHandles     int            `json:"total_handles"`
	HandlesByOutcome map[string]int `json:"handles_by_outcome"`
	HandlesByBackend map[string]int `json:"handles_by_backend"`
	AvgRunDurationMS float64        `json:"avg_run_duration_ms"`
}

// Store defines the ledger operations for runs and their handles.
type Store interface {
	CreateRun(ctx context.Context, r *model.Run) error
	FinishRun(ctx context.Context, r *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*model.Run, int, error)

	CreateHandle(ctx context.Context, h *model.Handle) error
	StartHandle(ctx context.Context, id string, pid int) error
	FinishHandle(ctx context.Context, h *model.Handle) error
	GetHandle(ctx context.Context, id string) (*model.Handle, error)
	ListHandles(ctx context.Context, runID string) ([]*model.Handle, error)

	GetRunStats(ctx context.Context) (*RunStats, error)
	Close() error
}
