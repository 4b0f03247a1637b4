package store

import (
	"context"
	"time"

	"github.com/opsline/deckhand/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store is the run journal. Targets live in configuration; only runs and
// their step records are persisted.
type Store interface {
	// Run operations
	CreateRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, id string) (*domain.Run, error)
	UpdateRun(ctx context.Context, run *domain.Run) error
	ListRuns(ctx context.Context, opts ListOptions) ([]domain.Run, error)
	ListRunsByTarget(ctx context.Context, target string, opts ListOptions) ([]domain.Run, error)
	LatestRunByTarget(ctx context.Context, target string) (*domain.Run, error)

	// FailAbandonedRuns marks every non-terminal run failed with the given
	// message. Called once at startup: a pending or running run in the
	// journal at that point was orphaned by a previous process.
	FailAbandonedRuns(ctx context.Context, message string) (int64, error)

	// PruneRuns deletes terminal runs that finished before the cutoff,
	// always keeping the most recent keepPerTarget runs of each target.
	PruneRuns(ctx context.Context, cutoff time.Time, keepPerTarget int) (int64, error)

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination and filter options.
type ListOptions struct {
	Limit  int
	Offset int

	// Status restricts the list to runs in the given state. Empty means all.
	Status domain.RunStatus
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
