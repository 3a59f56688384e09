// Package store persists order runs, the manual review queue, and the
// learned retry statistics.
package store

import (
	"context"
	"time"

	"github.com/sells-group/partmatch/internal/model"
	"github.com/sells-group/partmatch/internal/pipeline"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	OrderID      string          `json:"order_id,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// ReviewStatus tracks a review queue entry through human handling.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewResolved ReviewStatus = "resolved"
)

// ReviewEntry is one queued manual review with its handling state.
type ReviewEntry struct {
	ID         string                   `json:"id"`
	RunID      string                   `json:"run_id"`
	Record     model.ManualReviewRecord `json:"record"`
	Status     ReviewStatus             `json:"status"`
	Resolution string                   `json:"resolution,omitempty"`
	CreatedAt  time.Time                `json:"created_at"`
	ResolvedAt *time.Time               `json:"resolved_at,omitempty"`
}

// ReviewFilter specifies criteria for listing review queue entries.
type ReviewFilter struct {
	RunID  string       `json:"run_id,omitempty"`
	Status ReviewStatus `json:"status,omitempty"`
	Limit  int          `json:"limit,omitempty"`
}

// Store defines the persistence interface for the matching pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, order model.Order) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Review queue
	EnqueueReviews(ctx context.Context, runID string, records []model.ManualReviewRecord) error
	ListReviews(ctx context.Context, filter ReviewFilter) ([]ReviewEntry, error)
	ResolveReview(ctx context.Context, reviewID string, resolution string) error
	CountPendingReviews(ctx context.Context) (int, error)

	// Retry statistics
	SaveRetryStats(ctx context.Context, snaps []pipeline.RateSnapshot) error
	LoadRetryStats(ctx context.Context) ([]pipeline.RateSnapshot, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
