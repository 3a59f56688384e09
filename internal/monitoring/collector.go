// Package monitoring gathers pipeline health metrics and raises alerts
// when match quality degrades or the review queue backs up.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/partmatch/internal/model"
	"github.com/sells-group/partmatch/internal/store"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsQueued   int     `json:"runs_queued"`
	RunFailRate  float64 `json:"run_fail_rate"`

	// Line item metrics aggregated over completed runs.
	ItemsTotal     int     `json:"items_total"`
	ItemsMatched   int     `json:"items_matched"`
	ItemsWarned    int     `json:"items_warned"`
	ItemsEscalated int     `json:"items_escalated"`
	MatchRate      float64 `json:"match_rate"`
	WarningRate    float64 `json:"warning_rate"`
	EscalationRate float64 `json:"escalation_rate"`
	AvgCombined    float64 `json:"avg_combined_score"`

	// Review queue depth across all runs.
	ReviewBacklog int `json:"review_backlog"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the run store.
type Collector struct {
	store store.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListRuns(ctx, store.RunFilter{
		CreatedAfter: cutoff,
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	var combinedSum float64
	var scoredRuns int

	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusQueued:
			snap.RunsQueued++
		}
		if r.Result != nil {
			snap.ItemsTotal += r.Result.ItemsTotal
			snap.ItemsMatched += r.Result.ItemsMatched
			snap.ItemsWarned += r.Result.ItemsWarned
			snap.ItemsEscalated += r.Result.ItemsEscalated
			if r.Result.AvgCombined > 0 {
				combinedSum += r.Result.AvgCombined
				scoredRuns++
			}
		}
	}

	finished := snap.RunsComplete + snap.RunsFailed
	if finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if snap.ItemsTotal > 0 {
		snap.MatchRate = float64(snap.ItemsMatched) / float64(snap.ItemsTotal)
		snap.EscalationRate = float64(snap.ItemsEscalated) / float64(snap.ItemsTotal)
	}
	if snap.ItemsMatched > 0 {
		snap.WarningRate = float64(snap.ItemsWarned) / float64(snap.ItemsMatched)
	}
	if scoredRuns > 0 {
		snap.AvgCombined = combinedSum / float64(scoredRuns)
	}

	backlog, err := c.store.CountPendingReviews(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count pending reviews")
	}
	snap.ReviewBacklog = backlog

	return snap, nil
}
