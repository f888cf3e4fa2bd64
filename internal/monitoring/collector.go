// Package monitoring aggregates run outcomes into point-in-time snapshots
// for the metrics endpoint.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/clauselens/clauselens/internal/model"
	"github.com/clauselens/clauselens/internal/store"
)

// MetricsSnapshot holds a point-in-time view of analysis activity.
type MetricsSnapshot struct {
	// Run counts within the lookback window.
	RunsTotal     int       `json:"runs_total"`
	RunsCompleted int       `json:"runs_completed"`
	RunsFailed    int       `json:"runs_failed"`
	RunsCancelled int       `json:"runs_cancelled"`
	RunsInFlight  int       `json:"runs_in_flight"`
	FailureRate   float64   `json:"failure_rate"`
	TotalCostUSD  float64   `json:"total_cost_usd"`
	TotalTokens   int       `json:"total_tokens"`
	AvgDurationMs int64     `json:"avg_duration_ms"`
	TruncatedRuns int       `json:"truncated_runs"`
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the run store.
type Collector struct {
	store store.Store
}

func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}
	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListRuns(ctx, model.RunFilter{
		CreatedAfter: cutoff,
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	var totalDuration int64
	var finishedWithDuration int

	for _, r := range runs {
		switch r.Status {
		case model.RunStatusCompleted:
			snap.RunsCompleted++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusCancelled:
			snap.RunsCancelled++
		default:
			snap.RunsInFlight++
		}
		snap.TotalCostUSD += r.EstimatedCost
		snap.TotalTokens += r.TokenUsage.Total()
		if r.WasTruncated {
			snap.TruncatedRuns++
		}
		if r.Status == model.RunStatusCompleted && r.ProcessingTimeMs > 0 {
			totalDuration += r.ProcessingTimeMs
			finishedWithDuration++
		}
	}

	if finished := snap.RunsCompleted + snap.RunsFailed; finished > 0 {
		snap.FailureRate = float64(snap.RunsFailed) / float64(finished)
	}
	if finishedWithDuration > 0 {
		snap.AvgDurationMs = totalDuration / int64(finishedWithDuration)
	}
	return snap, nil
}
