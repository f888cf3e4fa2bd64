package monitoring

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clauselens/clauselens/internal/model"
	"github.com/clauselens/clauselens/internal/store"
)

func seedRun(t *testing.T, st store.Store, id string, status model.RunStatus, mutate func(*model.AnalysisRun)) {
	t.Helper()
	run := &model.AnalysisRun{
		ID:         id,
		TenantID:   "acme",
		DocumentID: "doc-" + id,
		Status:     model.RunStatusPending,
	}
	require.NoError(t, st.CreateRun(context.Background(), run))
	run.Status = status
	if mutate != nil {
		mutate(run)
	}
	require.NoError(t, st.UpdateRun(context.Background(), run))
}

func TestCollect_AggregatesRunOutcomes(t *testing.T) {
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	defer st.Close()

	seedRun(t, st, "r1", model.RunStatusCompleted, func(r *model.AnalysisRun) {
		r.EstimatedCost = 0.25
		r.TokenUsage = model.TokenUsage{InputTokens: 1000, OutputTokens: 200}
		r.ProcessingTimeMs = 4000
	})
	seedRun(t, st, "r2", model.RunStatusCompleted, func(r *model.AnalysisRun) {
		r.EstimatedCost = 0.15
		r.ProcessingTimeMs = 2000
		r.WasTruncated = true
	})
	seedRun(t, st, "r3", model.RunStatusFailed, nil)
	seedRun(t, st, "r4", model.RunStatusCancelled, nil)
	seedRun(t, st, "r5", model.RunStatusProcessing, nil)

	snap, err := NewCollector(st).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 5, snap.RunsTotal)
	assert.Equal(t, 2, snap.RunsCompleted)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.Equal(t, 1, snap.RunsCancelled)
	assert.Equal(t, 1, snap.RunsInFlight)
	assert.InDelta(t, 1.0/3.0, snap.FailureRate, 1e-9)
	assert.InDelta(t, 0.40, snap.TotalCostUSD, 1e-9)
	assert.Equal(t, 1200, snap.TotalTokens)
	assert.Equal(t, int64(3000), snap.AvgDurationMs)
	assert.Equal(t, 1, snap.TruncatedRuns)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollect_EmptyWindow(t *testing.T) {
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	defer st.Close()

	snap, err := NewCollector(st).Collect(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, snap.RunsTotal)
	assert.Zero(t, snap.FailureRate)
	assert.Zero(t, snap.AvgDurationMs)
}
