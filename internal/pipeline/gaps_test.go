package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clauselens/clauselens/internal/model"
)

func analyzeGaps(t *testing.T, rc *RunContext) []model.Gap {
	t.Helper()
	stage := NewGapsStage(rc.Pipeline.MinConfidence)
	steps, err := stage.Steps(context.Background(), rc)
	require.NoError(t, err)
	require.Len(t, steps, 1)

	out := steps[0].Execute(context.Background(), rc)
	require.Equal(t, OutcomeSuccess, out.Kind)
	return out.Result.Gaps
}

func TestGapsStage_MissingRequiredCategoryIsCritical(t *testing.T) {
	st := newTestStore(t)
	rc := newTestRunContext(t, st)

	// Nothing classified at all: both required categories are missing; the
	// optional governing_law never becomes a gap.
	gaps := analyzeGaps(t, rc)
	require.Len(t, gaps, 2)
	for _, g := range gaps {
		assert.Equal(t, model.GapSeverityCritical, g.Severity)
		assert.True(t, g.Missing)
		assert.NotEmpty(t, g.Recommendation)
	}
	assert.Equal(t, "indemnification", gaps[0].Category)
	assert.Equal(t, "limitation_of_liability", gaps[1].Category)
}

func TestGapsStage_WeakCoverageIsWarning(t *testing.T) {
	st := newTestStore(t)
	rc := newTestRunContext(t, st)

	require.NoError(t, st.UpsertClassifications(context.Background(), []model.Classification{
		// Above min confidence but under the weak-coverage floor.
		{AnalysisID: rc.Run.ID, ChunkIndex: 0, Category: "indemnification", Confidence: 0.6},
		// Solidly covered.
		{AnalysisID: rc.Run.ID, ChunkIndex: 1, Category: "limitation_of_liability", Confidence: 0.9},
	}))

	gaps := analyzeGaps(t, rc)
	require.Len(t, gaps, 1)
	assert.Equal(t, "indemnification", gaps[0].Category)
	assert.Equal(t, model.GapSeverityWarning, gaps[0].Severity)
	assert.False(t, gaps[0].Missing)
}

func TestGapsStage_FullCoverageFindsNothing(t *testing.T) {
	st := newTestStore(t)
	rc := newTestRunContext(t, st)

	require.NoError(t, st.UpsertClassifications(context.Background(), []model.Classification{
		{AnalysisID: rc.Run.ID, ChunkIndex: 0, Category: "indemnification", Confidence: 0.95},
		{AnalysisID: rc.Run.ID, ChunkIndex: 1, Category: "limitation_of_liability", Confidence: 0.82},
	}))

	assert.Empty(t, analyzeGaps(t, rc))
}

func TestGapsStage_BestConfidencePerCategoryWins(t *testing.T) {
	st := newTestStore(t)
	rc := newTestRunContext(t, st)

	// Two matches for the same category: the stronger one decides.
	require.NoError(t, st.UpsertClassifications(context.Background(), []model.Classification{
		{AnalysisID: rc.Run.ID, ChunkIndex: 0, Category: "indemnification", Confidence: 0.4},
		{AnalysisID: rc.Run.ID, ChunkIndex: 3, Category: "indemnification", Confidence: 0.9},
		{AnalysisID: rc.Run.ID, ChunkIndex: 1, Category: "limitation_of_liability", Confidence: 0.8},
	}))

	assert.Empty(t, analyzeGaps(t, rc))
}
