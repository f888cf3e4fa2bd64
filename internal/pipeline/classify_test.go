package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/clauselens/clauselens/internal/model"
	"github.com/clauselens/clauselens/pkg/anthropic"
)

func TestStripJSONFence(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{`[{"a":1}]`, `[{"a":1}]`},
		{"```json\n[{\"a\":1}]\n```", `[{"a":1}]`},
		{"```\n[{\"a\":1}]\n```", `[{"a":1}]`},
		{"  \n```json\n[]\n```  ", `[]`},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, stripJSONFence(tc.in))
	}
}

func TestMaxTokensOr(t *testing.T) {
	assert.Equal(t, int64(4096), maxTokensOr(4096, 2048))
	assert.Equal(t, int64(2048), maxTokensOr(0, 2048))
	assert.Equal(t, int64(2048), maxTokensOr(-1, 2048))
}

func TestUsageFromAPI(t *testing.T) {
	got := usageFromAPI(anthropic.TokenUsage{
		InputTokens:              10,
		OutputTokens:             20,
		CacheCreationInputTokens: 30,
		CacheReadInputTokens:     40,
	})
	assert.Equal(t, model.TokenUsage{
		InputTokens:         10,
		OutputTokens:        20,
		CacheCreationTokens: 30,
		CacheReadTokens:     40,
	}, got)
}

func TestTaxonomyPromptBlock(t *testing.T) {
	block := taxonomyPromptBlock(testTaxonomy(t))
	assert.Contains(t, block, "- indemnification: Who covers whose losses.")
	assert.Contains(t, block, "(required in most contracts)")
	assert.Contains(t, block, "- governing_law: Which law applies.")
}

func seedChunks(t *testing.T, rc *RunContext, texts ...string) {
	t.Helper()
	chunks := make([]model.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = model.Chunk{AnalysisID: rc.Run.ID, Index: i, Text: text, TokenCount: EstimateTokens(text)}
	}
	require.NoError(t, rc.Store.UpsertChunks(context.Background(), chunks))
}

func TestClassifyStage_ParsesAndFilters(t *testing.T) {
	st := newTestStore(t)
	rc := newTestRunContext(t, st)
	seedChunks(t, rc,
		"Vendor shall indemnify the Customer against all claims.",
		"This agreement is governed by Delaware law.",
	)

	ai := &mockAnthropicClient{}
	ai.On("CreateMessage", mock.Anything, mock.Anything).Return(aiResponse([]map[string]any{
		{"chunk_index": 0, "category": "indemnification", "confidence": 0.92, "rationale": "broad indemnity"},
		{"chunk_index": 1, "category": "governing_law", "confidence": 1.7, "rationale": "clamped"},
		{"chunk_index": 1, "category": "made_up_category", "confidence": 0.9}, // unknown category, dropped
		{"chunk_index": 99, "category": "governing_law", "confidence": 0.9},   // outside batch, dropped
	}), nil)

	stage := NewClassifyStage(ai, testAnthropicConfig(), rc.Pipeline)
	steps, err := stage.Steps(context.Background(), rc)
	require.NoError(t, err)
	require.Len(t, steps, 1)

	out := steps[0].Execute(context.Background(), rc)
	require.Equal(t, OutcomeSuccess, out.Kind)

	cls := out.Result.Classifications
	require.Len(t, cls, 2)
	assert.Equal(t, "indemnification", cls[0].Category)
	assert.InDelta(t, 0.92, cls[0].Confidence, 1e-9)
	assert.Equal(t, "governing_law", cls[1].Category)
	assert.InDelta(t, 1.0, cls[1].Confidence, 1e-9, "confidence clamps to [0,1]")

	assert.Equal(t, 100, out.Result.Usage.InputTokens)
	ai.AssertExpectations(t)
}

func TestClassifyStage_BatchesByConfiguredSize(t *testing.T) {
	st := newTestStore(t)
	rc := newTestRunContext(t, st)
	rc.Pipeline.ClassifyBatchSize = 2
	seedChunks(t, rc, "one", "two", "three", "four", "five")

	stage := NewClassifyStage(&mockAnthropicClient{}, testAnthropicConfig(), rc.Pipeline)
	steps, err := stage.Steps(context.Background(), rc)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, "batch-0", steps[0].Key())
	assert.Equal(t, "batch-1", steps[1].Key())
	assert.Equal(t, "batch-2", steps[2].Key())
}

func TestClassifyStage_MalformedResponseIsRetryable(t *testing.T) {
	st := newTestStore(t)
	rc := newTestRunContext(t, st)
	seedChunks(t, rc, "some clause text")

	ai := &mockAnthropicClient{}
	ai.On("CreateMessage", mock.Anything, mock.Anything).Return(&anthropic.MessageResponse{
		Content:    []anthropic.ContentBlock{{Type: "text", Text: "I am not JSON"}},
		StopReason: "end_turn",
	}, nil)

	stage := NewClassifyStage(ai, testAnthropicConfig(), rc.Pipeline)
	steps, err := stage.Steps(context.Background(), rc)
	require.NoError(t, err)

	out := steps[0].Execute(context.Background(), rc)
	assert.Equal(t, OutcomeRetryable, out.Kind)
	assert.Error(t, out.Err)
}

func TestClassifyStage_TruncatedResponseFlagsRun(t *testing.T) {
	st := newTestStore(t)
	rc := newTestRunContext(t, st)
	seedChunks(t, rc, "some clause text")

	resp := aiResponse([]map[string]any{
		{"chunk_index": 0, "category": "indemnification", "confidence": 0.8},
	})
	resp.StopReason = "max_tokens"

	ai := &mockAnthropicClient{}
	ai.On("CreateMessage", mock.Anything, mock.Anything).Return(resp, nil)

	stage := NewClassifyStage(ai, testAnthropicConfig(), rc.Pipeline)
	steps, err := stage.Steps(context.Background(), rc)
	require.NoError(t, err)

	out := steps[0].Execute(context.Background(), rc)
	require.Equal(t, OutcomeSuccess, out.Kind)
	assert.True(t, out.Result.Truncated)
}

func TestClassifyStage_GateRequiresClassifications(t *testing.T) {
	st := newTestStore(t)
	rc := newTestRunContext(t, st)
	stage := NewClassifyStage(&mockAnthropicClient{}, testAnthropicConfig(), rc.Pipeline)

	gate := stage.Gate(context.Background(), rc)
	assert.Equal(t, OutcomeValidationFailed, gate.Kind)
	assert.Contains(t, gate.Reason, "does not look like a contract")

	require.NoError(t, st.UpsertClassifications(context.Background(), []model.Classification{
		{AnalysisID: rc.Run.ID, ChunkIndex: 0, Category: "indemnification", Confidence: 0.9},
	}))
	gate = stage.Gate(context.Background(), rc)
	assert.Equal(t, OutcomeSuccess, gate.Kind)
}
