package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/clauselens/clauselens/internal/config"
	"github.com/clauselens/clauselens/internal/cost"
	"github.com/clauselens/clauselens/internal/model"
	"github.com/clauselens/clauselens/internal/progress"
	"github.com/clauselens/clauselens/internal/ratelimit"
	"github.com/clauselens/clauselens/internal/store"
	"github.com/clauselens/clauselens/pkg/anthropic"
	"github.com/clauselens/clauselens/pkg/embeddings"
)

// --- Anthropic Mock ---

type mockAnthropicClient struct {
	mock.Mock
}

func (m *mockAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

// aiResponse wraps a JSON payload in a MessageResponse the way the real API
// returns it.
func aiResponse(payload any) *anthropic.MessageResponse {
	encoded, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return &anthropic.MessageResponse{
		Content:    []anthropic.ContentBlock{{Type: "text", Text: string(encoded)}},
		StopReason: "end_turn",
		Usage:      anthropic.TokenUsage{InputTokens: 100, OutputTokens: 50},
	}
}

// --- Embeddings Mock ---

type mockEmbeddingsClient struct {
	mock.Mock
}

func (m *mockEmbeddingsClient) Embed(ctx context.Context, texts []string) (*embeddings.EmbedResponse, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*embeddings.EmbedResponse), args.Error(1)
}

// stubEmbedder sizes its vectors to the input, for tests that don't care
// about call accounting.
type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, texts []string) (*embeddings.EmbedResponse, error) {
	return embedOK(texts), nil
}

// embedOK returns one small vector per input text.
func embedOK(texts []string) *embeddings.EmbedResponse {
	vectors := make([][]float64, len(texts))
	for i := range texts {
		vectors[i] = []float64{0.1, 0.2}
	}
	tokens := 0
	for _, t := range texts {
		tokens += EstimateTokens(t)
	}
	return &embeddings.EmbedResponse{Vectors: vectors, Tokens: tokens}
}

// --- OCR Mock ---

type mockOCRExtractor struct {
	mock.Mock
}

func (m *mockOCRExtractor) ExtractText(ctx context.Context, pdfPath string) (string, error) {
	args := m.Called(ctx, pdfPath)
	return args.String(0), args.Error(1)
}

// --- Fixtures ---

func testTaxonomy(t *testing.T) *model.Taxonomy {
	t.Helper()
	return &model.Taxonomy{
		Version: "test",
		Categories: []model.TaxonomyCategory{
			{Name: "indemnification", Description: "Who covers whose losses.", Required: true, RiskGuidance: "Uncapped indemnities are high risk."},
			{Name: "limitation_of_liability", Description: "Caps on damages.", Required: true},
			{Name: "governing_law", Description: "Which law applies."},
		},
	}
}

func testAnthropicConfig() config.AnthropicConfig {
	return config.AnthropicConfig{
		ClassifyModel: "claude-haiku-4-5-20251001",
		ScoreModel:    "claude-sonnet-4-5-20250929",
		MaxTokens:     2048,
	}
}

func testPipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		ClassifyBatchSize:   8,
		ScoreBatchSize:      5,
		MaxStepAttempts:     3,
		ChunkTargetTokens:   120,
		ChunkOverlapTokens:  0,
		MinConfidence:       0.5,
		ScannedCharsPerPage: 40,
	}
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })
	return st
}

// newTestRunContext seeds a processing run and builds a RunContext around it.
func newTestRunContext(t *testing.T, st store.Store) *RunContext {
	t.Helper()
	run := &model.AnalysisRun{
		ID:         "run-1",
		TenantID:   "acme",
		DocumentID: "doc-1",
		Status:     model.RunStatusProcessing,
	}
	require.NoError(t, st.CreateRun(context.Background(), run))
	return &RunContext{
		Run:       run,
		Store:     st,
		Taxonomy:  testTaxonomy(t),
		Pipeline:  testPipelineConfig(),
		Cancelled: func(context.Context) bool { return false },
	}
}

// newTestOrchestrator wires an orchestrator with a real in-memory store and
// broker around the given stages.
func newTestOrchestrator(t *testing.T, stages []Stage) (*Orchestrator, store.Store, *progress.MemoryBroker) {
	t.Helper()
	st := newTestStore(t)
	broker := progress.NewMemoryBroker()
	t.Cleanup(func() { broker.Close() })
	emitter := progress.NewEmitter(st, broker, 0)
	limiter := ratelimit.New(nil)
	return New(st, limiter, emitter, testTaxonomy(t), testPipelineConfig(), stages), st, broker
}

// defaultTestStages builds the standard stage list over mocked providers.
func defaultTestStages(ai anthropic.Client, embedder embeddings.Client, extractor *mockOCRExtractor) []Stage {
	cfg := config.Config{
		Pipeline: testPipelineConfig(),
		Anthropic: config.AnthropicConfig{
			ClassifyModel: "claude-haiku-4-5-20251001",
			ScoreModel:    "claude-sonnet-4-5-20250929",
		},
	}
	return DefaultStages(ai, embedder, extractor, cost.NewCalculator(cost.DefaultRates()), cfg, nil)
}

// collectEvents drains a subscription until the channel closes or the
// deadline passes, returning everything received.
func collectEvents(ch <-chan model.ProgressEvent, deadline time.Duration) []model.ProgressEvent {
	var out []model.ProgressEvent
	timer := time.NewTimer(deadline)
	defer timer.Stop()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timer.C:
			return out
		}
	}
}
