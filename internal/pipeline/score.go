package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/clauselens/clauselens/internal/config"
	"github.com/clauselens/clauselens/internal/model"
	"github.com/clauselens/clauselens/pkg/anthropic"
)

const scoreSystemPrompt = `You are a legal analyst grading contract clauses for risk to the receiving party. For each numbered clause, return a risk level and a numeric score.

Levels: low, medium, high, critical. Score: 0.0 (harmless) to 10.0 (deal-breaking).

Respond with a valid JSON array, one object per clause:
[{"chunk_index": <int>, "category": "<category>", "level": "<level>", "score": <0.0-10.0>, "findings": "<1-2 sentences on what makes this clause risky or safe>"}]

Score every clause you are given, using its exact chunk_index and category.`

// scoredClause pairs a confident classification with its chunk text.
type scoredClause struct {
	class model.Classification
	chunk model.Chunk
}

// ScoreStage grades each confidently-classified clause for risk.
type ScoreStage struct {
	ai    anthropic.Client
	aiCfg config.AnthropicConfig
	cfg   config.PipelineConfig
}

func NewScoreStage(ai anthropic.Client, aiCfg config.AnthropicConfig, cfg config.PipelineConfig) *ScoreStage {
	return &ScoreStage{ai: ai, aiCfg: aiCfg, cfg: cfg}
}

func (s *ScoreStage) Name() string     { return StageScore }
func (s *ScoreStage) Provider() string { return "anthropic" }

func (s *ScoreStage) Steps(ctx context.Context, rc *RunContext) ([]Step, error) {
	clauses, err := s.loadClauses(ctx, rc)
	if err != nil {
		return nil, err
	}

	batchSize := s.cfg.ScoreBatchSize
	if batchSize <= 0 {
		batchSize = 5
	}

	var steps []Step
	for start := 0; start < len(clauses); start += batchSize {
		end := start + batchSize
		if end > len(clauses) {
			end = len(clauses)
		}
		batch := clauses[start:end]
		first := start
		steps = append(steps, funcStep{
			key: fmt.Sprintf("batch-%d", start/batchSize),
			fn: func(ctx context.Context, rc *RunContext) Outcome {
				return s.scoreBatch(ctx, rc, batch, first, len(clauses))
			},
		})
	}
	return steps, nil
}

func (s *ScoreStage) Gate(ctx context.Context, rc *RunContext) Outcome {
	return Success(Result{})
}

// loadClauses joins confident classifications with their chunk text, in
// deterministic (chunk_index, category) order so resumed runs batch
// identically.
func (s *ScoreStage) loadClauses(ctx context.Context, rc *RunContext) ([]scoredClause, error) {
	cls, err := rc.Store.ListClassifications(ctx, rc.Run.ID)
	if err != nil {
		return nil, eris.Wrap(err, "score: list classifications")
	}
	chunks, err := rc.Store.ListChunks(ctx, rc.Run.ID)
	if err != nil {
		return nil, eris.Wrap(err, "score: list chunks")
	}

	byIndex := make(map[int]model.Chunk, len(chunks))
	for _, c := range chunks {
		byIndex[c.Index] = c
	}

	minConf := s.cfg.MinConfidence
	var out []scoredClause
	for _, cl := range cls {
		if cl.Confidence < minConf {
			continue
		}
		chunk, ok := byIndex[cl.ChunkIndex]
		if !ok {
			zap.L().Warn("score: classification has no chunk",
				zap.String("analysis_id", rc.Run.ID),
				zap.Int("chunk_index", cl.ChunkIndex))
			continue
		}
		out = append(out, scoredClause{class: cl, chunk: chunk})
	}
	return out, nil
}

func (s *ScoreStage) scoreBatch(ctx context.Context, rc *RunContext, batch []scoredClause, first, total int) Outcome {
	var sb strings.Builder
	for _, clause := range batch {
		fmt.Fprintf(&sb, "### Clause chunk_index=%d category=%s\n", clause.class.ChunkIndex, clause.class.Category)
		if cat, ok := rc.Taxonomy.Category(clause.class.Category); ok && cat.RiskGuidance != "" {
			fmt.Fprintf(&sb, "Risk guidance: %s\n", cat.RiskGuidance)
		}
		sb.WriteString(clause.chunk.Text)
		sb.WriteString("\n\n")
	}

	resp, err := s.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     s.aiCfg.ScoreModel,
		MaxTokens: maxTokensOr(s.aiCfg.MaxTokens, 2048),
		System:    anthropic.BuildCachedSystemBlocks(scoreSystemPrompt),
		Messages:  []anthropic.Message{{Role: "user", Content: sb.String()}},
	})
	if err != nil {
		return Retryable(eris.Wrap(err, "score: create message"))
	}
	resp.Usage.LogUsage(s.aiCfg.ScoreModel, StageScore)

	var raw []struct {
		ChunkIndex int     `json:"chunk_index"`
		Category   string  `json:"category"`
		Level      string  `json:"level"`
		Score      float64 `json:"score"`
		Findings   string  `json:"findings"`
	}
	if err := json.Unmarshal([]byte(stripJSONFence(resp.Text())), &raw); err != nil {
		return Retryable(eris.Wrap(err, "score: parse response"))
	}

	asked := make(map[string]bool, len(batch))
	for _, clause := range batch {
		asked[clauseKey(clause.class.ChunkIndex, clause.class.Category)] = true
	}

	var scores []model.ClauseScore
	for _, r := range raw {
		if !asked[clauseKey(r.ChunkIndex, r.Category)] {
			zap.L().Warn("score: response references clause outside batch",
				zap.String("analysis_id", rc.Run.ID),
				zap.Int("chunk_index", r.ChunkIndex),
				zap.String("category", r.Category))
			continue
		}
		if !model.ValidRiskLevel(r.Level) {
			zap.L().Warn("score: response uses unknown risk level",
				zap.String("analysis_id", rc.Run.ID),
				zap.String("level", r.Level))
			continue
		}
		if r.Score < 0 {
			r.Score = 0
		}
		if r.Score > 10 {
			r.Score = 10
		}
		scores = append(scores, model.ClauseScore{
			AnalysisID: rc.Run.ID,
			ChunkIndex: r.ChunkIndex,
			Category:   r.Category,
			Level:      model.RiskLevel(r.Level),
			Score:      r.Score,
			Findings:   r.Findings,
		})
	}

	return Success(Result{
		ClauseScores: scores,
		Usage:        usageFromAPI(resp.Usage),
		Truncated:    resp.StopReason == "max_tokens",
		Message:      fmt.Sprintf("Scoring clause %d of %d", first+len(batch), total),
	})
}

func clauseKey(chunkIndex int, category string) string {
	return fmt.Sprintf("%d/%s", chunkIndex, category)
}
