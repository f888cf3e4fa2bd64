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

const classifySystemPrompt = `You are a legal analyst classifying contract clauses. For each numbered chunk, assign zero or more categories from this closed taxonomy:

%s

Respond with a valid JSON array, one object per (chunk, category) assignment:
[{"chunk_index": <int>, "category": "<taxonomy name>", "confidence": <0.0-1.0>, "rationale": "<one sentence>"}]

Use only the given chunk_index values. A chunk that matches no category gets no entries. Never invent category names.`

// ClassifyStage assigns taxonomy categories to each chunk, one LLM call per
// batch of chunks.
type ClassifyStage struct {
	ai    anthropic.Client
	aiCfg config.AnthropicConfig
	cfg   config.PipelineConfig
}

func NewClassifyStage(ai anthropic.Client, aiCfg config.AnthropicConfig, cfg config.PipelineConfig) *ClassifyStage {
	return &ClassifyStage{ai: ai, aiCfg: aiCfg, cfg: cfg}
}

func (s *ClassifyStage) Name() string     { return StageClassify }
func (s *ClassifyStage) Provider() string { return "anthropic" }

func (s *ClassifyStage) Steps(ctx context.Context, rc *RunContext) ([]Step, error) {
	chunks, err := rc.Store.ListChunks(ctx, rc.Run.ID)
	if err != nil {
		return nil, eris.Wrap(err, "classify: list chunks")
	}

	batchSize := s.cfg.ClassifyBatchSize
	if batchSize <= 0 {
		batchSize = 8
	}

	var steps []Step
	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		steps = append(steps, funcStep{
			key: fmt.Sprintf("batch-%d", start/batchSize),
			fn: func(ctx context.Context, rc *RunContext) Outcome {
				return s.classifyBatch(ctx, rc, batch, len(chunks))
			},
		})
	}
	return steps, nil
}

// Gate enforces that classification found at least one clause: a contract
// where nothing matches the taxonomy cannot be scored meaningfully.
func (s *ClassifyStage) Gate(ctx context.Context, rc *RunContext) Outcome {
	cls, err := rc.Store.ListClassifications(ctx, rc.Run.ID)
	if err != nil {
		return Retryable(eris.Wrap(err, "classify: list classifications"))
	}
	if len(cls) == 0 {
		return ValidationFailed("no clauses matched the taxonomy; document does not look like a contract")
	}
	return Success(Result{})
}

func (s *ClassifyStage) classifyBatch(ctx context.Context, rc *RunContext, batch []model.Chunk, total int) Outcome {
	var sb strings.Builder
	for _, c := range batch {
		fmt.Fprintf(&sb, "### Chunk %d", c.Index)
		if c.Heading != "" {
			fmt.Fprintf(&sb, " (%s)", c.Heading)
		}
		sb.WriteString("\n")
		sb.WriteString(c.Text)
		sb.WriteString("\n\n")
	}

	resp, err := s.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     s.aiCfg.ClassifyModel,
		MaxTokens: maxTokensOr(s.aiCfg.MaxTokens, 2048),
		System:    anthropic.BuildCachedSystemBlocks(fmt.Sprintf(classifySystemPrompt, taxonomyPromptBlock(rc.Taxonomy))),
		Messages:  []anthropic.Message{{Role: "user", Content: sb.String()}},
	})
	if err != nil {
		return Retryable(eris.Wrap(err, "classify: create message"))
	}
	resp.Usage.LogUsage(s.aiCfg.ClassifyModel, StageClassify)

	var raw []struct {
		ChunkIndex int     `json:"chunk_index"`
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
		Rationale  string  `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(stripJSONFence(resp.Text())), &raw); err != nil {
		return Retryable(eris.Wrap(err, "classify: parse response"))
	}

	valid := make(map[int]bool, len(batch))
	for _, c := range batch {
		valid[c.Index] = true
	}

	var cls []model.Classification
	for _, r := range raw {
		if !valid[r.ChunkIndex] {
			zap.L().Warn("classify: response references chunk outside batch",
				zap.String("analysis_id", rc.Run.ID),
				zap.Int("chunk_index", r.ChunkIndex))
			continue
		}
		if _, ok := rc.Taxonomy.Category(r.Category); !ok {
			zap.L().Warn("classify: response uses unknown category",
				zap.String("analysis_id", rc.Run.ID),
				zap.String("category", r.Category))
			continue
		}
		if r.Confidence < 0 {
			r.Confidence = 0
		}
		if r.Confidence > 1 {
			r.Confidence = 1
		}
		cls = append(cls, model.Classification{
			AnalysisID: rc.Run.ID,
			ChunkIndex: r.ChunkIndex,
			Category:   r.Category,
			Confidence: r.Confidence,
			Rationale:  r.Rationale,
		})
	}

	last := batch[len(batch)-1].Index + 1
	return Success(Result{
		Classifications: cls,
		Usage:           usageFromAPI(resp.Usage),
		Truncated:       resp.StopReason == "max_tokens",
		Message:         fmt.Sprintf("Classified %d of %d sections", last, total),
	})
}

// taxonomyPromptBlock renders the taxonomy as a prompt fragment.
func taxonomyPromptBlock(t *model.Taxonomy) string {
	var sb strings.Builder
	for _, c := range t.Categories {
		fmt.Fprintf(&sb, "- %s: %s", c.Name, c.Description)
		if c.Required {
			sb.WriteString(" (required in most contracts)")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// stripJSONFence removes a markdown code fence around a JSON payload, which
// models add despite instructions.
func stripJSONFence(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

func usageFromAPI(u anthropic.TokenUsage) model.TokenUsage {
	return model.TokenUsage{
		InputTokens:         int(u.InputTokens),
		OutputTokens:        int(u.OutputTokens),
		CacheCreationTokens: int(u.CacheCreationInputTokens),
		CacheReadTokens:     int(u.CacheReadInputTokens),
	}
}

func maxTokensOr(v, def int64) int64 {
	if v > 0 {
		return v
	}
	return def
}
