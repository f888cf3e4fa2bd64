package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/clauselens/clauselens/internal/config"
	"github.com/clauselens/clauselens/internal/model"
	"github.com/clauselens/clauselens/pkg/embeddings"
)

// embedBatchSize is how many chunks go into a single embeddings request.
const embedBatchSize = 16

// ChunkStage splits the extracted text into clause-sized pieces and embeds
// each one. Chunking is deterministic: a resumed run re-derives the exact
// same chunks from the persisted text, so the per-batch step keys line up.
type ChunkStage struct {
	embedder embeddings.Client
	cfg      config.PipelineConfig
}

func NewChunkStage(embedder embeddings.Client, cfg config.PipelineConfig) *ChunkStage {
	return &ChunkStage{embedder: embedder, cfg: cfg}
}

func (s *ChunkStage) Name() string     { return StageChunk }
func (s *ChunkStage) Provider() string { return "embeddings" }

func (s *ChunkStage) Steps(ctx context.Context, rc *RunContext) ([]Step, error) {
	text, err := rc.Store.GetExtractedText(ctx, rc.Run.ID)
	if err != nil {
		return nil, eris.Wrap(err, "chunk: load extracted text")
	}

	chunks := SplitIntoChunks(rc.Run.ID, text.Text, s.cfg.ChunkTargetTokens, s.cfg.ChunkOverlapTokens)
	if len(chunks) == 0 {
		return []Step{funcStep{key: "batch-0", fn: func(context.Context, *RunContext) Outcome {
			return ValidationFailed("document produced no analyzable chunks")
		}}}, nil
	}

	var steps []Step
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		steps = append(steps, funcStep{
			key: fmt.Sprintf("batch-%d", start/embedBatchSize),
			fn: func(ctx context.Context, rc *RunContext) Outcome {
				return s.embedBatch(ctx, batch, len(chunks))
			},
		})
	}
	return steps, nil
}

func (s *ChunkStage) Gate(ctx context.Context, rc *RunContext) Outcome {
	chunks, err := rc.Store.ListChunks(ctx, rc.Run.ID)
	if err != nil {
		return Retryable(eris.Wrap(err, "chunk: list chunks"))
	}
	if len(chunks) == 0 {
		return ValidationFailed("document produced no analyzable chunks")
	}
	return Success(Result{})
}

func (s *ChunkStage) embedBatch(ctx context.Context, batch []model.Chunk, total int) Outcome {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	resp, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return Retryable(eris.Wrap(err, "chunk: embed batch"))
	}
	if len(resp.Vectors) != len(batch) {
		return Retryable(eris.Errorf("chunk: embeddings returned %d vectors for %d texts", len(resp.Vectors), len(batch)))
	}

	out := make([]model.Chunk, len(batch))
	for i, c := range batch {
		c.Embedding = resp.Vectors[i]
		out[i] = c
	}

	last := batch[len(batch)-1].Index + 1
	return Success(Result{
		Chunks:  out,
		Usage:   model.TokenUsage{EmbeddingTokens: resp.Tokens},
		Message: fmt.Sprintf("Chunked and embedded %d of %d sections", last, total),
	})
}

// headingRe matches the section markers common in contracts: numbered
// articles ("12.", "12.3"), "ARTICLE IV", "Section 8", and shouty
// all-caps headings.
var headingRe = regexp.MustCompile(`(?m)^\s*(?:(?:ARTICLE|Article|SECTION|Section)\s+[IVXLC0-9][IVXLC0-9.]*|\d{1,2}(?:\.\d{1,2})*[.)]\s+\S|[A-Z][A-Z &/-]{4,})`)

// SplitIntoChunks breaks contract text into chunks of roughly targetTokens
// tokens, preferring to cut on section headings and paragraph boundaries.
// Adjacent chunks share overlapTokens of trailing context.
func SplitIntoChunks(analysisID, text string, targetTokens, overlapTokens int) []model.Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if targetTokens <= 0 {
		targetTokens = 600
	}

	sections := splitOnHeadings(text)

	var (
		chunks  []model.Chunk
		current strings.Builder
		heading string
		pending string // heading of the section being accumulated
	)
	flush := func() {
		body := strings.TrimSpace(current.String())
		if body == "" {
			return
		}
		chunks = append(chunks, model.Chunk{
			AnalysisID: analysisID,
			Index:      len(chunks),
			Heading:    heading,
			Text:       body,
			TokenCount: EstimateTokens(body),
		})
		if overlapTokens > 0 {
			tail := tailTokens(body, overlapTokens)
			current.Reset()
			current.WriteString(tail)
			current.WriteString("\n")
		} else {
			current.Reset()
		}
	}

	for _, sec := range sections {
		if current.Len() == 0 {
			heading = sec.heading
		} else {
			pending = sec.heading
		}
		for _, para := range strings.Split(sec.body, "\n\n") {
			para = strings.TrimSpace(para)
			if para == "" {
				continue
			}
			if EstimateTokens(current.String())+EstimateTokens(para) > targetTokens && current.Len() > 0 {
				flush()
				if pending != "" {
					heading = pending
					pending = ""
				}
			}
			current.WriteString(para)
			current.WriteString("\n\n")
		}
	}
	flush()
	return chunks
}

type section struct {
	heading string
	body    string
}

func splitOnHeadings(text string) []section {
	locs := headingRe.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []section{{body: text}}
	}

	var out []section
	if locs[0][0] > 0 {
		out = append(out, section{body: text[:locs[0][0]]})
	}
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := text[loc[0]:end]
		heading := strings.TrimSpace(firstLine(body))
		out = append(out, section{heading: heading, body: body})
	}
	return out
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// EstimateTokens approximates token count as chars/4, close enough for
// sizing chunks and cost estimates.
func EstimateTokens(s string) int {
	return len(s) / 4
}

func tailTokens(s string, tokens int) string {
	chars := tokens * 4
	if len(s) <= chars {
		return s
	}
	tail := s[len(s)-chars:]
	// cut on a word boundary so the overlap reads cleanly
	if i := strings.IndexAny(tail, " \n"); i >= 0 && i+1 < len(tail) {
		tail = tail[i+1:]
	}
	return tail
}
