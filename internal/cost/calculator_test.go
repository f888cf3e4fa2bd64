package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClaude_KnownModel(t *testing.T) {
	calc := NewCalculator(Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001": {Input: 0.80, Output: 4.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
		},
	})

	// 1M input + 1M output at list price.
	got := calc.Claude("claude-haiku-4-5-20251001", 1_000_000, 1_000_000, 0, 0)
	assert.InDelta(t, 4.80, got, 1e-9)

	// Cache writes cost 1.25x input, cache reads 0.1x input.
	got = calc.Claude("claude-haiku-4-5-20251001", 0, 0, 1_000_000, 1_000_000)
	assert.InDelta(t, 0.80*1.25+0.80*0.1, got, 1e-9)
}

func TestClaude_UnknownModelIsFree(t *testing.T) {
	calc := NewCalculator(DefaultRates())
	assert.Zero(t, calc.Claude("claude-unknown", 1_000_000, 1_000_000, 0, 0))
}

func TestEmbeddings(t *testing.T) {
	calc := NewCalculator(Rates{Embeddings: EmbeddingRate{PerMTok: 0.02}})
	assert.InDelta(t, 0.01, calc.Embeddings(500_000), 1e-9)
	assert.Zero(t, calc.Embeddings(0))
}

func TestOCR(t *testing.T) {
	calc := NewCalculator(Rates{OCR: OCRRate{PerPage: 0.001}})
	assert.InDelta(t, 0.025, calc.OCR(25), 1e-9)
}

func TestDefaultRates_CoverPipelineModels(t *testing.T) {
	rates := DefaultRates()
	for _, model := range []string{"claude-haiku-4-5-20251001", "claude-sonnet-4-5-20250929"} {
		r, ok := rates.Anthropic[model]
		assert.True(t, ok, model)
		assert.Positive(t, r.Input)
		assert.Positive(t, r.Output)
	}
	assert.Positive(t, rates.Embeddings.PerMTok)
	assert.Positive(t, rates.OCR.PerPage)
}
