package cost

// Rates holds per-provider pricing configuration.
type Rates struct {
	Anthropic  map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	Embeddings EmbeddingRate        `yaml:"embeddings" mapstructure:"embeddings"`
	OCR        OCRRate              `yaml:"ocr" mapstructure:"ocr"`
}

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// EmbeddingRate holds embedding token pricing.
type EmbeddingRate struct {
	PerMTok float64 `yaml:"per_mtok" mapstructure:"per_mtok"`
}

// OCRRate holds per-page OCR pricing.
type OCRRate struct {
	PerPage float64 `yaml:"per_page" mapstructure:"per_page"`
}

// DefaultRates returns pricing for the default model set.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
		},
		Embeddings: EmbeddingRate{PerMTok: 0.02},
		OCR:        OCRRate{PerPage: 0.001},
	}
}

// Calculator computes estimated costs for metered external-service usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Claude computes the cost for a Claude API call.
func (c *Calculator) Claude(model string, input, output, cacheWrite, cacheRead int) float64 {
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}

	inCost := (float64(input) / 1e6) * rate.Input
	outCost := (float64(output) / 1e6) * rate.Output
	cwCost := (float64(cacheWrite) / 1e6) * rate.Input * rate.CacheWriteMul
	crCost := (float64(cacheRead) / 1e6) * rate.Input * rate.CacheReadMul

	return inCost + outCost + cwCost + crCost
}

// Embeddings computes the cost for embedding token usage.
func (c *Calculator) Embeddings(tokens int) float64 {
	return (float64(tokens) / 1e6) * c.rates.Embeddings.PerMTok
}

// OCR computes the cost for OCR page processing.
func (c *Calculator) OCR(pages int) float64 {
	return float64(pages) * c.rates.OCR.PerPage
}
