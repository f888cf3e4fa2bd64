package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" mapstructure:"embeddings"`
	OCR        OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	RateLimits RateLimitConfig  `yaml:"rate_limits" mapstructure:"rate_limits"`
	Progress   ProgressConfig   `yaml:"progress" mapstructure:"progress"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	ClassifyModel string `yaml:"classify_model" mapstructure:"classify_model"`
	ScoreModel    string `yaml:"score_model" mapstructure:"score_model"`
	MaxTokens     int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// EmbeddingsConfig holds the embedding provider settings.
type EmbeddingsConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// OCRConfig configures scanned-document text extraction.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"` // "local" or "mistral"
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MistralKey    string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel  string `yaml:"mistral_ocr_model" mapstructure:"mistral_ocr_model"`
}

// NotionConfig holds optional report-export settings.
type NotionConfig struct {
	Token    string `yaml:"token" mapstructure:"token"`
	ReportDB string `yaml:"report_db" mapstructure:"report_db"`
}

// PipelineConfig configures orchestrator behavior.
type PipelineConfig struct {
	TaxonomyPath       string        `yaml:"taxonomy_path" mapstructure:"taxonomy_path"`
	ClassifyBatchSize  int           `yaml:"classify_batch_size" mapstructure:"classify_batch_size"`
	ScoreBatchSize     int           `yaml:"score_batch_size" mapstructure:"score_batch_size"`
	BatchConcurrency   int           `yaml:"batch_concurrency" mapstructure:"batch_concurrency"`
	MaxStepAttempts    int           `yaml:"max_step_attempts" mapstructure:"max_step_attempts"`
	StepTimeout        time.Duration `yaml:"step_timeout" mapstructure:"step_timeout"`
	ChunkTargetTokens  int           `yaml:"chunk_target_tokens" mapstructure:"chunk_target_tokens"`
	ChunkOverlapTokens int           `yaml:"chunk_overlap_tokens" mapstructure:"chunk_overlap_tokens"`
	MinConfidence      float64       `yaml:"min_confidence" mapstructure:"min_confidence"`
	ScannedCharsPerPage int          `yaml:"scanned_chars_per_page" mapstructure:"scanned_chars_per_page"`
}

// RateLimitConfig holds per-provider token-bucket settings, keyed by provider
// name ("anthropic", "embeddings", "ocr", "notion").
type RateLimitConfig struct {
	Providers map[string]BucketConfig `yaml:"providers" mapstructure:"providers"`
}

// BucketConfig configures one provider token bucket.
type BucketConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
}

// ProgressConfig configures the progress emitter.
type ProgressConfig struct {
	// PublishInterval is the minimum time between published events per run.
	// Persistence is never throttled.
	PublishInterval time.Duration `yaml:"publish_interval" mapstructure:"publish_interval"`
	// Bus selects the event fan-out backend: "memory" or "redis".
	Bus          string `yaml:"bus" mapstructure:"bus"`
	RedisAddr    string `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisChannel string `yaml:"redis_channel" mapstructure:"redis_channel"`
}

// PricingConfig holds per-provider pricing rates.
type PricingConfig struct {
	Anthropic  map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
	Embeddings EmbeddingPricing        `yaml:"embeddings" mapstructure:"embeddings"`
	OCR        OCRPricing              `yaml:"ocr" mapstructure:"ocr"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// EmbeddingPricing holds embedding token pricing.
type EmbeddingPricing struct {
	PerMTok float64 `yaml:"per_mtok" mapstructure:"per_mtok"`
}

// OCRPricing holds per-page OCR pricing.
type OCRPricing struct {
	PerPage float64 `yaml:"per_page" mapstructure:"per_page"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CLAUSELENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "clauselens.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.classify_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.score_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("embeddings.base_url", "https://api.openai.com/v1")
	v.SetDefault("embeddings.model", "text-embedding-3-small")
	v.SetDefault("ocr.provider", "local")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.mistral_ocr_model", "pixtral-large-latest")
	v.SetDefault("pipeline.classify_batch_size", 8)
	v.SetDefault("pipeline.score_batch_size", 5)
	v.SetDefault("pipeline.batch_concurrency", 3)
	v.SetDefault("pipeline.max_step_attempts", 3)
	v.SetDefault("pipeline.step_timeout", "2m")
	v.SetDefault("pipeline.chunk_target_tokens", 600)
	v.SetDefault("pipeline.chunk_overlap_tokens", 60)
	v.SetDefault("pipeline.min_confidence", 0.5)
	v.SetDefault("pipeline.scanned_chars_per_page", 40)
	v.SetDefault("rate_limits.providers.anthropic.requests_per_minute", 60)
	v.SetDefault("rate_limits.providers.anthropic.burst", 10)
	v.SetDefault("rate_limits.providers.embeddings.requests_per_minute", 300)
	v.SetDefault("rate_limits.providers.embeddings.burst", 50)
	v.SetDefault("rate_limits.providers.ocr.requests_per_minute", 30)
	v.SetDefault("rate_limits.providers.ocr.burst", 5)
	v.SetDefault("progress.publish_interval", "250ms")
	v.SetDefault("progress.bus", "memory")
	v.SetDefault("progress.redis_channel", "clauselens.progress")
	v.SetDefault("pricing.anthropic.claude-haiku-4-5-20251001.input", 0.80)
	v.SetDefault("pricing.anthropic.claude-haiku-4-5-20251001.output", 4.00)
	v.SetDefault("pricing.anthropic.claude-haiku-4-5-20251001.cache_write_mul", 1.25)
	v.SetDefault("pricing.anthropic.claude-haiku-4-5-20251001.cache_read_mul", 0.1)
	v.SetDefault("pricing.anthropic.claude-sonnet-4-5-20250929.input", 3.00)
	v.SetDefault("pricing.anthropic.claude-sonnet-4-5-20250929.output", 15.00)
	v.SetDefault("pricing.anthropic.claude-sonnet-4-5-20250929.cache_write_mul", 1.25)
	v.SetDefault("pricing.anthropic.claude-sonnet-4-5-20250929.cache_read_mul", 0.1)
	v.SetDefault("pricing.embeddings.per_mtok", 0.02)
	v.SetDefault("pricing.ocr.per_page", 0.001)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
