package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/clauselens/clauselens/internal/cost"
	"github.com/clauselens/clauselens/internal/model"
	"github.com/clauselens/clauselens/internal/monitoring"
	"github.com/clauselens/clauselens/internal/ocr"
	"github.com/clauselens/clauselens/internal/pipeline"
	"github.com/clauselens/clauselens/internal/progress"
	"github.com/clauselens/clauselens/internal/ratelimit"
	"github.com/clauselens/clauselens/internal/store"
	anthropicpkg "github.com/clauselens/clauselens/pkg/anthropic"
	"github.com/clauselens/clauselens/pkg/embeddings"
	"github.com/clauselens/clauselens/pkg/notion"
)

// analysisEnv holds the initialized store, clients, and orchestrator shared
// by the analyze/serve/runs commands.
type analysisEnv struct {
	Store        store.Store
	Orchestrator *pipeline.Orchestrator
	Collector    *monitoring.Collector
	Broker       progress.Broker
}

// Close releases resources held by the environment.
func (e *analysisEnv) Close() {
	if e.Broker != nil {
		_ = e.Broker.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv sets up the store, API clients, rate limiter, progress plumbing,
// and the orchestrator. Callers should defer env.Close().
func initEnv(ctx context.Context) (*analysisEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	taxonomy, err := model.LoadTaxonomy(cfg.Pipeline.TaxonomyPath)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "load taxonomy")
	}

	aiClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
	var embedOpts []embeddings.Option
	if cfg.Embeddings.BaseURL != "" {
		embedOpts = append(embedOpts, embeddings.WithBaseURL(cfg.Embeddings.BaseURL))
	}
	embedClient := embeddings.NewClient(cfg.Embeddings.Key, cfg.Embeddings.Model, embedOpts...)

	extractor, err := ocr.NewExtractor(cfg.OCR)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	var notionClient notion.Client
	if cfg.Notion.Token != "" {
		notionClient = notion.NewClient(cfg.Notion.Token)
		zap.L().Info("notion report export enabled")
	}

	limiter := ratelimit.New(bucketSpecs())
	broker, err := initBroker()
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	emitter := progress.NewEmitter(st, broker, cfg.Progress.PublishInterval)

	calc := cost.NewCalculator(rates())
	stages := pipeline.DefaultStages(aiClient, embedClient, extractor, calc, *cfg, notionClient)
	orch := pipeline.New(st, limiter, emitter, taxonomy, cfg.Pipeline, stages)

	return &analysisEnv{
		Store:        st,
		Orchestrator: orch,
		Collector:    monitoring.NewCollector(st),
		Broker:       broker,
	}, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConns, cfg.Store.MinConns)
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func initBroker() (progress.Broker, error) {
	switch cfg.Progress.Bus {
	case "redis":
		return progress.NewRedisBroker(cfg.Progress.RedisAddr, cfg.Progress.RedisChannel)
	case "memory", "":
		return progress.NewMemoryBroker(), nil
	default:
		return nil, eris.Errorf("unknown progress bus %q", cfg.Progress.Bus)
	}
}

func bucketSpecs() map[string]ratelimit.BucketSpec {
	specs := make(map[string]ratelimit.BucketSpec, len(cfg.RateLimits.Providers))
	for name, b := range cfg.RateLimits.Providers {
		specs[name] = ratelimit.BucketSpec{
			RequestsPerMinute: b.RequestsPerMinute,
			Burst:             b.Burst,
		}
	}
	return specs
}

// rates maps the pricing config onto cost rates, falling back to defaults
// for anything unset.
func rates() cost.Rates {
	r := cost.DefaultRates()
	for m, p := range cfg.Pricing.Anthropic {
		r.Anthropic[m] = cost.ModelRate{
			Input:         p.Input,
			Output:        p.Output,
			CacheWriteMul: p.CacheWriteMul,
			CacheReadMul:  p.CacheReadMul,
		}
	}
	if cfg.Pricing.Embeddings.PerMTok > 0 {
		r.Embeddings.PerMTok = cfg.Pricing.Embeddings.PerMTok
	}
	if cfg.Pricing.OCR.PerPage > 0 {
		r.OCR.PerPage = cfg.Pricing.OCR.PerPage
	}
	return r
}
