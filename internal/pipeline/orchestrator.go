// Package pipeline orchestrates the contract analysis stages: extract,
// optional OCR, chunk, classify, score, gap analysis, and finalize. The
// orchestrator is the single choke point for persistence, progress, rate
// limiting, retries, and cancellation; stages only compute.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/clauselens/clauselens/internal/config"
	"github.com/clauselens/clauselens/internal/cost"
	"github.com/clauselens/clauselens/internal/model"
	"github.com/clauselens/clauselens/internal/ocr"
	"github.com/clauselens/clauselens/internal/progress"
	"github.com/clauselens/clauselens/internal/ratelimit"
	"github.com/clauselens/clauselens/internal/resilience"
	"github.com/clauselens/clauselens/internal/store"
	"github.com/clauselens/clauselens/pkg/anthropic"
	"github.com/clauselens/clauselens/pkg/embeddings"
	"github.com/clauselens/clauselens/pkg/notion"
)

// Orchestrator drives analysis runs through the stage sequence. One
// orchestrator serves the whole process; each run occupies one goroutine.
type Orchestrator struct {
	store    store.Store
	limiter  *ratelimit.Limiter
	emitter  *progress.Emitter
	taxonomy *model.Taxonomy
	cfg      config.PipelineConfig
	retry    resilience.RetryConfig
	stages   []Stage

	mu      sync.Mutex
	running map[string]bool
	cancels map[string]bool
	started map[string]time.Time
}

// New builds an orchestrator over an ordered stage list. Use DefaultStages
// for the standard sequence.
func New(st store.Store, limiter *ratelimit.Limiter, emitter *progress.Emitter, taxonomy *model.Taxonomy, cfg config.PipelineConfig, stages []Stage) *Orchestrator {
	retry := resilience.DefaultRetryConfig()
	if cfg.MaxStepAttempts > 0 {
		retry.MaxAttempts = cfg.MaxStepAttempts
	}
	return &Orchestrator{
		store:    st,
		limiter:  limiter,
		emitter:  emitter,
		taxonomy: taxonomy,
		cfg:      cfg,
		retry:    retry,
		stages:   stages,
		running:  make(map[string]bool),
		cancels:  make(map[string]bool),
		started:  make(map[string]time.Time),
	}
}

// DefaultStages wires the standard stage sequence. notionCli may be nil to
// disable report export.
func DefaultStages(ai anthropic.Client, embedder embeddings.Client, extractor ocr.Extractor, calc *cost.Calculator, cfg config.Config, notionCli notion.Client) []Stage {
	return []Stage{
		NewExtractStage(),
		NewOCRStage(extractor),
		NewChunkStage(embedder, cfg.Pipeline),
		NewClassifyStage(ai, cfg.Anthropic, cfg.Pipeline),
		NewScoreStage(ai, cfg.Anthropic, cfg.Pipeline),
		NewGapsStage(cfg.Pipeline.MinConfidence),
		NewFinalizeStage(calc, cfg.Anthropic, cfg.Notion, notionCli),
	}
}

// Start registers a new analysis run, or returns the existing one when an
// active run for the same (tenant, document) already exists; created is
// false in that case. It does not execute the pipeline; call Run with the
// returned ID.
func (o *Orchestrator) Start(ctx context.Context, tenantID, documentID, documentPath string) (run *model.AnalysisRun, created bool, err error) {
	if active, err := o.store.FindActiveRun(ctx, tenantID, documentID); err == nil {
		zap.L().Info("analysis already active, returning existing run",
			zap.String("tenant_id", tenantID),
			zap.String("document_id", documentID),
			zap.String("analysis_id", active.ID))
		return active, false, nil
	} else if !eris.Is(err, store.ErrNotFound) {
		return nil, false, eris.Wrap(err, "orchestrator: find active run")
	}

	now := time.Now().UTC()
	run = &model.AnalysisRun{
		ID:              uuid.NewString(),
		TenantID:        tenantID,
		DocumentID:      documentID,
		DocumentPath:    documentPath,
		Status:          model.RunStatusPending,
		ProgressStage:   StageExtract,
		ProgressMessage: "Queued",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, false, eris.Wrap(err, "orchestrator: create run")
	}
	zap.L().Info("analysis started",
		zap.String("analysis_id", run.ID),
		zap.String("tenant_id", tenantID),
		zap.String("document_id", documentID))
	return run, true, nil
}

// Run executes the pipeline for one analysis until a terminal state. It is
// safe to call again after a crash or cancel: completed steps are skipped
// via the step-done table.
func (o *Orchestrator) Run(ctx context.Context, analysisID string) error {
	o.mu.Lock()
	if o.running[analysisID] {
		o.mu.Unlock()
		return eris.Errorf("orchestrator: analysis %s is already running", analysisID)
	}
	o.running[analysisID] = true
	o.started[analysisID] = time.Now()
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.running, analysisID)
		delete(o.cancels, analysisID)
		delete(o.started, analysisID)
		o.mu.Unlock()
		o.emitter.Forget(analysisID)
	}()

	run, err := o.store.GetRun(ctx, analysisID)
	if err != nil {
		return eris.Wrap(err, "orchestrator: load run")
	}
	if run.Status == model.RunStatusCompleted {
		return nil
	}
	if run.Status == model.RunStatusFailed || run.Status == model.RunStatusCancelled {
		return eris.Errorf("orchestrator: analysis %s is %s; resume or restart it first", analysisID, run.Status)
	}

	rc := &RunContext{
		Run:      run,
		Store:    o.store,
		Taxonomy: o.taxonomy,
		Pipeline: o.cfg,
		Cancelled: func(ctx context.Context) bool {
			return o.cancelRequested(ctx, run)
		},
	}

	done, err := o.store.ListDoneSteps(ctx, analysisID)
	if err != nil {
		return eris.Wrap(err, "orchestrator: list done steps")
	}

	// On resume the scanned flag is already on record.
	scanned := false
	if done[store.StepDoneKey(StageExtract, "full")] {
		text, err := o.store.GetExtractedText(ctx, analysisID)
		if err != nil {
			return eris.Wrap(err, "orchestrator: load extract result")
		}
		scanned = text.Scanned
	}

	for _, stage := range o.stages {
		if stage.Name() == StageOCR && !scanned {
			continue
		}

		if err := o.enterStage(ctx, run, stage.Name(), scanned); err != nil {
			return err
		}

		steps, err := stage.Steps(ctx, rc)
		if err != nil {
			return o.fail(ctx, run, fmt.Sprintf("could not prepare %s stage", stage.Name()), err)
		}

		base, weight := stageSpan(stage.Name(), scanned)
		for i, step := range steps {
			key := store.StepDoneKey(stage.Name(), step.Key())
			if done[key] {
				continue
			}

			if err := o.acquire(ctx, run, stage); err != nil {
				// Context gone: process shutdown. Leave the run as-is so a
				// later Run call picks up where it stopped.
				return err
			}

			if o.cancelRequested(ctx, run) {
				return o.cancelRun(ctx, run, stage.Name())
			}

			outcome := o.executeStep(ctx, rc, stage, step)
			switch outcome.Kind {
			case OutcomeValidationFailed:
				return o.fail(ctx, run, outcome.Reason, nil)
			case OutcomeRetryable:
				if ctx.Err() != nil {
					return eris.Wrap(outcome.Err, "orchestrator: interrupted")
				}
				return o.fail(ctx, run, fmt.Sprintf("%s stage failed after retries", stage.Name()), outcome.Err)
			}

			res := outcome.Result
			if err := o.persistResult(ctx, run, &res); err != nil {
				return o.fail(ctx, run, "could not persist stage results", err)
			}
			if err := o.store.MarkStepDone(ctx, run.ID, stage.Name(), step.Key()); err != nil {
				return o.fail(ctx, run, "could not record step completion", err)
			}
			done[key] = true

			run.TokenUsage.Add(res.Usage)
			if res.Truncated {
				run.WasTruncated = true
			}
			if res.Report != "" {
				run.Report = res.Report
			}

			percent := base + weight*(i+1)/len(steps)
			msg := res.Message
			if msg == "" {
				msg = fmt.Sprintf("Running %s", stage.Name())
			}
			if err := o.emitter.Emit(ctx, run, stage.Name(), percent, msg, 0); err != nil {
				return o.fail(ctx, run, "could not persist progress", err)
			}
		}

		gate := stage.Gate(ctx, rc)
		switch gate.Kind {
		case OutcomeValidationFailed:
			return o.fail(ctx, run, gate.Reason, nil)
		case OutcomeRetryable:
			return o.fail(ctx, run, fmt.Sprintf("%s stage verification failed", stage.Name()), gate.Err)
		}

		if stage.Name() == StageExtract {
			text, err := o.store.GetExtractedText(ctx, run.ID)
			if err != nil {
				return o.fail(ctx, run, "could not load extract result", err)
			}
			scanned = text.Scanned
		}
	}

	now := time.Now().UTC()
	run.Status = model.RunStatusCompleted
	run.CompletedAt = &now
	o.elapse(run)
	if err := o.emitter.Emit(ctx, run, StageFinalize, 100, "Analysis complete", 0); err != nil {
		return eris.Wrap(err, "orchestrator: persist completion")
	}

	zap.L().Info("analysis complete",
		zap.String("analysis_id", run.ID),
		zap.Int64("processing_time_ms", run.ProcessingTimeMs),
		zap.Float64("estimated_cost", run.EstimatedCost),
		zap.Int("total_tokens", run.TokenUsage.Total()))
	return nil
}

// Cancel flags a run for cooperative cancellation. The running pipeline
// notices at the next step boundary; already-persisted results stay put so
// the run can be resumed later.
func (o *Orchestrator) Cancel(ctx context.Context, analysisID string) error {
	run, err := o.store.GetRun(ctx, analysisID)
	if err != nil {
		return eris.Wrap(err, "orchestrator: load run")
	}
	if run.Status.Terminal() {
		return eris.Errorf("orchestrator: analysis %s is already %s", analysisID, run.Status)
	}
	if err := o.store.RequestCancel(ctx, analysisID); err != nil {
		return eris.Wrap(err, "orchestrator: request cancel")
	}
	o.mu.Lock()
	o.cancels[analysisID] = true
	o.mu.Unlock()
	zap.L().Info("cancel requested", zap.String("analysis_id", analysisID))
	return nil
}

// Resume readies a cancelled, failed, or interrupted run for another Run
// call. Completed steps are not redone.
func (o *Orchestrator) Resume(ctx context.Context, analysisID string) (*model.AnalysisRun, error) {
	o.mu.Lock()
	inFlight := o.running[analysisID]
	o.mu.Unlock()
	if inFlight {
		return nil, eris.Errorf("orchestrator: analysis %s is still running", analysisID)
	}

	run, err := o.store.GetRun(ctx, analysisID)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: load run")
	}
	if run.Status == model.RunStatusCompleted {
		return nil, eris.Errorf("orchestrator: analysis %s already completed", analysisID)
	}

	run.Status = model.RunStatusPending
	run.CancelRequested = false
	run.Error = ""
	run.Debug = ""
	run.QueuePosition = 0
	if err := o.emitter.Emit(ctx, run, run.ProgressStage, run.ProgressPercent, "Resuming analysis", 0); err != nil {
		return nil, eris.Wrap(err, "orchestrator: persist resume")
	}

	o.mu.Lock()
	delete(o.cancels, analysisID)
	o.mu.Unlock()
	zap.L().Info("analysis resumed", zap.String("analysis_id", analysisID))
	return run, nil
}

// Restart throws away a run and all its stage records and registers a fresh
// run for the same document.
func (o *Orchestrator) Restart(ctx context.Context, analysisID string) (*model.AnalysisRun, error) {
	o.mu.Lock()
	inFlight := o.running[analysisID]
	o.mu.Unlock()
	if inFlight {
		return nil, eris.Errorf("orchestrator: analysis %s is still running; cancel it first", analysisID)
	}

	old, err := o.store.GetRun(ctx, analysisID)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: load run")
	}
	if err := o.store.DeleteRun(ctx, analysisID); err != nil {
		return nil, eris.Wrap(err, "orchestrator: delete run")
	}
	zap.L().Info("analysis restarted",
		zap.String("old_analysis_id", analysisID),
		zap.String("document_id", old.DocumentID))
	fresh, _, err := o.Start(ctx, old.TenantID, old.DocumentID, old.DocumentPath)
	return fresh, err
}

// Subscribe exposes the progress event stream for one run.
func (o *Orchestrator) Subscribe(analysisID string) (<-chan model.ProgressEvent, func()) {
	return o.emitter.Subscribe(analysisID)
}

// enterStage persists the status transition for a stage boundary. The
// extract stage runs under pending; OCR runs under pending_ocr; everything
// after runs under processing.
func (o *Orchestrator) enterStage(ctx context.Context, run *model.AnalysisRun, stageName string, scanned bool) error {
	var status model.RunStatus
	switch stageName {
	case StageExtract:
		status = model.RunStatusPending
	case StageOCR:
		status = model.RunStatusPendingOCR
	default:
		status = model.RunStatusProcessing
	}
	if run.Status == status {
		return nil
	}
	run.Status = status
	base, _ := stageSpan(stageName, scanned)
	if err := o.emitter.Emit(ctx, run, stageName, base, fmt.Sprintf("Starting %s", stageName), 0); err != nil {
		return eris.Wrapf(err, "orchestrator: enter stage %s", stageName)
	}
	return nil
}

// acquire blocks on the stage's provider bucket. When the bucket is
// contended, the run's queue position is surfaced before waiting.
func (o *Orchestrator) acquire(ctx context.Context, run *model.AnalysisRun, stage Stage) error {
	provider := stage.Provider()
	if provider == "" {
		return nil
	}
	if waiting := o.limiter.Waiting(provider); waiting > 0 {
		if err := o.emitter.Emit(ctx, run, stage.Name(), run.ProgressPercent,
			fmt.Sprintf("Waiting for %s capacity", provider), waiting+1); err != nil {
			return eris.Wrap(err, "orchestrator: persist queue position")
		}
	}
	if _, err := o.limiter.Acquire(ctx, provider); err != nil {
		return eris.Wrapf(err, "orchestrator: acquire %s", provider)
	}
	return nil
}

// executeStep runs one step under the retry policy with a per-attempt
// timeout. A first timeout counts as transient; a second fails the step.
func (o *Orchestrator) executeStep(ctx context.Context, rc *RunContext, stage Stage, step Step) Outcome {
	var out Outcome
	timeouts := 0

	cfg := o.retry
	cfg.OnRetry = resilience.RetryLogger(rc.Run.ID, stage.Name(), step.Key())

	err := resilience.Do(ctx, cfg, func(ctx context.Context) error {
		stepCtx := ctx
		cancel := context.CancelFunc(func() {})
		if o.cfg.StepTimeout > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, o.cfg.StepTimeout)
		}
		out = step.Execute(stepCtx, rc)
		timedOut := stepCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil
		cancel()

		if timedOut {
			timeouts++
			if timeouts >= 2 {
				return eris.Errorf("step %s timed out twice after %s", step.Key(), o.cfg.StepTimeout)
			}
			return resilience.NewTransientError(eris.Errorf("step %s timed out after %s", step.Key(), o.cfg.StepTimeout), 0)
		}
		if out.Kind == OutcomeRetryable {
			return resilience.NewTransientError(out.Err, 0)
		}
		return nil
	})
	if err != nil {
		return Retryable(err)
	}
	return out
}

// persistResult writes every record slice the step produced. All writes are
// natural-key upserts, so replaying a step after a crash between persist and
// MarkStepDone overwrites instead of duplicating.
func (o *Orchestrator) persistResult(ctx context.Context, run *model.AnalysisRun, res *Result) error {
	if res.ExtractedText != nil {
		if err := o.store.UpsertExtractedText(ctx, res.ExtractedText); err != nil {
			return eris.Wrap(err, "orchestrator: upsert extracted text")
		}
	}
	if len(res.Chunks) > 0 {
		if err := o.store.UpsertChunks(ctx, res.Chunks); err != nil {
			return eris.Wrap(err, "orchestrator: upsert chunks")
		}
	}
	if len(res.Classifications) > 0 {
		if err := o.store.UpsertClassifications(ctx, res.Classifications); err != nil {
			return eris.Wrap(err, "orchestrator: upsert classifications")
		}
	}
	if len(res.ClauseScores) > 0 {
		if err := o.store.UpsertClauseScores(ctx, res.ClauseScores); err != nil {
			return eris.Wrap(err, "orchestrator: upsert clause scores")
		}
	}
	if len(res.Gaps) > 0 {
		if err := o.store.UpsertGaps(ctx, res.Gaps); err != nil {
			return eris.Wrap(err, "orchestrator: upsert gaps")
		}
	}
	return nil
}

// cancelRequested checks the local flag first, then the persisted one so
// cancels issued by another process are honored too.
func (o *Orchestrator) cancelRequested(ctx context.Context, run *model.AnalysisRun) bool {
	o.mu.Lock()
	local := o.cancels[run.ID]
	o.mu.Unlock()
	if local {
		run.CancelRequested = true
		return true
	}

	fresh, err := o.store.GetRun(ctx, run.ID)
	if err != nil {
		zap.L().Warn("orchestrator: cancel check failed",
			zap.String("analysis_id", run.ID),
			zap.Error(err))
		return run.CancelRequested
	}
	run.Version = fresh.Version
	run.CancelRequested = fresh.CancelRequested
	return fresh.CancelRequested
}

// elapse folds the time since the current run attempt started into the
// run's cumulative processing time.
func (o *Orchestrator) elapse(run *model.AnalysisRun) {
	o.mu.Lock()
	if start, ok := o.started[run.ID]; ok {
		run.ProcessingTimeMs += time.Since(start).Milliseconds()
		o.started[run.ID] = time.Now()
	}
	o.mu.Unlock()
}

func (o *Orchestrator) cancelRun(ctx context.Context, run *model.AnalysisRun, stageName string) error {
	run.Status = model.RunStatusCancelled
	o.elapse(run)
	if err := o.emitter.Emit(ctx, run, stageName, run.ProgressPercent,
		fmt.Sprintf("Cancelled during %s", stageName), 0); err != nil {
		return eris.Wrap(err, "orchestrator: persist cancel")
	}
	zap.L().Info("analysis cancelled",
		zap.String("analysis_id", run.ID),
		zap.String("stage", stageName))
	return nil
}

// fail moves the run to failed with a short user-facing reason; the full
// error chain lands in the debug column.
func (o *Orchestrator) fail(ctx context.Context, run *model.AnalysisRun, reason string, cause error) error {
	run.Status = model.RunStatusFailed
	run.Error = reason
	o.elapse(run)
	if cause != nil {
		run.Debug = eris.ToString(cause, true)
	}
	if err := o.emitter.Emit(ctx, run, run.ProgressStage, run.ProgressPercent, reason, 0); err != nil {
		zap.L().Error("orchestrator: persist failure state",
			zap.String("analysis_id", run.ID),
			zap.Error(err))
	}
	zap.L().Error("analysis failed",
		zap.String("analysis_id", run.ID),
		zap.String("stage", run.ProgressStage),
		zap.String("reason", reason),
		zap.Error(cause))
	if cause != nil {
		return eris.Wrap(cause, reason)
	}
	return eris.New(reason)
}

// stageSpan returns the progress range [base, base+weight) for a stage.
// Extract keeps the same span in both tables so the percent stays monotone
// when the scanned flag flips the table mid-run.
func stageSpan(stageName string, withOCR bool) (base, weight int) {
	order := []string{StageExtract, StageChunk, StageClassify, StageScore, StageGaps, StageFinalize}
	weights := map[string]int{
		StageExtract: 15, StageChunk: 20, StageClassify: 25,
		StageScore: 20, StageGaps: 10, StageFinalize: 10,
	}
	if withOCR {
		order = []string{StageExtract, StageOCR, StageChunk, StageClassify, StageScore, StageGaps, StageFinalize}
		weights = map[string]int{
			StageExtract: 15, StageOCR: 10, StageChunk: 15, StageClassify: 25,
			StageScore: 15, StageGaps: 10, StageFinalize: 10,
		}
	}
	for _, name := range order {
		if name == stageName {
			return base, weights[name]
		}
		base += weights[name]
	}
	return base, 0
}
