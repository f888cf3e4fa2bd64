package progress

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/clauselens/clauselens/internal/model"
	"github.com/clauselens/clauselens/internal/store"
)

// versionRetries bounds how often a conflicted snapshot write is re-read and
// reapplied before giving up.
const versionRetries = 5

// Emitter persists progress snapshots (authoritative) and publishes
// ProgressEvents (best-effort). Percent is clamped monotone non-decreasing
// per run attempt; publishing is throttled per run, persistence never is.
type Emitter struct {
	store       store.Store
	broker      Broker
	minInterval time.Duration

	mu          sync.Mutex
	lastPublish map[string]time.Time
}

// NewEmitter creates an Emitter. minInterval is the minimum time between
// published events per run; zero disables throttling.
func NewEmitter(st store.Store, broker Broker, minInterval time.Duration) *Emitter {
	return &Emitter{
		store:       st,
		broker:      broker,
		minInterval: minInterval,
		lastPublish: make(map[string]time.Time),
	}
}

// Emit updates the run's progress fields, persists them under optimistic
// concurrency, and publishes an event. The run struct is mutated in place so
// callers keep a current version counter.
func (e *Emitter) Emit(ctx context.Context, run *model.AnalysisRun, stage string, percent int, message string, queuePos int) error {
	// Clamp: percent never decreases within a run attempt.
	if percent < run.ProgressPercent {
		percent = run.ProgressPercent
	}
	if percent > 100 {
		percent = 100
	}

	run.ProgressStage = stage
	run.ProgressPercent = percent
	run.ProgressMessage = message
	run.QueuePosition = queuePos

	if err := e.persist(ctx, run); err != nil {
		return err
	}

	// Persistence always precedes publish, so the event stream never runs
	// ahead of the authoritative row.
	if e.shouldPublish(run.ID, percent) {
		ev := model.ProgressEvent{
			AnalysisID:    run.ID,
			Stage:         stage,
			Percent:       percent,
			Message:       message,
			QueuePosition: queuePos,
			Timestamp:     time.Now().UTC(),
		}
		if err := e.broker.Publish(ctx, ev); err != nil {
			zap.L().Warn("progress: publish failed",
				zap.String("analysis_id", run.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// persist writes the snapshot, re-reading and reapplying on version conflict.
func (e *Emitter) persist(ctx context.Context, run *model.AnalysisRun) error {
	var lastErr error
	for attempt := 0; attempt < versionRetries; attempt++ {
		lastErr = e.store.UpdateRun(ctx, run)
		if lastErr == nil {
			return nil
		}
		if !eris.Is(lastErr, store.ErrVersionConflict) {
			return eris.Wrap(lastErr, "progress: persist snapshot")
		}

		current, err := e.store.GetRun(ctx, run.ID)
		if err != nil {
			return eris.Wrap(err, "progress: re-read after conflict")
		}
		// Keep our progress fields but adopt the current version and any
		// concurrently-set cancellation flag.
		run.Version = current.Version
		if current.CancelRequested {
			run.CancelRequested = true
		}
		if current.ProgressPercent > run.ProgressPercent {
			run.ProgressPercent = current.ProgressPercent
		}
	}
	return eris.Wrap(lastErr, "progress: persist snapshot retries exhausted")
}

// shouldPublish enforces the per-run minimum inter-publish interval.
// Stage-completion events (percent 100) are always published.
func (e *Emitter) shouldPublish(analysisID string, percent int) bool {
	if e.minInterval <= 0 || percent >= 100 {
		return true
	}
	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	if last, ok := e.lastPublish[analysisID]; ok && now.Sub(last) < e.minInterval {
		return false
	}
	e.lastPublish[analysisID] = now
	return true
}

// Forget drops throttle bookkeeping for a finished run.
func (e *Emitter) Forget(analysisID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.lastPublish, analysisID)
}

// Subscribe exposes the underlying broker subscription.
func (e *Emitter) Subscribe(analysisID string) (<-chan model.ProgressEvent, func()) {
	return e.broker.Subscribe(analysisID)
}
