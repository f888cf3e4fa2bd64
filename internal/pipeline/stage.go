package pipeline

import (
	"context"

	"github.com/clauselens/clauselens/internal/config"
	"github.com/clauselens/clauselens/internal/model"
	"github.com/clauselens/clauselens/internal/store"
)

// Stage names, in execution order.
const (
	StageExtract  = "extract"
	StageOCR      = "ocr"
	StageChunk    = "chunk"
	StageClassify = "classify"
	StageScore    = "score_risk"
	StageGaps     = "analyze_gaps"
	StageFinalize = "finalize"
)

// RunContext carries everything a step needs for one analysis run. The
// orchestrator owns the Run pointer; stages read from it and return new
// records in their Outcome rather than writing to the store directly.
type RunContext struct {
	Run      *model.AnalysisRun
	Store    store.Store
	Taxonomy *model.Taxonomy
	Pipeline config.PipelineConfig

	// Cancelled reports whether a cancel has been requested for this run.
	// Long-running steps may poll it between internal units of work.
	Cancelled func(ctx context.Context) bool
}

// OutcomeKind discriminates the three ways a step can finish.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	// OutcomeValidationFailed means the input is unusable and no retry
	// can help (empty document, zero clauses). The run fails immediately.
	OutcomeValidationFailed
	// OutcomeRetryable means a transient fault; the orchestrator retries
	// up to its attempt ceiling before failing the run.
	OutcomeRetryable
)

// Result is the successful payload of a step. The orchestrator persists
// whichever record slices are non-empty, all inside the same idempotent
// write path, so a replayed step overwrites rather than duplicates.
type Result struct {
	ExtractedText   *model.ExtractedText
	Chunks          []model.Chunk
	Classifications []model.Classification
	ClauseScores    []model.ClauseScore
	Gaps            []model.Gap

	// Report is set only by the finalize stage.
	Report string

	Usage     model.TokenUsage
	Truncated bool
	Message   string
}

// Outcome is what a step hands back to the orchestrator.
type Outcome struct {
	Kind   OutcomeKind
	Result Result
	Reason string // set when Kind == OutcomeValidationFailed
	Err    error  // set when Kind == OutcomeRetryable
}

func Success(r Result) Outcome {
	return Outcome{Kind: OutcomeSuccess, Result: r}
}

func ValidationFailed(reason string) Outcome {
	return Outcome{Kind: OutcomeValidationFailed, Reason: reason}
}

func Retryable(err error) Outcome {
	return Outcome{Kind: OutcomeRetryable, Err: err}
}

// Step is one retryable, idempotently-persisted unit of work. Key must be
// stable across process restarts for the same run so resume can skip it.
type Step interface {
	Key() string
	Execute(ctx context.Context, rc *RunContext) Outcome
}

// Stage groups the steps of one pipeline phase. Steps is called fresh on
// every run attempt and must derive the same step list from persisted
// state, so a resumed run sees identical keys.
type Stage interface {
	Name() string

	// Provider names the rate-limit bucket its steps draw from, or ""
	// for purely local work.
	Provider() string

	Steps(ctx context.Context, rc *RunContext) ([]Step, error)

	// Gate runs after every step of the stage has completed. A
	// non-success outcome halts the run; most stages have nothing to
	// check and return Success.
	Gate(ctx context.Context, rc *RunContext) Outcome
}

// funcStep adapts a closure into a Step.
type funcStep struct {
	key string
	fn  func(ctx context.Context, rc *RunContext) Outcome
}

func (s funcStep) Key() string { return s.key }

func (s funcStep) Execute(ctx context.Context, rc *RunContext) Outcome {
	return s.fn(ctx, rc)
}
