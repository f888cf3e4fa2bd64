// Package store provides run and stage-record persistence for the analysis
// pipeline. All stage-record writes are natural-key upserts so that a retried
// step is side-effect-free beyond the first success.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/clauselens/clauselens/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// ErrVersionConflict is returned when an AnalysisRun update carries a stale
// version. Callers re-read the row and retry.
var ErrVersionConflict = eris.New("store: version conflict")

// Store defines the persistence interface for the analysis pipeline.
type Store interface {
	// Runs. UpdateRun enforces optimistic concurrency on Version: the row is
	// written only if the stored version matches run.Version, and on success
	// both the row and run.Version are incremented.
	CreateRun(ctx context.Context, run *model.AnalysisRun) error
	GetRun(ctx context.Context, analysisID string) (*model.AnalysisRun, error)
	FindActiveRun(ctx context.Context, tenantID, documentID string) (*model.AnalysisRun, error)
	ListRuns(ctx context.Context, filter model.RunFilter) ([]model.AnalysisRun, error)
	UpdateRun(ctx context.Context, run *model.AnalysisRun) error
	RequestCancel(ctx context.Context, analysisID string) error
	DeleteRun(ctx context.Context, analysisID string) error

	// Stage records, upserted by natural key.
	UpsertExtractedText(ctx context.Context, t *model.ExtractedText) error
	GetExtractedText(ctx context.Context, analysisID string) (*model.ExtractedText, error)
	UpsertChunks(ctx context.Context, chunks []model.Chunk) error
	ListChunks(ctx context.Context, analysisID string) ([]model.Chunk, error)
	UpsertClassifications(ctx context.Context, cls []model.Classification) error
	ListClassifications(ctx context.Context, analysisID string) ([]model.Classification, error)
	UpsertClauseScores(ctx context.Context, scores []model.ClauseScore) error
	ListClauseScores(ctx context.Context, analysisID string) ([]model.ClauseScore, error)
	UpsertGaps(ctx context.Context, gaps []model.Gap) error
	ListGaps(ctx context.Context, analysisID string) ([]model.Gap, error)

	// Step bookkeeping for resume: completed steps are recorded so a resumed
	// run skips work whose results are already persisted.
	MarkStepDone(ctx context.Context, analysisID, stage, stepKey string) error
	ListDoneSteps(ctx context.Context, analysisID string) (map[string]bool, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// StepDoneKey builds the lookup key used by ListDoneSteps maps.
func StepDoneKey(stage, stepKey string) string {
	return stage + "/" + stepKey
}
