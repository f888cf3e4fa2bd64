package model

import (
	"time"
)

// RunStatus represents the lifecycle state of an analysis run.
type RunStatus string

const (
	RunStatusPending    RunStatus = "pending"
	RunStatusPendingOCR RunStatus = "pending_ocr"
	RunStatusProcessing RunStatus = "processing"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
	RunStatusCancelled  RunStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state. Failed and
// cancelled runs remain resumable via Resume/Restart.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// AnalysisRun is one execution of the pipeline over one document. The run row
// is the authoritative record of progress; ProgressEvents are best-effort.
type AnalysisRun struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenant_id"`
	DocumentID string `json:"document_id"`
	// DocumentPath is where the source file lives on disk or in object storage.
	DocumentPath string `json:"document_path"`

	Status          RunStatus `json:"status"`
	ProgressStage   string    `json:"progress_stage"`
	ProgressPercent int       `json:"progress_percent"`
	ProgressMessage string    `json:"progress_message"`
	QueuePosition   int       `json:"queue_position,omitempty"`

	// Version is an optimistic-concurrency counter incremented on every
	// persisted update. A write carrying a stale version is rejected.
	Version int `json:"version"`

	CancelRequested bool `json:"cancel_requested"`

	TokenUsage    TokenUsage `json:"token_usage"`
	EstimatedCost float64    `json:"estimated_cost"`
	WasTruncated  bool       `json:"was_truncated"`

	// Error is the short user-facing failure reason; Debug carries the full
	// internal diagnostic detail.
	Error string `json:"error,omitempty"`
	Debug string `json:"debug,omitempty"`

	Report string `json:"report,omitempty"`

	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	ProcessingTimeMs int64      `json:"processing_time_ms,omitempty"`
}

// TokenUsage tracks metered external-service consumption for a run.
type TokenUsage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheCreationTokens int `json:"cache_creation_tokens"`
	CacheReadTokens     int `json:"cache_read_tokens"`
	EmbeddingTokens     int `json:"embedding_tokens"`
}

// Add accumulates usage from another TokenUsage.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationTokens += other.CacheCreationTokens
	u.CacheReadTokens += other.CacheReadTokens
	u.EmbeddingTokens += other.EmbeddingTokens
}

// Total returns total LLM tokens (input + output).
func (u TokenUsage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// ProgressEvent is the ephemeral progress notification published to
// subscribers. A missed event is recoverable by polling the run row.
type ProgressEvent struct {
	AnalysisID    string    `json:"analysis_id"`
	Stage         string    `json:"stage"`
	Percent       int       `json:"percent"`
	Message       string    `json:"message"`
	QueuePosition int       `json:"queue_position,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
