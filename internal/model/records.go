package model

import "time"

// ExtractedText is the output of the extract (and optionally OCR) stage.
// Natural key: (analysis_id).
type ExtractedText struct {
	AnalysisID string `json:"analysis_id"`
	Text       string `json:"text"`
	PageCount  int    `json:"page_count"`
	CharCount  int    `json:"char_count"`
	// Scanned marks image-only sources that need OCR before chunking.
	Scanned bool   `json:"scanned"`
	Source  string `json:"source"` // "pdf", "text", "ocr"
}

// Chunk is one legal-aware text segment. Natural key: (analysis_id, chunk_index).
type Chunk struct {
	AnalysisID string    `json:"analysis_id"`
	Index      int       `json:"chunk_index"`
	Heading    string    `json:"heading"`
	Text       string    `json:"text"`
	TokenCount int       `json:"token_count"`
	Embedding  []float64 `json:"embedding,omitempty"`
}

// RiskLevel grades a scored clause.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// ValidRiskLevel reports whether s names a known risk level.
func ValidRiskLevel(s string) bool {
	switch RiskLevel(s) {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// Classification maps a chunk to a taxonomy category.
// Natural key: (analysis_id, chunk_index, category).
type Classification struct {
	AnalysisID string  `json:"analysis_id"`
	ChunkIndex int     `json:"chunk_index"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale,omitempty"`
}

// ClauseScore is a risk assessment of one classified clause.
// Natural key: (analysis_id, chunk_index, category).
type ClauseScore struct {
	AnalysisID string    `json:"analysis_id"`
	ChunkIndex int       `json:"chunk_index"`
	Category   string    `json:"category"`
	Level      RiskLevel `json:"level"`
	Score      float64   `json:"score"` // 0-10
	Findings   string    `json:"findings,omitempty"`
}

// GapSeverity grades how serious a missing or weak clause is.
type GapSeverity string

const (
	GapSeverityInfo     GapSeverity = "info"
	GapSeverityWarning  GapSeverity = "warning"
	GapSeverityCritical GapSeverity = "critical"
)

// Gap records a required taxonomy category that the document does not cover,
// or covers too weakly. Natural key: (analysis_id, category).
type Gap struct {
	AnalysisID     string      `json:"analysis_id"`
	Category       string      `json:"category"`
	Severity       GapSeverity `json:"severity"`
	Missing        bool        `json:"missing"` // false = present but weak
	Recommendation string      `json:"recommendation,omitempty"`
}

// StepMark records completion of one pipeline step so a resumed run can skip
// work whose results are already persisted.
// Natural key: (analysis_id, stage, step_key).
type StepMark struct {
	AnalysisID  string    `json:"analysis_id"`
	Stage       string    `json:"stage"`
	StepKey     string    `json:"step_key"`
	CompletedAt time.Time `json:"completed_at"`
}

// RunFilter specifies criteria for listing analysis runs.
type RunFilter struct {
	TenantID     string    `json:"tenant_id,omitempty"`
	DocumentID   string    `json:"document_id,omitempty"`
	Status       RunStatus `json:"status,omitempty"`
	CreatedAfter time.Time `json:"created_after,omitempty"`
	Limit        int       `json:"limit,omitempty"`
	Offset       int       `json:"offset,omitempty"`
}
