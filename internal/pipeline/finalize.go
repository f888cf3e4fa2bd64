package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/clauselens/clauselens/internal/config"
	"github.com/clauselens/clauselens/internal/cost"
	"github.com/clauselens/clauselens/internal/model"
	"github.com/clauselens/clauselens/pkg/notion"
)

// Report is the final JSON document stored on the run and returned by the
// status endpoint.
type Report struct {
	AnalysisID   string  `json:"analysis_id"`
	DocumentID   string  `json:"document_id"`
	OverallRisk  string  `json:"overall_risk"`
	OverallScore float64 `json:"overall_score"`

	Clauses []ReportClause `json:"clauses"`
	Gaps    []model.Gap    `json:"gaps"`

	TokenUsage    model.TokenUsage `json:"token_usage"`
	EstimatedCost float64          `json:"estimated_cost"`
	Truncated     bool             `json:"truncated,omitempty"`
}

// ReportClause is one scored clause with its supporting text reference.
type ReportClause struct {
	ChunkIndex int             `json:"chunk_index"`
	Heading    string          `json:"heading,omitempty"`
	Category   string          `json:"category"`
	Confidence float64         `json:"confidence"`
	Level      model.RiskLevel `json:"level"`
	Score      float64         `json:"score"`
	Findings   string          `json:"findings,omitempty"`
}

// FinalizeStage assembles the report from everything the earlier stages
// persisted, prices the run, and optionally exports to Notion.
type FinalizeStage struct {
	calc      *cost.Calculator
	aiCfg     config.AnthropicConfig
	notionCfg config.NotionConfig
	notionCli notion.Client // nil when export is not configured
}

func NewFinalizeStage(calc *cost.Calculator, aiCfg config.AnthropicConfig, notionCfg config.NotionConfig, notionCli notion.Client) *FinalizeStage {
	return &FinalizeStage{calc: calc, aiCfg: aiCfg, notionCfg: notionCfg, notionCli: notionCli}
}

func (s *FinalizeStage) Name() string { return StageFinalize }

// Provider is "notion" so report export draws from the notion rate bucket
// when one is configured; without a bucket the limiter passes through.
func (s *FinalizeStage) Provider() string { return "notion" }

func (s *FinalizeStage) Steps(ctx context.Context, rc *RunContext) ([]Step, error) {
	return []Step{funcStep{key: "full", fn: s.finalize}}, nil
}

func (s *FinalizeStage) Gate(ctx context.Context, rc *RunContext) Outcome {
	return Success(Result{})
}

func (s *FinalizeStage) finalize(ctx context.Context, rc *RunContext) Outcome {
	report, err := s.buildReport(ctx, rc)
	if err != nil {
		return Retryable(err)
	}

	encoded, err := json.Marshal(report)
	if err != nil {
		return Retryable(eris.Wrap(err, "finalize: encode report"))
	}

	if s.notionCli != nil && s.notionCfg.ReportDB != "" {
		title := fmt.Sprintf("Contract analysis %s", rc.Run.DocumentID)
		if err := notion.ExportReport(ctx, s.notionCli, s.notionCfg.ReportDB, title, string(encoded)); err != nil {
			// Export failure should not sink a finished analysis.
			zap.L().Warn("finalize: notion export failed",
				zap.String("analysis_id", rc.Run.ID),
				zap.Error(err))
		}
	}

	return Success(Result{
		Report:  string(encoded),
		Message: fmt.Sprintf("Report ready: %d clauses, %d gaps, overall risk %s", len(report.Clauses), len(report.Gaps), report.OverallRisk),
	})
}

func (s *FinalizeStage) buildReport(ctx context.Context, rc *RunContext) (*Report, error) {
	chunks, err := rc.Store.ListChunks(ctx, rc.Run.ID)
	if err != nil {
		return nil, eris.Wrap(err, "finalize: list chunks")
	}
	cls, err := rc.Store.ListClassifications(ctx, rc.Run.ID)
	if err != nil {
		return nil, eris.Wrap(err, "finalize: list classifications")
	}
	scores, err := rc.Store.ListClauseScores(ctx, rc.Run.ID)
	if err != nil {
		return nil, eris.Wrap(err, "finalize: list clause scores")
	}
	gaps, err := rc.Store.ListGaps(ctx, rc.Run.ID)
	if err != nil {
		return nil, eris.Wrap(err, "finalize: list gaps")
	}

	headings := make(map[int]string, len(chunks))
	for _, c := range chunks {
		headings[c.Index] = c.Heading
	}
	confidence := make(map[string]float64, len(cls))
	for _, c := range cls {
		confidence[clauseKey(c.ChunkIndex, c.Category)] = c.Confidence
	}

	var (
		clauses    []ReportClause
		scoreSum   float64
		worstLevel model.RiskLevel = model.RiskLow
	)
	for _, sc := range scores {
		clauses = append(clauses, ReportClause{
			ChunkIndex: sc.ChunkIndex,
			Heading:    headings[sc.ChunkIndex],
			Category:   sc.Category,
			Confidence: confidence[clauseKey(sc.ChunkIndex, sc.Category)],
			Level:      sc.Level,
			Score:      sc.Score,
			Findings:   sc.Findings,
		})
		scoreSum += sc.Score
		if riskRank(sc.Level) > riskRank(worstLevel) {
			worstLevel = sc.Level
		}
	}
	sort.Slice(clauses, func(i, j int) bool {
		if clauses[i].Score != clauses[j].Score {
			return clauses[i].Score > clauses[j].Score
		}
		return clauses[i].ChunkIndex < clauses[j].ChunkIndex
	})

	for _, g := range gaps {
		if g.Severity == model.GapSeverityCritical && riskRank(worstLevel) < riskRank(model.RiskHigh) {
			worstLevel = model.RiskHigh
		}
	}

	var overall float64
	if len(clauses) > 0 {
		overall = scoreSum / float64(len(clauses))
	}

	usage := rc.Run.TokenUsage
	text, err := rc.Store.GetExtractedText(ctx, rc.Run.ID)
	if err != nil {
		return nil, eris.Wrap(err, "finalize: load extracted text")
	}
	pages := 0
	if text.Source == "ocr" {
		pages = text.PageCount
	}
	estimated := s.calc.Claude(s.aiCfg.ClassifyModel, usage.InputTokens, usage.OutputTokens, usage.CacheCreationTokens, usage.CacheReadTokens) +
		s.calc.Embeddings(usage.EmbeddingTokens) +
		s.calc.OCR(pages)

	// The orchestrator copies these onto the run row.
	rc.Run.EstimatedCost = estimated

	return &Report{
		AnalysisID:    rc.Run.ID,
		DocumentID:    rc.Run.DocumentID,
		OverallRisk:   string(worstLevel),
		OverallScore:  overall,
		Clauses:       clauses,
		Gaps:          gaps,
		TokenUsage:    usage,
		EstimatedCost: estimated,
		Truncated:     rc.Run.WasTruncated,
	}, nil
}

func riskRank(l model.RiskLevel) int {
	switch l {
	case model.RiskLow:
		return 0
	case model.RiskMedium:
		return 1
	case model.RiskHigh:
		return 2
	case model.RiskCritical:
		return 3
	}
	return 0
}
