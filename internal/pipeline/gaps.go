package pipeline

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/clauselens/clauselens/internal/model"
)

// weakCoverageConfidence is the floor below which a required category
// counts as "present but weak" even though something matched it.
const weakCoverageConfidence = 0.75

// GapsStage compares what the classifier found against the taxonomy's
// required categories. Pure local computation, no provider calls.
type GapsStage struct {
	minConfidence float64
}

func NewGapsStage(minConfidence float64) *GapsStage {
	return &GapsStage{minConfidence: minConfidence}
}

func (s *GapsStage) Name() string     { return StageGaps }
func (s *GapsStage) Provider() string { return "" }

func (s *GapsStage) Steps(ctx context.Context, rc *RunContext) ([]Step, error) {
	return []Step{funcStep{key: "full", fn: s.analyze}}, nil
}

func (s *GapsStage) Gate(ctx context.Context, rc *RunContext) Outcome {
	return Success(Result{})
}

func (s *GapsStage) analyze(ctx context.Context, rc *RunContext) Outcome {
	cls, err := rc.Store.ListClassifications(ctx, rc.Run.ID)
	if err != nil {
		return Retryable(eris.Wrap(err, "gaps: list classifications"))
	}

	best := make(map[string]float64)
	for _, c := range cls {
		if c.Confidence > best[c.Category] {
			best[c.Category] = c.Confidence
		}
	}

	var gaps []model.Gap
	for _, cat := range rc.Taxonomy.Required() {
		conf := best[cat.Name]
		switch {
		case conf < s.minConfidence:
			gaps = append(gaps, model.Gap{
				AnalysisID:     rc.Run.ID,
				Category:       cat.Name,
				Severity:       model.GapSeverityCritical,
				Missing:        true,
				Recommendation: fmt.Sprintf("Add a %s clause: %s", cat.Name, cat.Description),
			})
		case conf < weakCoverageConfidence:
			gaps = append(gaps, model.Gap{
				AnalysisID:     rc.Run.ID,
				Category:       cat.Name,
				Severity:       model.GapSeverityWarning,
				Missing:        false,
				Recommendation: fmt.Sprintf("Review the %s language; coverage looks thin or ambiguous", cat.Name),
			})
		}
	}

	msg := "No coverage gaps found"
	if len(gaps) > 0 {
		msg = fmt.Sprintf("Found %d coverage gaps", len(gaps))
	}
	return Success(Result{Gaps: gaps, Message: msg})
}
