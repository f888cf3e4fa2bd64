package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/clauselens/clauselens/internal/model"
	"github.com/clauselens/clauselens/internal/ocr"
)

// OCRStage recovers text from scanned documents. It only appears in the
// run when the extract stage flagged the document as scanned.
type OCRStage struct {
	extractor ocr.Extractor
}

func NewOCRStage(extractor ocr.Extractor) *OCRStage {
	return &OCRStage{extractor: extractor}
}

func (s *OCRStage) Name() string     { return StageOCR }
func (s *OCRStage) Provider() string { return "ocr" }

func (s *OCRStage) Steps(ctx context.Context, rc *RunContext) ([]Step, error) {
	return []Step{funcStep{key: "full", fn: s.run}}, nil
}

func (s *OCRStage) Gate(ctx context.Context, rc *RunContext) Outcome {
	text, err := rc.Store.GetExtractedText(ctx, rc.Run.ID)
	if err != nil {
		return Retryable(eris.Wrap(err, "ocr: load extracted text"))
	}
	if strings.TrimSpace(text.Text) == "" {
		return ValidationFailed("document contains no recognizable text after OCR")
	}
	return Success(Result{})
}

func (s *OCRStage) run(ctx context.Context, rc *RunContext) Outcome {
	prev, err := rc.Store.GetExtractedText(ctx, rc.Run.ID)
	if err != nil {
		return Retryable(eris.Wrap(err, "ocr: load extract result"))
	}

	text, err := s.extractor.ExtractText(ctx, rc.Run.DocumentPath)
	if err != nil {
		return Retryable(eris.Wrap(err, "ocr: extract text"))
	}

	return Success(Result{
		ExtractedText: &model.ExtractedText{
			AnalysisID: rc.Run.ID,
			Text:       text,
			PageCount:  prev.PageCount,
			CharCount:  len(text),
			Scanned:    true,
			Source:     "ocr",
		},
		Message: fmt.Sprintf("OCR recovered %d characters", len(text)),
	})
}
