package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/clauselens/clauselens/internal/model"
)

// ExtractStage pulls raw text out of the source document. For PDFs it also
// decides whether the file looks scanned, which routes the run through OCR.
type ExtractStage struct{}

func NewExtractStage() *ExtractStage { return &ExtractStage{} }

func (s *ExtractStage) Name() string     { return StageExtract }
func (s *ExtractStage) Provider() string { return "" }

func (s *ExtractStage) Steps(ctx context.Context, rc *RunContext) ([]Step, error) {
	return []Step{funcStep{key: "full", fn: s.extract}}, nil
}

func (s *ExtractStage) Gate(ctx context.Context, rc *RunContext) Outcome {
	text, err := rc.Store.GetExtractedText(ctx, rc.Run.ID)
	if err != nil {
		return Retryable(eris.Wrap(err, "extract: load extracted text"))
	}
	if !text.Scanned && strings.TrimSpace(text.Text) == "" {
		return ValidationFailed("document contains no extractable text")
	}
	return Success(Result{})
}

func (s *ExtractStage) extract(ctx context.Context, rc *RunContext) Outcome {
	path := rc.Run.DocumentPath
	data, err := os.ReadFile(path)
	if err != nil {
		return ValidationFailed(fmt.Sprintf("document is unreadable: %v", err))
	}
	if len(data) == 0 {
		return ValidationFailed("document is empty")
	}

	ext := strings.ToLower(filepath.Ext(path))
	var (
		text    string
		pages   int
		scanned bool
		source  string
	)
	switch ext {
	case ".pdf":
		text, pages, err = extractPDF(data)
		if err != nil {
			return ValidationFailed(fmt.Sprintf("document could not be parsed as PDF: %v", err))
		}
		scanned = looksScanned(text, pages, rc.Pipeline.ScannedCharsPerPage)
		source = "pdf"
	case ".txt", ".md":
		text = string(data)
		pages = 1
		source = "text"
	default:
		return ValidationFailed(fmt.Sprintf("unsupported document type %q", ext))
	}

	if scanned {
		zap.L().Info("document looks scanned, routing through OCR",
			zap.String("analysis_id", rc.Run.ID),
			zap.Int("pages", pages),
			zap.Int("chars", len(text)))
	}

	return Success(Result{
		ExtractedText: &model.ExtractedText{
			AnalysisID: rc.Run.ID,
			Text:       text,
			PageCount:  pages,
			CharCount:  len(text),
			Scanned:    scanned,
			Source:     source,
		},
		Message: fmt.Sprintf("Extracted %d pages", pages),
	})
}

func extractPDF(data []byte) (string, int, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, err
	}
	pages := reader.NumPage()

	var buf bytes.Buffer
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			// A single unparseable page should not sink the document;
			// the scanned heuristic catches pathological files.
			continue
		}
		buf.WriteString(content)
		buf.WriteString("\n")
	}
	return buf.String(), pages, nil
}

// looksScanned flags PDFs whose text layer is too thin to be real content,
// which usually means the pages are images.
func looksScanned(text string, pages, charsPerPage int) bool {
	if pages <= 0 {
		return true
	}
	if charsPerPage <= 0 {
		charsPerPage = 40
	}
	return len(strings.TrimSpace(text))/pages < charsPerPage
}
