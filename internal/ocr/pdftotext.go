package ocr

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/rotisserie/eris"
)

// PdfToText recovers text from scanned contracts by shelling out to
// poppler's pdftotext. It is the default extractor when no hosted OCR
// provider is configured.
type PdfToText struct {
	binPath string
}

// NewPdfToText builds the local extractor. binPath comes from
// ocr.pdftotext_path; empty means whatever "pdftotext" resolves to on PATH.
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath}
}

// ExtractText renders the document to layout-preserving text on stdout.
// -layout keeps clause numbering and indentation intact, which the chunker
// relies on to find section boundaries.
func (p *PdfToText) ExtractText(ctx context.Context, pdfPath string) (string, error) {
	cmd := exec.CommandContext(ctx, p.binPath, "-layout", "-nopgbrk", pdfPath, "-")

	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut

	if err := cmd.Run(); err != nil {
		return "", eris.Wrapf(err, "ocr: pdftotext %s: %s", pdfPath, strings.TrimSpace(errOut.String()))
	}
	return out.String(), nil
}
