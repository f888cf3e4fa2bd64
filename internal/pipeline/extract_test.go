package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clauselens/clauselens/internal/model"
)

func writeDoc(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func runExtract(t *testing.T, rc *RunContext) Outcome {
	t.Helper()
	stage := NewExtractStage()
	steps, err := stage.Steps(context.Background(), rc)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "full", steps[0].Key())
	return steps[0].Execute(context.Background(), rc)
}

func TestExtractStage_PlainText(t *testing.T) {
	st := newTestStore(t)
	rc := newTestRunContext(t, st)
	rc.Run.DocumentPath = writeDoc(t, "contract.txt", sampleContract)

	out := runExtract(t, rc)
	require.Equal(t, OutcomeSuccess, out.Kind)

	text := out.Result.ExtractedText
	require.NotNil(t, text)
	assert.Equal(t, rc.Run.ID, text.AnalysisID)
	assert.Equal(t, sampleContract, text.Text)
	assert.Equal(t, 1, text.PageCount)
	assert.Equal(t, len(sampleContract), text.CharCount)
	assert.Equal(t, "text", text.Source)
	assert.False(t, text.Scanned)
}

func TestExtractStage_Markdown(t *testing.T) {
	st := newTestStore(t)
	rc := newTestRunContext(t, st)
	rc.Run.DocumentPath = writeDoc(t, "contract.md", "# Agreement\n\nBody.")

	out := runExtract(t, rc)
	require.Equal(t, OutcomeSuccess, out.Kind)
	assert.Equal(t, "text", out.Result.ExtractedText.Source)
}

func TestExtractStage_UnsupportedExtension(t *testing.T) {
	st := newTestStore(t)
	rc := newTestRunContext(t, st)
	rc.Run.DocumentPath = writeDoc(t, "contract.docx", "binary-ish")

	out := runExtract(t, rc)
	assert.Equal(t, OutcomeValidationFailed, out.Kind)
	assert.Contains(t, out.Reason, "unsupported document type")
}

func TestExtractStage_MissingFile(t *testing.T) {
	st := newTestStore(t)
	rc := newTestRunContext(t, st)
	rc.Run.DocumentPath = filepath.Join(t.TempDir(), "absent.txt")

	out := runExtract(t, rc)
	assert.Equal(t, OutcomeValidationFailed, out.Kind)
}

func TestExtractStage_EmptyFile(t *testing.T) {
	st := newTestStore(t)
	rc := newTestRunContext(t, st)
	rc.Run.DocumentPath = writeDoc(t, "empty.txt", "")

	out := runExtract(t, rc)
	assert.Equal(t, OutcomeValidationFailed, out.Kind)
	assert.Equal(t, "document is empty", out.Reason)
}

func TestExtractStage_GateRejectsEmptyUnscannedText(t *testing.T) {
	st := newTestStore(t)
	rc := newTestRunContext(t, st)
	stage := NewExtractStage()

	require.NoError(t, st.UpsertExtractedText(context.Background(), &model.ExtractedText{
		AnalysisID: rc.Run.ID, Text: "  \n ", Scanned: false, Source: "pdf",
	}))
	gate := stage.Gate(context.Background(), rc)
	assert.Equal(t, OutcomeValidationFailed, gate.Kind)

	// A scanned document with no text layer passes: OCR comes next.
	require.NoError(t, st.UpsertExtractedText(context.Background(), &model.ExtractedText{
		AnalysisID: rc.Run.ID, Text: "", Scanned: true, Source: "pdf",
	}))
	gate = stage.Gate(context.Background(), rc)
	assert.Equal(t, OutcomeSuccess, gate.Kind)
}

func TestLooksScanned(t *testing.T) {
	assert.True(t, looksScanned("", 10, 40))
	assert.True(t, looksScanned("thin text", 10, 40))
	assert.True(t, looksScanned("anything", 0, 40), "zero pages reads as scanned")

	long := strings.Repeat("a", 500)
	assert.False(t, looksScanned(long, 10, 40))
	// default threshold kicks in when config leaves it zero
	assert.False(t, looksScanned(long, 10, 0))
	assert.True(t, looksScanned("thin", 10, 0))
}
