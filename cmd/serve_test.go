package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clauselens/clauselens/internal/config"
	"github.com/clauselens/clauselens/internal/cost"
	"github.com/clauselens/clauselens/internal/model"
	"github.com/clauselens/clauselens/internal/monitoring"
	"github.com/clauselens/clauselens/internal/ocr"
	"github.com/clauselens/clauselens/internal/pipeline"
	"github.com/clauselens/clauselens/internal/progress"
	"github.com/clauselens/clauselens/internal/ratelimit"
	"github.com/clauselens/clauselens/internal/store"
	anthropicpkg "github.com/clauselens/clauselens/pkg/anthropic"
	"github.com/clauselens/clauselens/pkg/embeddings"
)

// newTestEnv wires a complete environment against an in-memory store. The AI
// and embeddings clients carry dummy keys; tests only exercise paths that
// fail before any provider call.
func newTestEnv(t *testing.T) *analysisEnv {
	t.Helper()

	if cfg == nil {
		c, err := config.Load()
		require.NoError(t, err)
		cfg = c
	}

	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))

	taxonomy, err := model.LoadTaxonomy("")
	require.NoError(t, err)

	extractor, err := ocr.NewExtractor(cfg.OCR)
	require.NoError(t, err)

	aiClient := anthropicpkg.NewClient("test-key")
	embedClient := embeddings.NewClient("test-key", cfg.Embeddings.Model)
	broker := progress.NewMemoryBroker()
	emitter := progress.NewEmitter(st, broker, 0)
	calc := cost.NewCalculator(cost.DefaultRates())

	stages := pipeline.DefaultStages(aiClient, embedClient, extractor, calc, *cfg, nil)
	orch := pipeline.New(st, ratelimit.New(nil), emitter, taxonomy, cfg.Pipeline, stages)

	env := &analysisEnv{
		Store:        st,
		Orchestrator: orch,
		Collector:    monitoring.NewCollector(st),
		Broker:       broker,
	}
	t.Cleanup(env.Close)
	return env
}

func seedTerminalRun(t *testing.T, env *analysisEnv, id string, status model.RunStatus) {
	t.Helper()
	run := &model.AnalysisRun{
		ID:         id,
		TenantID:   "acme",
		DocumentID: "doc-" + id,
		Status:     status,
	}
	require.NoError(t, env.Store.CreateRun(context.Background(), run))
}

func TestServe_Health(t *testing.T) {
	router := newRouter(newTestEnv(t))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestServe_StartValidation(t *testing.T) {
	router := newRouter(newTestEnv(t))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/analyses", bytes.NewBufferString("not json")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/analyses",
		bytes.NewBufferString(`{"tenant_id":"acme"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServe_StartGetAndList(t *testing.T) {
	env := newTestEnv(t)
	router := newRouter(env)

	// Point at a missing document so the background run fails during
	// extraction without reaching any provider.
	missing := filepath.Join(t.TempDir(), "gone.txt")
	payload := fmt.Sprintf(`{"tenant_id":"acme","document_id":"doc-1","document_path":%q}`, missing)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/analyses", bytes.NewBufferString(payload)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var run model.AnalysisRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	require.NotEmpty(t, run.ID)
	assert.Equal(t, "acme", run.TenantID)

	assert.Eventually(t, func() bool {
		current, err := env.Store.GetRun(context.Background(), run.ID)
		return err == nil && current.Status == model.RunStatusFailed
	}, 5*time.Second, 20*time.Millisecond)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/analyses/"+run.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/analyses?tenant_id=acme", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Analyses []model.AnalysisRun `json:"analyses"`
		Count    int                 `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)
}

func TestServe_GetRunNotFound(t *testing.T) {
	router := newRouter(newTestEnv(t))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/analyses/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServe_CancelLifecycle(t *testing.T) {
	env := newTestEnv(t)
	router := newRouter(env)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/analyses/nope/cancel", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	seedTerminalRun(t, env, "done-1", model.RunStatusCompleted)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/analyses/done-1/cancel", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	seedTerminalRun(t, env, "active-1", model.RunStatusProcessing)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/analyses/active-1/cancel", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	run, err := env.Store.GetRun(context.Background(), "active-1")
	require.NoError(t, err)
	assert.True(t, run.CancelRequested)
}

func TestServe_ResumeRejectsCompleted(t *testing.T) {
	env := newTestEnv(t)
	router := newRouter(env)

	seedTerminalRun(t, env, "done-2", model.RunStatusCompleted)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/analyses/done-2/resume", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServe_RestartNotFound(t *testing.T) {
	router := newRouter(newTestEnv(t))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/analyses/nope/restart", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServe_Metrics(t *testing.T) {
	env := newTestEnv(t)
	router := newRouter(env)

	seedTerminalRun(t, env, "m-1", model.RunStatusCompleted)
	seedTerminalRun(t, env, "m-2", model.RunStatusFailed)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/metrics?hours=48", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var snap monitoring.MetricsSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 48, snap.LookbackHours)
	assert.Equal(t, 2, snap.RunsTotal)
	assert.InDelta(t, 0.5, snap.FailureRate, 1e-9)
}

// Terminal runs get their current state replayed and the stream closes.
func TestServe_EventsReplayTerminalRun(t *testing.T) {
	env := newTestEnv(t)
	router := newRouter(env)

	run := &model.AnalysisRun{
		ID:              "ev-1",
		TenantID:        "acme",
		DocumentID:      "doc-ev",
		Status:          model.RunStatusCompleted,
		ProgressStage:   "finalize",
		ProgressPercent: 100,
	}
	require.NoError(t, env.Store.CreateRun(context.Background(), run))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/analyses/ev-1/events", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "event: progress")
	assert.Contains(t, rec.Body.String(), `"percent":100`)
}

func TestIntQuery(t *testing.T) {
	assert.Equal(t, 50, intQuery("", 50))
	assert.Equal(t, 7, intQuery("7", 50))
	assert.Equal(t, 50, intQuery("-3", 50))
	assert.Equal(t, 50, intQuery("abc", 50))
}
