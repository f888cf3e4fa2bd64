package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clauselens/clauselens/internal/model"
	"github.com/clauselens/clauselens/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the analysis HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(env),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func newRouter(env *analysisEnv) http.Handler {
	r := chi.NewRouter()

	origins := cfg.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/analyses", handleStartAnalysis(env))
		r.Get("/analyses", handleListRuns(env))
		r.Get("/analyses/{id}", handleGetRun(env))
		r.Get("/analyses/{id}/events", handleEvents(env))
		r.Post("/analyses/{id}/cancel", handleCancel(env))
		r.Post("/analyses/{id}/resume", handleResume(env))
		r.Post("/analyses/{id}/restart", handleRestart(env))
		r.Get("/metrics", handleMetrics(env))
	})

	return r
}

func handleStartAnalysis(env *analysisEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TenantID     string `json:"tenant_id"`
			DocumentID   string `json:"document_id"`
			DocumentPath string `json:"document_path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.TenantID == "" || req.DocumentID == "" || req.DocumentPath == "" {
			writeError(w, http.StatusBadRequest, "tenant_id, document_id, and document_path are required")
			return
		}

		run, created, err := env.Orchestrator.Start(r.Context(), req.TenantID, req.DocumentID, req.DocumentPath)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not start analysis")
			zap.L().Error("start analysis", zap.Error(err))
			return
		}

		// Idempotent trigger: a pre-existing active run comes back without
		// launching a second pipeline.
		if created {
			launchRun(env, run.ID)
		}
		writeJSON(w, http.StatusAccepted, run)
	}
}

func handleGetRun(env *analysisEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := env.Store.GetRun(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			if eris.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "analysis not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "could not load analysis")
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}

func handleListRuns(env *analysisEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := model.RunFilter{
			TenantID:   q.Get("tenant_id"),
			DocumentID: q.Get("document_id"),
			Status:     model.RunStatus(q.Get("status")),
			Limit:      intQuery(q.Get("limit"), 50),
			Offset:     intQuery(q.Get("offset"), 0),
		}
		runs, err := env.Store.ListRuns(r.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not list analyses")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"analyses": runs, "count": len(runs)})
	}
}

// handleEvents streams progress events for one run over SSE. The stream
// opens with the run's current state so late subscribers don't miss ground
// already covered, then forwards published events until the run reaches a
// terminal state or the client disconnects.
func handleEvents(env *analysisEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		run, err := env.Store.GetRun(r.Context(), id)
		if err != nil {
			if eris.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "analysis not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "could not load analysis")
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming unsupported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		events, unsubscribe := env.Orchestrator.Subscribe(id)
		defer unsubscribe()

		writeSSE(w, model.ProgressEvent{
			AnalysisID:    run.ID,
			Stage:         run.ProgressStage,
			Percent:       run.ProgressPercent,
			Message:       run.ProgressMessage,
			QueuePosition: run.QueuePosition,
			Timestamp:     run.UpdatedAt,
		})
		flusher.Flush()
		if run.Status.Terminal() {
			return
		}

		keepalive := time.NewTicker(30 * time.Second)
		defer keepalive.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case <-keepalive.C:
				fmt.Fprint(w, ": keepalive\n\n")
				flusher.Flush()
			case ev, open := <-events:
				if !open {
					return
				}
				writeSSE(w, ev)
				flusher.Flush()

				current, err := env.Store.GetRun(r.Context(), id)
				if err == nil && current.Status.Terminal() {
					return
				}
			}
		}
	}
}

func handleCancel(env *analysisEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := env.Orchestrator.Cancel(r.Context(), id); err != nil {
			if eris.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "analysis not found")
				return
			}
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling", "analysis_id": id})
	}
}

func handleResume(env *analysisEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		run, err := env.Orchestrator.Resume(r.Context(), id)
		if err != nil {
			if eris.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "analysis not found")
				return
			}
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		launchRun(env, run.ID)
		writeJSON(w, http.StatusAccepted, run)
	}
}

func handleRestart(env *analysisEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		run, err := env.Orchestrator.Restart(r.Context(), id)
		if err != nil {
			if eris.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "analysis not found")
				return
			}
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		launchRun(env, run.ID)
		writeJSON(w, http.StatusAccepted, run)
	}
}

func handleMetrics(env *analysisEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hours := intQuery(r.URL.Query().Get("hours"), 24)
		snap, err := env.Collector.Collect(r.Context(), hours)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not collect metrics")
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

// launchRun executes the pipeline in the background. The run's lifecycle is
// tracked in the store, not tied to the request context.
func launchRun(env *analysisEnv, analysisID string) {
	go func() {
		if err := env.Orchestrator.Run(context.Background(), analysisID); err != nil {
			zap.L().Error("analysis run finished with error",
				zap.String("analysis_id", analysisID),
				zap.Error(err))
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeSSE(w http.ResponseWriter, ev model.ProgressEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: progress\ndata: %s\n\n", payload)
}

func intQuery(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}
