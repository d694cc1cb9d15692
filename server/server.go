package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"auto_cms_content_sync/batch"
	"auto_cms_content_sync/pipeline"
	"auto_cms_content_sync/publisher"
	"auto_cms_content_sync/source"
)

// MaxUploadSize caps the CSV body accepted by POST /api/runs.
const MaxUploadSize = 20 << 20

// keptRuns bounds how many finished summaries stay queryable.
const keptRuns = 50

// Syncer runs one batch. pipeline.Pipeline satisfies it.
type Syncer interface {
	Sync(ctx context.Context, rows []source.Row, sourceName string, progress chan<- publisher.Result) (*batch.Summary, error)
}

type Server struct {
	syncer Syncer
	logger *slog.Logger
	router *chi.Mux
	store  *runStore
	// runMu serializes batches: rows of concurrent uploads must not interleave.
	runMu sync.Mutex
}

type runStore struct {
	mu    sync.Mutex
	runs  map[string]*batch.Summary
	order []string
}

func newStore() *runStore {
	return &runStore{runs: make(map[string]*batch.Summary)}
}

func (s *runStore) set(summary *batch.Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[summary.RunID] = summary
	s.order = append(s.order, summary.RunID)
	if len(s.order) > keptRuns {
		delete(s.runs, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *runStore) get(id string) (*batch.Summary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary, ok := s.runs[id]
	return summary, ok
}

func New(syncer Syncer, logger *slog.Logger) (*Server, error) {
	if syncer == nil {
		return nil, errors.New("syncer required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		syncer: syncer,
		logger: logger,
		router: chi.NewRouter(),
		store:  newStore(),
	}
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.logMiddleware)

	s.router.Get("/healthz", s.handleHealth)
	s.router.Route("/api/runs", func(r chi.Router) {
		r.Post("/", s.handleRunCreate)
		r.Get("/{runID}", s.handleRunByID)
	})
	return s, nil
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

// --- Handlers ---

// streamLine is one NDJSON line of a run response.
type streamLine struct {
	Type    string            `json:"type"`
	Result  *publisher.Result `json:"result,omitempty"`
	Summary *batch.Summary    `json:"summary,omitempty"`
	Error   string            `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRunCreate reads a CSV body, runs it and streams one NDJSON line per
// row followed by the summary. Fatal run errors that occur before the first
// row are reported with a non-2xx status instead.
func (s *Server) handleRunCreate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxUploadSize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	rows, err := source.Parse(bytes.NewReader(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	name := r.URL.Query().Get("source")
	if name == "" {
		name = "upload.csv"
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	progress := make(chan publisher.Result)
	type outcome struct {
		summary *batch.Summary
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		summary, err := s.syncer.Sync(r.Context(), rows, name, progress)
		done <- outcome{summary, err}
	}()

	enc := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)
	started := false
	start := func() {
		if started {
			return
		}
		started = true
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
	}

	for res := range progress {
		start()
		_ = enc.Encode(streamLine{Type: "result", Result: &res})
		if flusher != nil {
			flusher.Flush()
		}
	}

	out := <-done
	if out.err != nil {
		if !started {
			writeError(w, statusFor(out.err), out.err.Error())
			return
		}
		_ = enc.Encode(streamLine{Type: "error", Error: out.err.Error()})
		return
	}
	s.store.set(out.summary)
	start()
	_ = enc.Encode(streamLine{Type: "summary", Summary: out.summary})
}

func (s *Server) handleRunByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runID")
	summary, ok := s.store.get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// --- Helpers ---

func statusFor(err error) int {
	if errors.Is(err, pipeline.ErrLocked) {
		return http.StatusConflict
	}
	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).Round(time.Millisecond).String(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
