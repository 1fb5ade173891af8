// Package api exposes the triage service over HTTP under /api/v1.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"pqrdesk/internal/domain"
	"pqrdesk/internal/logging"
	"pqrdesk/internal/stats"
	"pqrdesk/internal/storage/sqlite"
	"pqrdesk/internal/triage"
)

const maxBodyBytes = 1 << 20

// CaseLister pages through stored cases.
type CaseLister interface {
	ListCases(ctx context.Context, f sqlite.ListFilter) (sqlite.ListPage, error)
}

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Triage  *triage.Service
	Cases   CaseLister
	Stats   *stats.Service
	Health  Pinger
	Metrics http.Handler
}

// Server handles HTTP requests for the case triage API.
type Server struct {
	triage  *triage.Service
	cases   CaseLister
	stats   *stats.Service
	health  Pinger
	metrics http.Handler
	logger  *slog.Logger
}

func New(d Deps) *Server {
	return &Server{
		triage:  d.Triage,
		cases:   d.Cases,
		stats:   d.Stats,
		health:  d.Health,
		metrics: d.Metrics,
		logger:  logging.New("api"),
	}
}

// Handler builds the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Classification
	mux.HandleFunc("POST /api/v1/classify", s.classify)
	mux.HandleFunc("POST /api/v1/classify/batch", s.classifyBatch)

	// Similarity and suggestions
	mux.HandleFunc("POST /api/v1/similarity/search", s.searchSimilar)
	mux.HandleFunc("GET /api/v1/cases/{id}/similar", s.caseSimilar)
	mux.HandleFunc("POST /api/v1/responses/suggest", s.suggest)

	// Cases
	mux.HandleFunc("GET /api/v1/cases", s.listCases)
	mux.HandleFunc("POST /api/v1/cases", s.createCase)
	mux.HandleFunc("GET /api/v1/cases/{id}", s.getCase)
	mux.HandleFunc("PUT /api/v1/cases/{id}", s.updateCase)
	mux.HandleFunc("DELETE /api/v1/cases/{id}", s.deleteCase)
	mux.HandleFunc("POST /api/v1/cases/{id}/reclassify", s.reclassify)

	// Stats
	mux.HandleFunc("GET /api/v1/stats/overview", s.statsOverview)
	mux.HandleFunc("GET /api/v1/stats/by-type", s.statsByType)
	mux.HandleFunc("GET /api/v1/stats/by-category", s.statsByCategory)
	mux.HandleFunc("GET /api/v1/stats/classification", s.statsClassification)
	mux.HandleFunc("GET /api/v1/stats/full", s.statsFull)

	mux.HandleFunc("GET /health", s.healthCheck)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return withCORS(mux)
}

// Run serves on addr until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// withCORS adds CORS headers for browser clients.
func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		h.ServeHTTP(w, r)
	})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "invalid case id")
		return 0, false
	}
	return id, true
}

// queryInt returns def when the parameter is absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New("invalid " + name + ": " + v)
	}
	return n, nil
}

func queryFloat(r *http.Request, name string) (*float64, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, errors.New("invalid " + name + ": " + v)
	}
	return &f, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrPrecondition):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrState), errors.Is(err, triage.ErrStale):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// fail maps a service error to its status; server errors are logged, not echoed.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= 500 {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, code, http.StatusText(code))
		return
	}
	writeError(w, code, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
