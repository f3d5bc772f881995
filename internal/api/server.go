package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/session-harvester/internal/barrier"
	"github.com/JakeFAU/session-harvester/internal/metrics"
	"github.com/JakeFAU/session-harvester/internal/operator"
	"github.com/JakeFAU/session-harvester/internal/stats"
	"github.com/JakeFAU/session-harvester/internal/store"
)

// StatsSource supplies the live statistics snapshot.
type StatsSource interface {
	Snapshot() stats.Snapshot
}

// Operator lists and resolves outstanding operator requests.
type Operator interface {
	Pending() []operator.PendingItem
	Resolve(identity string) bool
}

// Options wires the server's collaborators. Runs, Metrics and Gatherer are
// optional.
type Options struct {
	Stats    StatsSource
	Operator Operator
	Gates    []*barrier.Gate
	Runs     store.RunRepository
	RunID    uuid.UUID
	Gatherer prometheus.Gatherer
	Metrics  *metrics.Collectors
	APIKey   string
	Timeout  time.Duration
	Logger   *zap.Logger
}

// Server exposes run status and operator controls over HTTP.
type Server struct {
	router   chi.Router
	stats    StatsSource
	operator Operator
	gates    map[string]*barrier.Gate
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options) (*Server, error) {
	if opts.Stats == nil {
		return nil, errors.New("stats source is required")
	}
	if opts.Operator == nil {
		return nil, errors.New("operator is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	s := &Server{
		stats:    opts.Stats,
		operator: opts.Operator,
		gates:    make(map[string]*barrier.Gate, len(opts.Gates)),
		logger:   opts.Logger.Named("api"),
	}
	for _, g := range opts.Gates {
		s.gates[g.Name()] = g
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}
	r.Use(timeoutMiddleware(opts.Timeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(opts.Gatherer))

	runs := NewRunHandler(opts.Runs, opts.RunID, s.logger)
	r.Route("/v1", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(apiKeyMiddleware(opts.APIKey))
		}
		r.Get("/stats", s.getStats)
		r.Get("/pauses", s.listPauses)
		r.Post("/identities/{name}/resume", s.resumeIdentity)
		r.Post("/gates/{name}/open", s.openGate)
		r.Get("/runs/current", runs.GetCurrent)
		r.Get("/runs/{run_id}", runs.GetRun)
	})

	s.router = r
	return s, nil
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getStats(w http.ResponseWriter, _ *http.Request) {
	snap := s.stats.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"snapshot":        snap,
		"elapsed_seconds": snap.Elapsed().Seconds(),
	})
}

func (s *Server) listPauses(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"pending": s.operator.Pending()})
}

func (s *Server) resumeIdentity(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.operator.Resolve(name) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no pending pause for %q", name))
		return
	}
	s.logger.Info("pause acknowledged over HTTP", zap.String("identity", name))
	writeJSON(w, http.StatusOK, map[string]string{"identity": name, "status": "resumed"})
}

func (s *Server) openGate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	gate, ok := s.gates[name]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown gate %q", name))
		return
	}
	opened := gate.Open()
	if opened {
		s.logger.Info("gate opened over HTTP", zap.String("gate", name))
	}
	writeJSON(w, http.StatusOK, map[string]any{"gate": name, "opened": opened, "open": true})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
