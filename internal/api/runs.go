package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/session-harvester/internal/store"
)

const runTimeout = 3 * time.Second

// RunHandler exposes the persisted run ledger.
type RunHandler struct {
	repo    store.RunRepository
	current uuid.UUID
	timeout time.Duration
	logger  *zap.Logger
}

// NewRunHandler wires the repository. repo may be nil, in which case every
// route answers 503.
func NewRunHandler(repo store.RunRepository, current uuid.UUID, logger *zap.Logger) *RunHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunHandler{repo: repo, current: current, timeout: runTimeout, logger: logger}
}

// GetCurrent handles GET /v1/runs/current.
func (h *RunHandler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	if h.current == uuid.Nil {
		writeError(w, http.StatusNotFound, "no current run")
		return
	}
	h.serveRun(w, r, h.current)
}

// GetRun handles GET /v1/runs/{run_id}. It returns {"run": {...},
// "identities": [...]} on success, 400 for malformed IDs, 404 when the
// repository reports store.ErrNotFound, 503 without a repository, or 500.
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(chi.URLParam(r, "run_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run_id")
		return
	}
	h.serveRun(w, r, runID)
}

func (h *RunHandler) serveRun(w http.ResponseWriter, r *http.Request, runID uuid.UUID) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "run ledger unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.repo.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.Error("get run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	identities, err := h.repo.ListIdentityStats(ctx, runID)
	if err != nil {
		h.logger.Error("list identity stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list identity stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run":        toRunDTO(run),
		"identities": toIdentityDTOs(identities),
	})
}

type runDTO struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	Note       *string    `json:"note,omitempty"`
}

type identityDTO struct {
	Identity       string    `json:"identity"`
	LastUpdate     time.Time `json:"last_update"`
	New            int64     `json:"new"`
	Skipped        int64     `json:"skipped"`
	Delivered      int64     `json:"delivered"`
	DeliveryFailed int64     `json:"delivery_failed"`
	SoftErrors     int64     `json:"soft_errors"`
	Pauses         int64     `json:"pauses"`
}

func toRunDTO(run store.Run) runDTO {
	return runDTO{
		ID:         run.ID.String(),
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Status:     string(run.Status),
		Note:       run.Note,
	}
}

func toIdentityDTOs(in []store.IdentityStats) []identityDTO {
	out := make([]identityDTO, 0, len(in))
	for _, s := range in {
		out = append(out, identityDTO{
			Identity:       s.Identity,
			LastUpdate:     s.LastUpdate,
			New:            s.New,
			Skipped:        s.Skipped,
			Delivered:      s.Delivered,
			DeliveryFailed: s.DeliveryFailed,
			SoftErrors:     s.SoftErrors,
			Pauses:         s.Pauses,
		})
	}
	return out
}
