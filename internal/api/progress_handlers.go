package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/pypi-harvester/internal/progress/sinks"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 100
)

// RunReader exposes aggregated run snapshots. sinks.SnapshotSink satisfies
// it.
type RunReader interface {
	ListRuns(limit int) []sinks.RunSnapshot
	GetRun(id uuid.UUID) (sinks.RunSnapshot, bool)
}

// ProgressHandler exposes read-only run progress endpoints.
type ProgressHandler struct {
	runs   RunReader
	logger *zap.Logger
}

// NewProgressHandler wires the snapshot reader and logger.
func NewProgressHandler(runs RunReader, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{runs: runs, logger: logger}
}

// ListRuns handles GET /v1/progress?limit=. It returns {"runs": [...]} most
// recent first, 400 for an invalid limit, or 503 without a reader.
func (h *ProgressHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "progress snapshots unavailable")
		return
	}
	limit, err := parseLimit(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": h.runs.ListRuns(limit)})
}

// GetRun handles GET /v1/progress/{run_id}. It returns {"run": {...}}, 400
// for a malformed ID, or 404 for an unknown or evicted run.
func (h *ProgressHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "progress snapshots unavailable")
		return
	}
	id, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	run, ok := h.runs.GetRun(id)
	if !ok {
		h.logger.Debug("run not found", zap.Stringer("run_id", id))
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

func parseRunID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "run_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("run_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid run_id")
	}
	return id, nil
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	return min(val, maxLimit), nil
}
