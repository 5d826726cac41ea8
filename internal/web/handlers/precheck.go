package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kozaktomas/asset-guard/internal/logging"
	"github.com/kozaktomas/asset-guard/internal/precheck"
)

// Evaluator is satisfied by *precheck.Gate.
type Evaluator interface {
	Evaluate(ctx context.Context, data []byte, fileName string) (*precheck.Decision, error)
}

// DecisionStore is satisfied by *postgres.DecisionRepository.
type DecisionStore interface {
	Get(ctx context.Context, id string) (*precheck.Decision, error)
}

// PrecheckHandler runs the precheck gate and serves recorded decisions.
type PrecheckHandler struct {
	gate   Evaluator
	store  DecisionStore
	logger *zap.Logger
}

// NewPrecheckHandler creates a precheck handler. store may be nil.
func NewPrecheckHandler(gate Evaluator, store DecisionStore, logger *zap.Logger) *PrecheckHandler {
	return &PrecheckHandler{gate: gate, store: store, logger: logging.OrNop(logger)}
}

// Evaluate handles POST /precheck.
func (h *PrecheckHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	if !parseUpload(w, r) {
		return
	}
	data, name, err := readFormFile(r, "file")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	decision, err := h.gate.Evaluate(r.Context(), data, name)
	if err != nil {
		if status := statusForError(err); status != http.StatusInternalServerError {
			respondError(w, status, "failed to decode image")
			return
		}
		h.logger.Error("precheck failed", zap.String("file", sanitizeForLog(name)), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "precheck failed")
		return
	}
	respondJSON(w, http.StatusOK, decision)
}

// Get handles GET /precheck/{id}.
func (h *PrecheckHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respondError(w, http.StatusServiceUnavailable, "decision log is not configured")
		return
	}

	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		respondError(w, http.StatusBadRequest, "invalid decision id")
		return
	}

	decision, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to load decision", zap.String("id", id), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load decision")
		return
	}
	if decision == nil {
		respondError(w, http.StatusNotFound, "decision not found")
		return
	}
	respondJSON(w, http.StatusOK, decision)
}
