package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/kozaktomas/asset-guard/internal/dedup"
	"github.com/kozaktomas/asset-guard/internal/fingerprint"
	"github.com/kozaktomas/asset-guard/internal/ledger"
	"github.com/kozaktomas/asset-guard/internal/logging"
)

// DuplicateChecker is satisfied by *dedup.Scanner.
type DuplicateChecker interface {
	Check(ctx context.Context, collection common.Address, targetHash string, full bool) dedup.Match
}

// DuplicatesHandler runs on-chain duplicate checks.
type DuplicatesHandler struct {
	scanner    DuplicateChecker
	collection common.Address
	logger     *zap.Logger
}

// NewDuplicatesHandler creates a duplicates handler. scanner may be nil when
// no ledger is configured.
func NewDuplicatesHandler(scanner DuplicateChecker, collection common.Address, logger *zap.Logger) *DuplicatesHandler {
	return &DuplicatesHandler{scanner: scanner, collection: collection, logger: logging.OrNop(logger)}
}

// DuplicateCheckRequest is the body of POST /duplicates/check.
type DuplicateCheckRequest struct {
	ContentHash string `json:"content_hash"`
	Collection  string `json:"collection,omitempty"`
	Full        bool   `json:"full"`
}

// Check handles POST /duplicates/check. Degraded scans are returned with
// status 200 and a degraded reason.
func (h *DuplicatesHandler) Check(w http.ResponseWriter, r *http.Request) {
	if h.scanner == nil {
		respondError(w, http.StatusServiceUnavailable, "ledger is not configured")
		return
	}

	var req DuplicateCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	hash := fingerprint.NormalizeContentHash(req.ContentHash)
	if hash == "" {
		respondError(w, http.StatusBadRequest, "content_hash is required")
		return
	}

	collection := h.collection
	if req.Collection != "" {
		addr, err := ledger.ParseAddress(req.Collection)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid collection address")
			return
		}
		collection = addr
	}

	match := h.scanner.Check(r.Context(), collection, hash, req.Full)
	if match.IsDegraded() {
		h.logger.Warn("duplicate check degraded",
			zap.String("content_hash", sanitizeForLog(hash)),
			zap.String("reason", match.Reason.Cause),
		)
	}
	respondJSON(w, http.StatusOK, match)
}
