package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kozaktomas/asset-guard/internal/ai"
	"github.com/kozaktomas/asset-guard/internal/fingerprint"
	"github.com/kozaktomas/asset-guard/internal/logging"
)

// RiskHandler asks the configured classifier for a rights risk assessment.
type RiskHandler struct {
	classifier ai.Classifier
	logger     *zap.Logger
}

// NewRiskHandler creates a risk handler. classifier may be nil.
func NewRiskHandler(classifier ai.Classifier, logger *zap.Logger) *RiskHandler {
	return &RiskHandler{classifier: classifier, logger: logging.OrNop(logger)}
}

// Classify handles POST /risk.
func (h *RiskHandler) Classify(w http.ResponseWriter, r *http.Request) {
	if h.classifier == nil {
		respondError(w, http.StatusServiceUnavailable, "risk classifier is not configured")
		return
	}
	if !parseUpload(w, r) {
		return
	}

	data, name, err := readFormFile(r, "file")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	img, err := fingerprint.Decode(data)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to decode image")
		return
	}

	b := img.Bounds()
	assessment, err := h.classifier.Classify(r.Context(), data, &ai.ImageInfo{
		FileName:    name,
		Width:       b.Dx(),
		Height:      b.Dy(),
		ContentHash: fingerprint.ContentHash(data),
	})
	if err != nil {
		h.logger.Warn("risk classification failed", zap.String("provider", h.classifier.Name()), zap.Error(err))
		status := http.StatusBadGateway
		if errors.Is(err, ai.ErrInvalidAssessment) {
			status = http.StatusUnprocessableEntity
		}
		respondError(w, status, "risk classification failed")
		return
	}
	respondJSON(w, http.StatusOK, assessment)
}
