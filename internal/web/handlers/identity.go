package handlers

import (
	"context"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/asset-guard/internal/constants"
	"github.com/kozaktomas/asset-guard/internal/fingerprint"
	"github.com/kozaktomas/asset-guard/internal/identity"
	"github.com/kozaktomas/asset-guard/internal/logging"
)

// Verifier is satisfied by *identity.Verifier.
type Verifier interface {
	VerifyBytes(ctx context.Context, reference, capture []byte) (identity.Result, error)
}

// LivenessChecker is satisfied by *identity.LivenessChecker.
type LivenessChecker interface {
	Check(ctx context.Context, src identity.FrameSource) (identity.LivenessResult, error)
}

// IdentityHandler serves identity verification and liveness.
type IdentityHandler struct {
	verifier Verifier
	liveness LivenessChecker
	logger   *zap.Logger
}

// NewIdentityHandler creates an identity handler. Either collaborator may be nil.
func NewIdentityHandler(verifier Verifier, liveness LivenessChecker, logger *zap.Logger) *IdentityHandler {
	return &IdentityHandler{verifier: verifier, liveness: liveness, logger: logging.OrNop(logger)}
}

// Verify handles POST /identity/verify with multipart "reference" and "capture".
func (h *IdentityHandler) Verify(w http.ResponseWriter, r *http.Request) {
	if h.verifier == nil {
		respondError(w, http.StatusServiceUnavailable, "identity verification is not configured")
		return
	}
	if !parseUpload(w, r) {
		return
	}

	reference, _, err := readFormFile(r, "reference")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	capture, _, err := readFormFile(r, "capture")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.verifier.VerifyBytes(r.Context(), reference, capture)
	if err != nil {
		status := statusForError(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("identity verification failed", zap.Error(err))
		}
		respondError(w, status, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Liveness handles POST /identity/liveness with multipart "frames" in
// capture order and an optional "interval_ms" between frames.
func (h *IdentityHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	if h.liveness == nil {
		respondError(w, http.StatusServiceUnavailable, "liveness check is not configured")
		return
	}
	if !parseUpload(w, r) {
		return
	}

	files := r.MultipartForm.File["frames"]
	if len(files) == 0 {
		files = r.MultipartForm.File["frames[]"]
	}
	if len(files) == 0 {
		respondError(w, http.StatusBadRequest, "frames are required")
		return
	}
	if len(files) > constants.MaxLivenessFrames {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("at most %d frames are accepted", constants.MaxLivenessFrames))
		return
	}

	interval := identity.DefaultFrameInterval
	if s := r.FormValue("interval_ms"); s != "" {
		ms, err := strconv.Atoi(s)
		if err != nil || ms <= 0 {
			respondError(w, http.StatusBadRequest, "invalid interval_ms")
			return
		}
		interval = time.Duration(ms) * time.Millisecond
	}

	images := make([]image.Image, 0, len(files))
	for i, fh := range files {
		img, err := decodeFrame(fh.Open)
		if err != nil {
			respondError(w, statusForError(err), fmt.Sprintf("frame %d: %v", i, err))
			return
		}
		images = append(images, img)
	}

	result, err := h.liveness.Check(r.Context(), identity.NewSliceSource(images, interval))
	if err != nil {
		h.logger.Error("liveness check failed", zap.Error(err))
		respondError(w, statusForError(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func decodeFrame(open func() (multipart.File, error)) (image.Image, error) {
	f, err := open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return fingerprint.Decode(data)
}
