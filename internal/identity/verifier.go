// Package identity compares a reference portrait with a live capture and
// runs the blink and movement liveness probe.
package identity

import (
	"context"
	"errors"
	"fmt"
	"image"

	"go.uber.org/zap"

	"github.com/kozaktomas/asset-guard/internal/constants"
	"github.com/kozaktomas/asset-guard/internal/facematch"
	"github.com/kozaktomas/asset-guard/internal/fingerprint"
)

var (
	// ErrAmbiguousIdentity is the rejection reason for captures with more than one face.
	ErrAmbiguousIdentity = errors.New("multiple faces in capture")
	// ErrComparisonUnavailable is returned when neither the embedding nor the hash path could run.
	ErrComparisonUnavailable = errors.New("identity comparison unavailable")
	// ErrWeakEmbedding is the fallback reason when the detector's landmark
	// layout yields too few values to tell faces apart.
	ErrWeakEmbedding = errors.New("embedding too small to compare identities")
)

// Status is the verification verdict.
type Status string

const (
	StatusVerified Status = "verified"
	StatusMismatch Status = "mismatch"
	StatusRejected Status = "rejected"
)

// Path names the comparison that produced the verdict.
type Path string

const (
	PathEmbedding    Path = "embedding"
	PathFallbackHash Path = "fallback_hash"
	PathNone         Path = "none"
)

// Result is the outcome of one verification. Exactly one of Similarity and
// Distance is set for verified and mismatch results.
type Result struct {
	Status     Status   `json:"status"`
	Path       Path     `json:"path"`
	Similarity *float64 `json:"similarity,omitempty"`
	Distance   *int     `json:"distance,omitempty"`
	Threshold  float64  `json:"threshold"`
	Faces      int      `json:"capture_faces"`
	Reason     string   `json:"reason,omitempty"`
}

// Verified reports whether the capture matched the reference.
func (r Result) Verified() bool {
	return r.Status == StatusVerified
}

// Analyzer detects faces and embeds the first one.
type Analyzer interface {
	Analyze(ctx context.Context, img image.Image) (facematch.Analysis, error)
}

// topologyReporter is implemented by analyzers that know their landmark layout.
type topologyReporter interface {
	Topology() facematch.Topology
}

// Options configures a Verifier. Zero values fall back to defaults, except
// FallbackDistance: 0 accepts identical hashes only and a negative value
// selects the default.
type Options struct {
	SimilarityThreshold float64
	FallbackDistance    int
	HashSize            int
	CropRatio           float64
}

// Verifier runs reference against capture comparisons.
type Verifier struct {
	analyzer Analyzer
	opts     Options
	logger   *zap.Logger

	// weakEmbedding is set when the analyzer's embeddings are shorter than
	// constants.MinEmbeddingSize. Such captures go to the hash fallback.
	weakEmbedding bool
}

// NewVerifier creates a verifier. A nil analyzer always uses the hash fallback.
func NewVerifier(analyzer Analyzer, opts Options, logger *zap.Logger) *Verifier {
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = constants.DefaultSimilarityThreshold
	}
	if opts.FallbackDistance < 0 {
		opts.FallbackDistance = constants.DefaultFallbackDistance
	}
	if opts.HashSize <= 0 {
		opts.HashSize = constants.DefaultHashSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	v := &Verifier{analyzer: analyzer, opts: opts, logger: logger}
	if tr, ok := analyzer.(topologyReporter); ok {
		topo := tr.Topology()
		if size := facematch.EmbeddingSize(topo); size < constants.MinEmbeddingSize {
			logger.Warn("face embeddings too small, identity checks use hash comparison",
				zap.String("topology", topo.Name),
				zap.Int("embedding_size", size),
				zap.Int("min_embedding_size", constants.MinEmbeddingSize),
			)
			v.weakEmbedding = true
		}
	}
	return v
}

// Options returns the effective options.
func (v *Verifier) Options() Options {
	return v.opts
}

// VerifyBytes decodes both images and verifies them. Decode errors are
// returned wrapped in fingerprint.ErrDecode.
func (v *Verifier) VerifyBytes(ctx context.Context, reference, capture []byte) (Result, error) {
	refImg, err := fingerprint.Decode(reference)
	if err != nil {
		return Result{}, fmt.Errorf("reference: %w", err)
	}
	capImg, err := fingerprint.Decode(capture)
	if err != nil {
		return Result{}, fmt.Errorf("capture: %w", err)
	}
	return v.Verify(ctx, refImg, capImg)
}

// Verify compares reference and capture. A capture with several faces is
// rejected outright. Otherwise the embeddings are compared, and if either
// cannot be extracted, or the detector's embeddings are too short, the
// perceptual hash variants are compared instead.
// Only when both paths are impossible is an error returned.
func (v *Verifier) Verify(ctx context.Context, reference, capture image.Image) (Result, error) {
	capEmb, faces, capErr := v.embed(ctx, capture)
	if faces > 1 {
		v.logger.Info("identity rejected", zap.Int("faces", faces))
		return Result{
			Status: StatusRejected,
			Path:   PathNone,
			Faces:  faces,
			Reason: ErrAmbiguousIdentity.Error(),
		}, nil
	}

	var reason string
	switch {
	case v.weakEmbedding:
		reason = ErrWeakEmbedding.Error()
	case capErr != nil:
		reason = "capture: " + capErr.Error()
	default:
		refEmb, _, refErr := v.embed(ctx, reference)
		if refErr == nil {
			return v.compareEmbeddings(refEmb, capEmb, faces), nil
		}
		reason = "reference: " + refErr.Error()
	}
	v.logger.Debug("identity fallback to hash comparison", zap.String("reason", reason))

	res, err := v.compareHashes(reference, capture)
	if err != nil {
		return Result{Path: PathNone, Faces: faces, Reason: reason}, err
	}
	res.Faces = faces
	res.Reason = reason
	return res, nil
}

// embed returns the embedding and the number of faces found. faces is
// zero when detection itself failed.
func (v *Verifier) embed(ctx context.Context, img image.Image) (facematch.Embedding, int, error) {
	if v.analyzer == nil {
		return nil, 0, facematch.ErrModelUnavailable
	}
	if img == nil {
		return nil, 0, facematch.ErrNoFace
	}
	a, err := v.analyzer.Analyze(ctx, img)
	if err != nil {
		return nil, a.FaceCount(), err
	}
	return a.Embedding, a.FaceCount(), nil
}

func (v *Verifier) compareEmbeddings(ref, capture facematch.Embedding, faces int) Result {
	similarity := facematch.CosineSimilarity(ref, capture)
	status := StatusMismatch
	if similarity >= v.opts.SimilarityThreshold {
		status = StatusVerified
	}
	return Result{
		Status:     status,
		Path:       PathEmbedding,
		Similarity: &similarity,
		Threshold:  v.opts.SimilarityThreshold,
		Faces:      faces,
	}
}

func (v *Verifier) compareHashes(reference, capture image.Image) (Result, error) {
	if !usable(reference) || !usable(capture) {
		return Result{}, fmt.Errorf("%w: missing image", ErrComparisonUnavailable)
	}

	refSet := fingerprint.ComputeVariants(reference, v.opts.HashSize, v.opts.CropRatio)
	capSet := fingerprint.ComputeVariants(capture, v.opts.HashSize, v.opts.CropRatio)

	best, ok := fingerprint.MinVariantDistance(refSet, capSet)
	if !ok {
		return Result{}, fmt.Errorf("%w: no hash variants", ErrComparisonUnavailable)
	}

	status := StatusMismatch
	if best.Distance <= v.opts.FallbackDistance {
		status = StatusVerified
	}
	distance := best.Distance
	return Result{
		Status:    status,
		Path:      PathFallbackHash,
		Distance:  &distance,
		Threshold: float64(v.opts.FallbackDistance),
	}, nil
}

func usable(img image.Image) bool {
	return img != nil && !img.Bounds().Empty()
}
