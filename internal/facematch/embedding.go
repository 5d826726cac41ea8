package facematch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"go.uber.org/zap"

	"github.com/kozaktomas/asset-guard/internal/constants"
)

// overlapIoU is the overlap above which two detections count as one face.
const overlapIoU = 0.5

// EmbeddingFromLandmarks builds an embedding from one face's landmarks.
// Points are centered on their centroid, scaled by the distance between
// the topology's eye references, downsampled to every LandmarkStride-th
// point and L2-normalized. The result is invariant to face position and
// distance from the camera but not to head rotation.
func EmbeddingFromLandmarks(points []Point, topo Topology) (Embedding, error) {
	if len(points) < topo.Points || topo.Points == 0 {
		return nil, fmt.Errorf("%w: got %d points, topology %s needs %d",
			ErrDegenerateLandmarks, len(points), topo.Name, topo.Points)
	}
	points = points[:topo.Points]

	eyeDist := Distance(points[topo.LeftEye], points[topo.RightEye])
	if eyeDist == 0 {
		return nil, fmt.Errorf("%w: zero inter-eye distance", ErrDegenerateLandmarks)
	}

	c := Centroid(points)
	emb := make(Embedding, 0, 2*((len(points)+constants.LandmarkStride-1)/constants.LandmarkStride))
	for i := 0; i < len(points); i += constants.LandmarkStride {
		emb = append(emb, (points[i].X-c.X)/eyeDist, (points[i].Y-c.Y)/eyeDist)
	}

	var norm float64
	for _, v := range emb {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return nil, fmt.Errorf("%w: zero norm", ErrDegenerateLandmarks)
	}
	for i := range emb {
		emb[i] /= norm
	}
	return emb, nil
}

// EmbeddingSize returns the embedding length produced for a topology.
func EmbeddingSize(topo Topology) int {
	return 2 * ((topo.Points + constants.LandmarkStride - 1) / constants.LandmarkStride)
}

// CosineSimilarity compares two embeddings over their common prefix.
// Returns 0 when either side has zero magnitude.
func CosineSimilarity(a, b Embedding) float64 {
	n := min(len(a), len(b))
	if n == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range n {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Analysis is the result of running detection once over an image.
type Analysis struct {
	Faces     []Face
	Embedding Embedding // from the first face, nil when no face was found
}

// FaceCount returns the number of detected faces.
func (a Analysis) FaceCount() int {
	return len(a.Faces)
}

// Extractor computes embeddings with a Detector.
type Extractor struct {
	detector Detector
	logger   *zap.Logger
}

// NewExtractor creates an extractor.
func NewExtractor(detector Detector, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{detector: detector, logger: logger}
}

// Topology returns the detector's landmark layout.
func (e *Extractor) Topology() Topology {
	return e.detector.Topology()
}

// Analyze detects faces and embeds the first one.
func (e *Extractor) Analyze(ctx context.Context, img image.Image) (Analysis, error) {
	faces, err := e.detect(ctx, img)
	if err != nil {
		return Analysis{}, err
	}
	if len(faces) == 0 {
		return Analysis{}, ErrNoFace
	}

	emb, err := EmbeddingFromLandmarks(faces[0].Landmarks, e.detector.Topology())
	if err != nil {
		return Analysis{Faces: faces}, err
	}
	return Analysis{Faces: faces, Embedding: emb}, nil
}

// Extract returns the embedding of the first detected face, or ErrNoFace.
func (e *Extractor) Extract(ctx context.Context, img image.Image) (Embedding, error) {
	a, err := e.Analyze(ctx, img)
	if err != nil {
		return nil, err
	}
	return a.Embedding, nil
}

// CountFaces returns the number of distinct faces in img.
func (e *Extractor) CountFaces(ctx context.Context, img image.Image) (int, error) {
	faces, err := e.detect(ctx, img)
	if err != nil {
		return 0, err
	}
	return len(faces), nil
}

func (e *Extractor) detect(ctx context.Context, img image.Image) ([]Face, error) {
	faces, err := e.detector.Detect(ctx, img)
	if err != nil {
		if !errors.Is(err, ErrModelUnavailable) {
			e.logger.Warn("face detection failed", zap.String("detector", e.detector.Topology().Name), zap.Error(err))
		}
		return nil, err
	}
	return dedupeFaces(faces, overlapIoU), nil
}
