// Package facematch detects facial landmarks and turns them into
// scale and position invariant embeddings.
package facematch

import (
	"context"
	"errors"
	"image"
)

var (
	// ErrNoFace is returned when an image contains no detectable face.
	ErrNoFace = errors.New("no face detected")
	// ErrModelUnavailable is returned when the landmark model cannot be loaded or reached.
	ErrModelUnavailable = errors.New("face model unavailable")
	// ErrDegenerateLandmarks is returned for landmark sets that cannot be normalized.
	ErrDegenerateLandmarks = errors.New("degenerate landmarks")
)

// Point is a landmark position in image pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// BBox is a bounding box in image pixels, [X1,Y1] top-left and [X2,Y2] bottom-right.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Face is one detected face.
type Face struct {
	Landmarks  []Point `json:"landmarks"`
	BBox       BBox    `json:"bbox"`
	Score      float64 `json:"score"`
	BlinkScore float64 `json:"blink_score"` // 0 eyes open, 1 eyes closed
}

// Topology describes the fixed landmark layout a detector produces.
type Topology struct {
	Name     string
	Points   int
	LeftEye  int // index of the left eye reference point
	RightEye int // index of the right eye reference point
}

// MeshTopology is the 468 point face mesh. Eye references are the outer eye corners.
var MeshTopology = Topology{Name: "mesh", Points: 468, LeftEye: 33, RightEye: 263}

// PigoTopology is the 18 point pigo layout: two pupils, ten eye points and
// six mouth points. Eye references are the pupils.
var PigoTopology = Topology{Name: "pigo", Points: 18, LeftEye: 0, RightEye: 1}

// Detector finds faces and their landmarks. Implementations must be safe
// for concurrent use.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Face, error)
	Topology() Topology
}

// Embedding is an L2-normalized landmark geometry vector.
type Embedding []float64
