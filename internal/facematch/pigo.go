package facematch

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"sync"

	pigo "github.com/esimov/pigo/core"
	"go.uber.org/zap"
)

// Landmark cascades in the order their points are emitted. Eye cascades are
// run unflipped and flipped. The first two mouth cascades are run both ways.
var (
	eyeCascades   = []string{"lp46", "lp44", "lp42", "lp38", "lp312"}
	mouthCascades = []string{"lp93", "lp84", "lp82", "lp81"}
)

const (
	pupilPerturbs      = 50
	mouthFlippedPoints = 2
)

// PigoParams tunes the face cascade.
type PigoParams struct {
	MinSize      int
	ShiftFactor  float64
	ScaleFactor  float64
	IoUThreshold float64
	MinQuality   float32
}

// DefaultPigoParams are the detection parameters used when none are given.
var DefaultPigoParams = PigoParams{
	MinSize:      40,
	ShiftFactor:  0.1,
	ScaleFactor:  1.1,
	IoUThreshold: 0.2,
	MinQuality:   5.0,
}

// PigoDetector runs the pigo face, pupil and landmark cascades in process.
// Cascades are read from dir on first use: dir/facefinder, dir/puploc and
// the landmark cascades under dir/lps.
type PigoDetector struct {
	dir    string
	params PigoParams
	logger *zap.Logger

	once    sync.Once
	loadErr error

	mu        sync.Mutex
	face      *pigo.Pigo
	pupil     *pigo.PuplocCascade
	landmarks map[string][]*pigo.FlpCascade
}

// NewPigoDetector creates a detector reading cascades from dir.
func NewPigoDetector(dir string, params PigoParams, logger *zap.Logger) *PigoDetector {
	if params == (PigoParams{}) {
		params = DefaultPigoParams
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PigoDetector{dir: dir, params: params, logger: logger}
}

// Topology returns PigoTopology.
func (d *PigoDetector) Topology() Topology {
	return PigoTopology
}

// Load reads the cascades. It is called implicitly by Detect and returns
// the same error on every call after a failure.
func (d *PigoDetector) Load() error {
	d.once.Do(func() {
		d.loadErr = d.loadCascades()
		if d.loadErr != nil {
			d.logger.Warn("pigo cascades unavailable", zap.String("dir", d.dir), zap.Error(d.loadErr))
		}
	})
	return d.loadErr
}

func (d *PigoDetector) loadCascades() error {
	if d.dir == "" {
		return fmt.Errorf("%w: cascade directory not configured", ErrModelUnavailable)
	}

	faceData, err := os.ReadFile(filepath.Join(d.dir, "facefinder"))
	if err != nil {
		return fmt.Errorf("%w: reading facefinder: %w", ErrModelUnavailable, err)
	}
	face, err := pigo.NewPigo().Unpack(faceData)
	if err != nil {
		return fmt.Errorf("%w: unpacking facefinder: %w", ErrModelUnavailable, err)
	}

	pupilData, err := os.ReadFile(filepath.Join(d.dir, "puploc"))
	if err != nil {
		return fmt.Errorf("%w: reading puploc: %w", ErrModelUnavailable, err)
	}
	pupil, err := pigo.NewPuplocCascade().UnpackCascade(pupilData)
	if err != nil {
		return fmt.Errorf("%w: unpacking puploc: %w", ErrModelUnavailable, err)
	}

	landmarks, err := pigo.NewPuplocCascade().ReadCascadeDir(filepath.Join(d.dir, "lps"))
	if err != nil {
		return fmt.Errorf("%w: reading landmark cascades: %w", ErrModelUnavailable, err)
	}
	for _, name := range append(append([]string{}, eyeCascades...), mouthCascades...) {
		if len(landmarks[name]) == 0 || landmarks[name][0] == nil || landmarks[name][0].PuplocCascade == nil {
			return fmt.Errorf("%w: landmark cascade %s missing", ErrModelUnavailable, name)
		}
	}

	d.face = face
	d.pupil = pupil
	d.landmarks = landmarks
	return nil
}

// Detect returns faces ordered by detection quality, best first.
func (d *PigoDetector) Detect(ctx context.Context, img image.Image) ([]Face, error) {
	if err := d.Load(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src := pigo.ImgToNRGBA(img)
	cols, rows := src.Bounds().Max.X, src.Bounds().Max.Y
	imgParams := pigo.ImageParams{
		Pixels: pigo.RgbToGrayscale(src),
		Rows:   rows,
		Cols:   cols,
		Dim:    cols,
	}
	cParams := pigo.CascadeParams{
		MinSize:     d.params.MinSize,
		MaxSize:     max(rows, cols),
		ShiftFactor: d.params.ShiftFactor,
		ScaleFactor: d.params.ScaleFactor,
		ImageParams: imgParams,
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	dets := d.face.RunCascade(cParams, 0.0)
	dets = d.face.ClusterDetections(dets, d.params.IoUThreshold)
	sort.Slice(dets, func(i, j int) bool { return dets[i].Q > dets[j].Q })

	var faces []Face
	for _, det := range dets {
		if det.Q < d.params.MinQuality {
			continue
		}
		faces = append(faces, d.faceFor(det, imgParams))
	}
	return faces, nil
}

// faceFor locates pupils and landmark points inside a face detection. A
// point the cascades cannot place falls back to its seed position so the
// topology stays fixed.
func (d *PigoDetector) faceFor(det pigo.Detection, imgParams pigo.ImageParams) Face {
	scale := float32(det.Scale)
	seedRow := det.Row - int(0.075*scale)
	leftSeed := pigo.Puploc{Row: seedRow, Col: det.Col - int(0.175*scale), Scale: scale * 0.25, Perturbs: pupilPerturbs}
	rightSeed := pigo.Puploc{Row: seedRow, Col: det.Col + int(0.185*scale), Scale: scale * 0.25, Perturbs: pupilPerturbs}

	openEyes := 0
	left := d.pupil.RunDetector(leftSeed, imgParams, 0.0, false)
	if located(left) {
		openEyes++
	} else {
		left = &leftSeed
	}
	right := d.pupil.RunDetector(rightSeed, imgParams, 0.0, false)
	if located(right) {
		openEyes++
	} else {
		right = &rightSeed
	}

	center := &pigo.Puploc{Row: det.Row, Col: det.Col}
	points := make([]Point, 0, PigoTopology.Points)
	points = append(points, puplocPoint(left), puplocPoint(right))

	landmark := func(name string, flip bool) {
		p := d.landmarks[name][0].GetLandmarkPoint(left, right, imgParams, pupilPerturbs, flip)
		if !located(p) {
			p = center
		}
		points = append(points, puplocPoint(p))
	}
	for _, name := range eyeCascades {
		landmark(name, false)
		landmark(name, true)
	}
	for i, name := range mouthCascades {
		landmark(name, false)
		if i < mouthFlippedPoints {
			landmark(name, true)
		}
	}

	half := float64(det.Scale) / 2
	return Face{
		Landmarks: points,
		BBox: BBox{
			X1: float64(det.Col) - half,
			Y1: float64(det.Row) - half,
			X2: float64(det.Col) + half,
			Y2: float64(det.Row) + half,
		},
		Score:      float64(det.Q),
		BlinkScore: 1 - float64(openEyes)/2,
	}
}

func located(p *pigo.Puploc) bool {
	return p != nil && p.Row > 0 && p.Col > 0
}

func puplocPoint(p *pigo.Puploc) Point {
	return Point{X: float64(p.Col), Y: float64(p.Row)}
}
