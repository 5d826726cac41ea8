package identity

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kozaktomas/asset-guard/internal/facematch"
)

// faceAt returns a face whose landmark centroid is (x, y) in a 100x100 frame.
func faceAt(x, y, blink float64) facematch.Face {
	return facematch.Face{
		Landmarks:  []facematch.Point{{X: x - 5, Y: y}, {X: x + 5, Y: y}},
		BBox:       facematch.BBox{X1: x - 20, Y1: y - 20, X2: x + 20, Y2: y + 20},
		BlinkScore: blink,
	}
}

func TestLivenessSession(t *testing.T) {
	type obs struct {
		x, y, blink float64
	}
	tests := []struct {
		name    string
		frames  []obs
		moved   bool
		blinked bool
	}{
		{
			name:    "blink and move",
			frames:  []obs{{50, 50, 0.1}, {50, 50, 0.8}, {60, 50, 0.1}},
			moved:   true,
			blinked: true,
		},
		{
			name:    "still photo",
			frames:  []obs{{50, 50, 0.1}, {50, 50, 0.1}, {50, 50, 0.1}},
			moved:   false,
			blinked: false,
		},
		{
			name:    "closed without being open first",
			frames:  []obs{{50, 50, 0.5}, {50, 50, 0.9}, {50, 50, 0.5}},
			moved:   false,
			blinked: false,
		},
		{
			name:    "half closed eye does not count",
			frames:  []obs{{50, 50, 0.1}, {50, 50, 0.5}, {50, 50, 0.1}},
			moved:   false,
			blinked: false,
		},
		{
			name:    "jitter below threshold",
			frames:  []obs{{50, 50, 0.1}, {52, 51, 0.1}, {53, 52, 0.1}},
			moved:   false,
			blinked: false,
		},
		{
			name:    "slow drift counts frame to frame only",
			frames:  []obs{{50, 50, 0.1}, {53, 50, 0.1}, {56, 50, 0.1}, {59, 50, 0.1}},
			moved:   false,
			blinked: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := NewLivenessSession(LivenessOptions{Duration: time.Second, MoveThreshold: 0.04, BlinkThreshold: 0.6}, time.Unix(0, 0))
			for i, f := range tc.frames {
				s.Observe(faceAt(f.x, f.y, f.blink), 100, 100, time.Duration(i)*100*time.Millisecond)
			}
			r := s.Result()
			if r.Moved != tc.moved || r.Blinked != tc.blinked {
				t.Errorf("moved=%v blinked=%v; want moved=%v blinked=%v", r.Moved, r.Blinked, tc.moved, tc.blinked)
			}
			if r.Passed != (tc.moved && tc.blinked) {
				t.Errorf("Passed = %v", r.Passed)
			}
			if !r.Passed && r.Reason == "" {
				t.Error("failed session should carry a reason")
			}
		})
	}
}

func TestLivenessSession_BudgetExpires(t *testing.T) {
	s := NewLivenessSession(LivenessOptions{Duration: time.Second}, time.Now())

	s.Observe(faceAt(50, 50, 0.1), 100, 100, 0)
	s.Observe(faceAt(50, 50, 0.9), 100, 100, 500*time.Millisecond)
	// Movement after the budget is ignored.
	s.Observe(faceAt(90, 50, 0.1), 100, 100, 1500*time.Millisecond)

	r := s.Result()
	if r.Passed || r.Moved {
		t.Errorf("late movement should not count: %+v", r)
	}
	if !r.Blinked {
		t.Error("blink inside the budget should count")
	}
	if r.Frames != 2 {
		t.Errorf("Frames = %d; want 2", r.Frames)
	}
}

func TestLivenessSession_NormalizesByFrameSize(t *testing.T) {
	s := NewLivenessSession(LivenessOptions{MoveThreshold: 0.04}, time.Now())

	// 30px in a 1000px wide frame is 3% and below the threshold.
	s.Observe(faceAt(500, 500, 0.1), 1000, 1000, 0)
	s.Observe(faceAt(530, 500, 0.1), 1000, 1000, time.Millisecond)
	if s.Result().Moved {
		t.Error("3% displacement should not count as movement")
	}

	s.Observe(faceAt(580, 500, 0.1), 1000, 1000, 2*time.Millisecond)
	if !s.Result().Moved {
		t.Error("5% displacement should count as movement")
	}
}

// scriptedDetector returns one scripted face set per call.
type scriptedDetector struct {
	frames [][]facematch.Face
	err    error
	calls  int
}

func (d *scriptedDetector) Detect(context.Context, image.Image) ([]facematch.Face, error) {
	if d.err != nil {
		return nil, d.err
	}
	i := d.calls
	d.calls++
	if i >= len(d.frames) {
		return nil, nil
	}
	return d.frames[i], nil
}

func (d *scriptedDetector) Topology() facematch.Topology {
	return facematch.PigoTopology
}

func blankFrames(n int) []image.Image {
	out := make([]image.Image, n)
	for i := range out {
		out[i] = image.NewRGBA(image.Rect(0, 0, 100, 100))
	}
	return out
}

func TestLivenessChecker_Passes(t *testing.T) {
	detector := &scriptedDetector{frames: [][]facematch.Face{
		{faceAt(50, 50, 0.1)},
		{},
		{faceAt(50, 50, 0.9)},
		{faceAt(70, 50, 0.1)},
		{faceAt(70, 50, 0.1)},
	}}
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	checker := NewLivenessChecker(detector, LivenessOptions{}, func() time.Time { return start }, nil)

	res, err := checker.Check(context.Background(), NewSliceSource(blankFrames(5), 100*time.Millisecond))
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !res.Passed {
		t.Fatalf("expected pass, got %+v", res)
	}
	if detector.calls != 4 {
		t.Errorf("expected the check to stop after passing, detector calls = %d", detector.calls)
	}
	if res.FaceFrames != 3 || res.Frames != 4 {
		t.Errorf("Frames = %d, FaceFrames = %d", res.Frames, res.FaceFrames)
	}
	if res.SessionID == "" {
		t.Error("expected a session id")
	}
}

func TestLivenessChecker_NoFace(t *testing.T) {
	checker := NewLivenessChecker(&scriptedDetector{}, LivenessOptions{}, nil, nil)

	res, err := checker.Check(context.Background(), NewSliceSource(blankFrames(3), 0))
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if res.Passed || res.Reason != "no face observed" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestLivenessChecker_StopsAtBudget(t *testing.T) {
	detector := &scriptedDetector{}
	checker := NewLivenessChecker(detector, LivenessOptions{Duration: 250 * time.Millisecond}, nil, nil)

	_, err := checker.Check(context.Background(), NewSliceSource(blankFrames(10), 100*time.Millisecond))
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if detector.calls != 3 {
		t.Errorf("frames at 0, 100 and 200ms fit the budget, detector calls = %d", detector.calls)
	}
}

func TestLivenessChecker_DetectorError(t *testing.T) {
	checker := NewLivenessChecker(&scriptedDetector{err: facematch.ErrModelUnavailable}, LivenessOptions{}, nil, nil)

	_, err := checker.Check(context.Background(), NewSliceSource(blankFrames(1), 0))
	if !errors.Is(err, facematch.ErrModelUnavailable) {
		t.Errorf("expected ErrModelUnavailable, got %v", err)
	}
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"frame_002.png", "frame_001.png", "frame_003.png"} {
		writePNG(t, filepath.Join(dir, name))
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o600); err != nil {
		t.Fatal(err)
	}

	src, err := NewDirSource(dir, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("NewDirSource failed: %v", err)
	}
	if src.Len() != 3 {
		t.Fatalf("Len = %d; want 3", src.Len())
	}

	var offsets []time.Duration
	for {
		f, err := src.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		offsets = append(offsets, f.Offset)
	}
	if len(offsets) != 3 || offsets[2] != 100*time.Millisecond {
		t.Errorf("offsets = %v", offsets)
	}
}

func TestDirSource_Missing(t *testing.T) {
	if _, err := NewDirSource(filepath.Join(t.TempDir(), "absent"), 0); err == nil {
		t.Error("expected error for missing directory")
	}
}

func writePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(1, 1, color.White)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}
