package identity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kozaktomas/asset-guard/internal/constants"
	"github.com/kozaktomas/asset-guard/internal/facematch"
)

// LivenessOptions configures the probe. MoveThreshold is a fraction of the
// frame size the face centroid must travel between consecutive frames.
type LivenessOptions struct {
	Duration       time.Duration
	MoveThreshold  float64
	BlinkThreshold float64
}

// DefaultLivenessOptions are used for zero fields.
var DefaultLivenessOptions = LivenessOptions{
	Duration:       8 * time.Second,
	MoveThreshold:  0.04,
	BlinkThreshold: 0.6,
}

func (o LivenessOptions) withDefaults() LivenessOptions {
	if o.Duration <= 0 {
		o.Duration = DefaultLivenessOptions.Duration
	}
	if o.MoveThreshold <= 0 {
		o.MoveThreshold = DefaultLivenessOptions.MoveThreshold
	}
	if o.BlinkThreshold <= 0 {
		o.BlinkThreshold = DefaultLivenessOptions.BlinkThreshold
	}
	return o
}

// LivenessSession tracks one capture loop. It is not safe for concurrent
// use and must not be shared between verification attempts.
type LivenessSession struct {
	ID        string
	StartedAt time.Time

	opts           LivenessOptions
	moved          bool
	blinked        bool
	armed          bool // blink score has been below BlinkResetLevel
	lastCenter     *facematch.Point
	lastBlinkScore float64
	frames         int
	faceFrames     int
	elapsed        time.Duration
}

// NewLivenessSession starts a session at startedAt.
func NewLivenessSession(opts LivenessOptions, startedAt time.Time) *LivenessSession {
	return &LivenessSession{
		ID:        uuid.NewString(),
		StartedAt: startedAt,
		opts:      opts.withDefaults(),
	}
}

// Expired reports whether offset is past the duration budget.
func (s *LivenessSession) Expired(offset time.Duration) bool {
	return offset > s.opts.Duration
}

// Passed reports whether both movement and a blink were observed.
func (s *LivenessSession) Passed() bool {
	return s.moved && s.blinked
}

// Observe feeds one frame's face, taken offset after the session started,
// in a frame of width x height pixels. Frames past the budget are ignored.
// It returns true once the session has passed.
func (s *LivenessSession) Observe(face facematch.Face, width, height int, offset time.Duration) bool {
	if s.Expired(offset) || s.Passed() {
		return s.Passed()
	}
	s.frames++
	s.faceFrames++
	s.elapsed = max(s.elapsed, offset)

	center := faceCenter(face, width, height)
	if s.lastCenter != nil && facematch.Distance(center, *s.lastCenter) > s.opts.MoveThreshold {
		s.moved = true
	}
	s.lastCenter = &center

	score := face.BlinkScore
	switch {
	case score < constants.BlinkResetLevel:
		s.armed = true
	case s.armed && score > s.opts.BlinkThreshold && s.lastBlinkScore <= s.opts.BlinkThreshold:
		s.blinked = true
		s.armed = false
	}
	s.lastBlinkScore = score

	return s.Passed()
}

// ObserveEmpty records a frame without a detectable face.
func (s *LivenessSession) ObserveEmpty(offset time.Duration) {
	if s.Expired(offset) {
		return
	}
	s.frames++
	s.elapsed = max(s.elapsed, offset)
}

// faceCenter is the landmark centroid normalized by the frame size, or the
// box center when the detector gave no landmarks.
func faceCenter(face facematch.Face, width, height int) facematch.Point {
	c := face.BBox.Center()
	if len(face.Landmarks) > 0 {
		c = facematch.Centroid(face.Landmarks)
	}
	if width > 0 && height > 0 {
		c.X /= float64(width)
		c.Y /= float64(height)
	}
	return c
}

// LivenessResult summarizes a finished session.
type LivenessResult struct {
	SessionID  string        `json:"session_id"`
	Passed     bool          `json:"passed"`
	Moved      bool          `json:"moved"`
	Blinked    bool          `json:"blinked"`
	Frames     int           `json:"frames"`
	FaceFrames int           `json:"face_frames"`
	Elapsed    time.Duration `json:"elapsed_ns"`
	Reason     string        `json:"reason,omitempty"`
}

// Result summarizes the session so far.
func (s *LivenessSession) Result() LivenessResult {
	r := LivenessResult{
		SessionID:  s.ID,
		Passed:     s.Passed(),
		Moved:      s.moved,
		Blinked:    s.blinked,
		Frames:     s.frames,
		FaceFrames: s.faceFrames,
		Elapsed:    s.elapsed,
	}
	switch {
	case r.Passed:
	case s.faceFrames == 0:
		r.Reason = "no face observed"
	case !s.moved && !s.blinked:
		r.Reason = "no movement or blink observed"
	case !s.moved:
		r.Reason = "no movement observed"
	default:
		r.Reason = "no blink observed"
	}
	return r
}

// LivenessChecker runs sessions over frame sources.
type LivenessChecker struct {
	detector facematch.Detector
	opts     LivenessOptions
	now      func() time.Time
	logger   *zap.Logger
}

// NewLivenessChecker creates a checker. now may be nil for time.Now.
func NewLivenessChecker(detector facematch.Detector, opts LivenessOptions, now func() time.Time, logger *zap.Logger) *LivenessChecker {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LivenessChecker{detector: detector, opts: opts.withDefaults(), now: now, logger: logger}
}

// Check consumes frames until the session passes, the source ends or a
// frame falls outside the duration budget. Detector failures abort the check.
func (c *LivenessChecker) Check(ctx context.Context, src FrameSource) (LivenessResult, error) {
	session := NewLivenessSession(c.opts, c.now())

	for {
		frame, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return session.Result(), fmt.Errorf("reading frame: %w", err)
		}
		if session.Expired(frame.Offset) {
			break
		}

		faces, err := c.detector.Detect(ctx, frame.Image)
		if err != nil {
			return session.Result(), fmt.Errorf("detecting face: %w", err)
		}
		if len(faces) == 0 {
			session.ObserveEmpty(frame.Offset)
			continue
		}

		b := frame.Image.Bounds()
		if session.Observe(faces[0], b.Dx(), b.Dy(), frame.Offset) {
			break
		}
	}

	res := session.Result()
	c.logger.Info("liveness check finished",
		zap.String("session_id", res.SessionID),
		zap.Bool("passed", res.Passed),
		zap.Int("frames", res.Frames),
	)
	return res, nil
}
