package identity

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/kozaktomas/asset-guard/internal/fingerprint"
)

// DefaultFrameInterval spaces recorded frames that carry no timestamp.
const DefaultFrameInterval = 100 * time.Millisecond

// Frame is one captured image and its offset from the start of the capture.
type Frame struct {
	Image  image.Image
	Offset time.Duration
}

// FrameSource yields frames in capture order and io.EOF when exhausted.
type FrameSource interface {
	Next(ctx context.Context) (Frame, error)
}

// SliceSource replays decoded frames at a fixed interval.
type SliceSource struct {
	images   []image.Image
	interval time.Duration
	pos      int
}

// NewSliceSource creates a source over images.
func NewSliceSource(images []image.Image, interval time.Duration) *SliceSource {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	return &SliceSource{images: images, interval: interval}
}

func (s *SliceSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if s.pos >= len(s.images) {
		return Frame{}, io.EOF
	}
	f := Frame{Image: s.images[s.pos], Offset: time.Duration(s.pos) * s.interval}
	s.pos++
	return f, nil
}

var frameExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp"}

// DirSource reads image files from a directory in name order.
type DirSource struct {
	paths    []string
	interval time.Duration
	pos      int
}

// NewDirSource lists the image files in dir.
func NewDirSource(dir string, interval time.Duration) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading frame directory: %w", err)
	}
	if interval <= 0 {
		interval = DefaultFrameInterval
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if slices.Contains(frameExtensions, ext) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(paths)
	return &DirSource{paths: paths, interval: interval}, nil
}

// Len returns the number of frames.
func (s *DirSource) Len() int {
	return len(s.paths)
}

func (s *DirSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if s.pos >= len(s.paths) {
		return Frame{}, io.EOF
	}

	path := s.paths[s.pos]
	data, err := os.ReadFile(path)
	if err != nil {
		return Frame{}, fmt.Errorf("reading %s: %w", path, err)
	}
	img, err := fingerprint.Decode(data)
	if err != nil {
		return Frame{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	f := Frame{Image: img, Offset: time.Duration(s.pos) * s.interval}
	s.pos++
	return f, nil
}
