package facematch

import "math"

// Width returns the box width.
func (b BBox) Width() float64 {
	return b.X2 - b.X1
}

// Height returns the box height.
func (b BBox) Height() float64 {
	return b.Y2 - b.Y1
}

// Center returns the box center.
func (b BBox) Center() Point {
	return Point{X: (b.X1 + b.X2) / 2, Y: (b.Y1 + b.Y2) / 2}
}

// Relative converts a pixel box to relative (0-1) coordinates.
func (b BBox) Relative(width, height int) BBox {
	if width <= 0 || height <= 0 {
		return b
	}
	return BBox{
		X1: b.X1 / float64(width),
		Y1: b.Y1 / float64(height),
		X2: b.X2 / float64(width),
		Y2: b.Y2 / float64(height),
	}
}

// IoU calculates Intersection over Union between two bounding boxes.
func IoU(a, b BBox) float64 {
	// Calculate intersection.
	x1 := max(a.X1, b.X1)
	y1 := max(a.Y1, b.Y1)
	x2 := min(a.X2, b.X2)
	y2 := min(a.Y2, b.Y2)

	if x2 <= x1 || y2 <= y1 {
		return 0 // No intersection
	}

	intersection := (x2 - x1) * (y2 - y1)

	// Calculate union.
	union := a.Width()*a.Height() + b.Width()*b.Height() - intersection
	if union <= 0 {
		return 0
	}

	return intersection / union
}

// Centroid returns the mean of points.
func Centroid(points []Point) Point {
	if len(points) == 0 {
		return Point{}
	}
	var c Point
	for _, p := range points {
		c.X += p.X
		c.Y += p.Y
	}
	n := float64(len(points))
	return Point{X: c.X / n, Y: c.Y / n}
}

// Distance returns the Euclidean distance between two points.
func Distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// dedupeFaces drops lower scoring faces that overlap a kept face by more
// than iouThreshold. Order of the kept faces follows the input.
func dedupeFaces(faces []Face, iouThreshold float64) []Face {
	kept := make([]Face, 0, len(faces))
	for _, f := range faces {
		duplicate := false
		for i, k := range kept {
			if IoU(f.BBox, k.BBox) <= iouThreshold {
				continue
			}
			duplicate = true
			if f.Score > k.Score {
				kept[i] = f
			}
			break
		}
		if !duplicate {
			kept = append(kept, f)
		}
	}
	return kept
}
