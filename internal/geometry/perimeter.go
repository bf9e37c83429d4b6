// Package geometry converts normalized perimeter zones into pixel-space
// polygons and classifies detection centers against them.
package geometry

import (
	"image"

	"github.com/vigilcam/ids-server/pkg/types"
)

// Perimeter is a pixel-space polygon derived from a normalized zone.
// A nil Perimeter means no perimeter is configured: every point counts
// as inside and filtering passes detections through untouched.
type Perimeter struct {
	points []image.Point
}

// FromNormalized scales a normalized polygon (coordinates in [0,1]) to
// pixel space for the given frame size, truncating to integer pixels.
// Zones with fewer than 3 points yield nil.
func FromNormalized(zone [][2]float64, width, height int) *Perimeter {
	if len(zone) < 3 {
		return nil
	}
	points := make([]image.Point, len(zone))
	for i, v := range zone {
		points[i] = image.Point{
			X: int(v[0] * float64(width)),
			Y: int(v[1] * float64(height)),
		}
	}
	return &Perimeter{points: points}
}

// Points returns the polygon vertices in pixel space.
func (p *Perimeter) Points() []image.Point {
	if p == nil {
		return nil
	}
	return p.points
}

// Contains reports whether pt lies inside the polygon. Points on an edge
// or vertex count as inside.
func (p *Perimeter) Contains(pt image.Point) bool {
	if p == nil {
		return true
	}
	n := len(p.points)
	if n < 3 {
		return false
	}

	for i := 0; i < n; i++ {
		if onSegment(p.points[i], p.points[(i+1)%n], pt) {
			return true
		}
	}

	// Ray cast along +X.
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := p.points[i], p.points[j]
		if (a.Y > pt.Y) != (b.Y > pt.Y) {
			xi := float64(b.X-a.X)*float64(pt.Y-a.Y)/float64(b.Y-a.Y) + float64(a.X)
			if float64(pt.X) < xi {
				inside = !inside
			}
		}
	}
	return inside
}

// Filter keeps only detections whose center lies inside the polygon.
// A nil Perimeter returns the input unchanged.
func (p *Perimeter) Filter(detections []types.Detection) []types.Detection {
	if p == nil {
		return detections
	}
	kept := make([]types.Detection, 0, len(detections))
	for _, d := range detections {
		if p.Contains(image.Point{X: d.Center[0], Y: d.Center[1]}) {
			kept = append(kept, d)
		}
	}
	return kept
}

// onSegment reports whether pt lies on the closed segment a-b. All
// coordinates are integer pixels, so the cross product is exact.
func onSegment(a, b, pt image.Point) bool {
	cross := (b.X-a.X)*(pt.Y-a.Y) - (b.Y-a.Y)*(pt.X-a.X)
	if cross != 0 {
		return false
	}
	if pt.X < min(a.X, b.X) || pt.X > max(a.X, b.X) {
		return false
	}
	if pt.Y < min(a.Y, b.Y) || pt.Y > max(a.Y, b.Y) {
		return false
	}
	return true
}
