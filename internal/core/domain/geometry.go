package domain

import (
	"fmt"
	"math"
)

// Point is a 2D coordinate. Detector points are in source frame pixels,
// screen points are in viewport pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (s Size) valid() bool {
	return s.Width > 0 && s.Height > 0 &&
		!math.IsInf(s.Width, 0) && !math.IsInf(s.Height, 0)
}

// SourceGeometry is the detector's target boundary and the native frame it
// was measured in. It is replaced wholesale, never merged.
type SourceGeometry struct {
	Points []Point `json:"points"`
	Frame  Size    `json:"frame"`
}

// MinPolygonVertices is the smallest boundary the detector reports (four corners).
const MinPolygonVertices = 4

func (g SourceGeometry) Validate() error {
	if !g.Frame.valid() {
		return fmt.Errorf("%w: frame size %vx%v", ErrInvalidGeometry, g.Frame.Width, g.Frame.Height)
	}
	if len(g.Points) < MinPolygonVertices {
		return fmt.Errorf("%w: %d vertices, need at least %d", ErrInvalidGeometry, len(g.Points), MinPolygonVertices)
	}
	for i, p := range g.Points {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return fmt.Errorf("%w: vertex %d is not finite", ErrInvalidGeometry, i)
		}
	}
	return nil
}

// Contains reports whether p lies inside or on the boundary polygon.
func (g SourceGeometry) Contains(p Point) bool {
	n := len(g.Points)
	if n < 3 {
		return false
	}
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := g.Points[i], g.Points[j]
		if onSegment(a, b, p) {
			return true
		}
		if (a.Y > p.Y) != (b.Y > p.Y) {
			x := (b.X-a.X)*(p.Y-a.Y)/(b.Y-a.Y) + a.X
			if p.X < x {
				inside = !inside
			}
		}
	}
	return inside
}

func onSegment(a, b, p Point) bool {
	const eps = 1e-9
	cross := (b.X-a.X)*(p.Y-a.Y) - (b.Y-a.Y)*(p.X-a.X)
	if math.Abs(cross) > eps {
		return false
	}
	return p.X >= math.Min(a.X, b.X)-eps && p.X <= math.Max(a.X, b.X)+eps &&
		p.Y >= math.Min(a.Y, b.Y)-eps && p.Y <= math.Max(a.Y, b.Y)+eps
}

// ViewportBox is the rendered size of the video surface in screen pixels.
type ViewportBox struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (b ViewportBox) Validate() error {
	if !(Size{Width: b.Width, Height: b.Height}).valid() {
		return fmt.Errorf("%w: %vx%v", ErrInvalidViewport, b.Width, b.Height)
	}
	return nil
}

// Transform maps detector space onto the viewport with uniform, aspect
// preserving scale and centering (letterboxing).
type Transform struct {
	Scale   float64
	OffsetX float64
	OffsetY float64
}

func Letterbox(frame Size, box ViewportBox) Transform {
	scale := math.Min(box.Width/frame.Width, box.Height/frame.Height)
	return Transform{
		Scale:   scale,
		OffsetX: (box.Width - frame.Width*scale) / 2,
		OffsetY: (box.Height - frame.Height*scale) / 2,
	}
}

func (t Transform) Apply(p Point) Point {
	return Point{
		X: t.OffsetX + p.X*t.Scale,
		Y: t.OffsetY + p.Y*t.Scale,
	}
}

func (t Transform) ApplyAll(points []Point) []Point {
	out := make([]Point, len(points))
	for i, p := range points {
		out[i] = t.Apply(p)
	}
	return out
}
