// Package geom holds the normalized rectangle math shared by every pipeline
// stage. All coordinates are fractions of the frame's width and height.
package geom

import (
	"image"
	"math"
)

// Epsilon is the tolerance used for float comparisons of normalized values.
const Epsilon = 1e-9

// Rect is an axis-aligned rectangle in normalized [0,1] frame coordinates.
// It is a value type; every method returns a new Rect.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// FullFrame covers the whole frame.
func FullFrame() Rect {
	return Rect{X: 0, Y: 0, W: 1, H: 1}
}

// FromEdges builds a Rect from its left, top, right and bottom edges.
func FromEdges(left, top, right, bottom float64) Rect {
	return Rect{X: left, Y: top, W: right - left, H: bottom - top}
}

// FromCenter builds a Rect of the given size centred on (cx, cy).
func FromCenter(cx, cy, w, h float64) Rect {
	return Rect{X: cx - w/2, Y: cy - h/2, W: w, H: h}
}

func (r Rect) Right() float64  { return r.X + r.W }
func (r Rect) Bottom() float64 { return r.Y + r.H }

// Center returns the centre point.
func (r Rect) Center() (float64, float64) {
	return r.X + r.W/2, r.Y + r.H/2
}

// Area is zero for degenerate rectangles.
func (r Rect) Area() float64 {
	if r.W <= 0 || r.H <= 0 {
		return 0
	}
	return r.W * r.H
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

// Clamp returns the rectangle moved and, if necessary, shrunk so that it lies
// inside the unit square. Negative sizes collapse to zero. Position is
// adjusted first, so an in-range size is never shrunk just because the box
// hangs over an edge.
func (r Rect) Clamp() Rect {
	w := clamp01(r.W)
	h := clamp01(r.H)
	x := math.Max(0, math.Min(r.X, 1-w))
	y := math.Max(0, math.Min(r.Y, 1-h))
	if nan(x) {
		x = 0
	}
	if nan(y) {
		y = 0
	}
	return Rect{X: x, Y: y, W: math.Min(w, 1-x), H: math.Min(h, 1-y)}
}

// ClampPosition keeps the size and slides the rectangle back inside the unit
// square. Sizes larger than the frame are pinned to the origin.
func (r Rect) ClampPosition() Rect {
	r.X = math.Max(0, math.Min(r.X, 1-r.W))
	r.Y = math.Max(0, math.Min(r.Y, 1-r.H))
	return r
}

// Union is the smallest rectangle containing both a and b.
func Union(a, b Rect) Rect {
	return FromEdges(
		math.Min(a.X, b.X),
		math.Min(a.Y, b.Y),
		math.Max(a.Right(), b.Right()),
		math.Max(a.Bottom(), b.Bottom()),
	)
}

// UnionAll folds Union over rs. ok is false when rs is empty.
func UnionAll(rs []Rect) (u Rect, ok bool) {
	if len(rs) == 0 {
		return Rect{}, false
	}
	u = rs[0]
	for _, r := range rs[1:] {
		u = Union(u, r)
	}
	return u, true
}

// Intersect returns the overlap of a and b, or a zero Rect when they don't overlap.
func Intersect(a, b Rect) Rect {
	left := math.Max(a.X, b.X)
	top := math.Max(a.Y, b.Y)
	right := math.Min(a.Right(), b.Right())
	bottom := math.Min(a.Bottom(), b.Bottom())
	if right <= left || bottom <= top {
		return Rect{}
	}
	return FromEdges(left, top, right, bottom)
}

// IoU is the intersection-over-union similarity of two rectangles.
// It is symmetric, 1 for identical non-degenerate rectangles and 0 for
// disjoint ones.
func IoU(a, b Rect) float64 {
	inter := Intersect(a, b).Area()
	if inter == 0 {
		return 0
	}
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Expand grows the rectangle symmetrically by fraction of its own size on each axis.
func (r Rect) Expand(fraction float64) Rect {
	px := r.W * fraction
	py := r.H * fraction
	return Rect{X: r.X - px, Y: r.Y - py, W: r.W + 2*px, H: r.H + 2*py}
}

// Lerp interpolates every component from a to b. t=0 yields a, t=1 yields b.
func Lerp(a, b Rect, t float64) Rect {
	return Rect{
		X: LerpFloat(a.X, b.X, t),
		Y: LerpFloat(a.Y, b.Y, t),
		W: LerpFloat(a.W, b.W, t),
		H: LerpFloat(a.H, b.H, t),
	}
}

// ApproxEqual compares component-wise within tol.
func (r Rect) ApproxEqual(o Rect, tol float64) bool {
	return math.Abs(r.X-o.X) <= tol &&
		math.Abs(r.Y-o.Y) <= tol &&
		math.Abs(r.W-o.W) <= tol &&
		math.Abs(r.H-o.H) <= tol
}

// ToPixels converts to an integer pixel rectangle for a frame of the given size,
// truncating like the capture backends do.
func (r Rect) ToPixels(width, height int) image.Rectangle {
	x0 := int(r.X * float64(width))
	y0 := int(r.Y * float64(height))
	x1 := x0 + int(r.W*float64(width))
	y1 := y0 + int(r.H*float64(height))
	return image.Rect(x0, y0, x1, y1)
}

// FromPixels normalizes a pixel-space box against a width x height space.
func FromPixels(x, y, w, h float64, width, height int) Rect {
	if width <= 0 || height <= 0 {
		return Rect{}
	}
	fw, fh := float64(width), float64(height)
	return Rect{X: x / fw, Y: y / fh, W: w / fw, H: h / fh}
}

func clamp01(v float64) float64 {
	if nan(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

func nan(v float64) bool { return math.IsNaN(v) }
