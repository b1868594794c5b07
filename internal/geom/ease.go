package geom

import "math"

// LerpFloat moves from a toward b by fraction t.
func LerpFloat(a, b, t float64) float64 {
	return a + (b-a)*t
}

// Ease is LerpFloat with a step scaled by (2 - |b-a|): large normalized
// distances close faster, small ones settle without overshoot. The effective
// factor is capped at 1 so the result never passes b.
func Ease(a, b, speed float64) float64 {
	diff := b - a
	factor := speed * (2 - math.Abs(diff))
	if factor > 1 {
		factor = 1
	}
	if factor < 0 {
		factor = 0
	}
	return a + diff*factor
}

// FitAspect grows r around its centre along one axis until W/H == aspect.
// A box that is too wide gets taller, one that is too narrow gets wider.
// Degenerate boxes are returned unchanged.
func FitAspect(r Rect, aspect float64) Rect {
	if aspect <= 0 || r.H <= 0 || r.W <= 0 {
		return r
	}
	cx, cy := r.Center()
	if r.W/r.H > aspect {
		return FromCenter(cx, cy, r.W, r.W/aspect)
	}
	return FromCenter(cx, cy, r.H*aspect, r.H)
}
