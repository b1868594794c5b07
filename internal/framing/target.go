package framing

import (
	"math"

	"github.com/andresmejia3/centerstage/internal/geom"
	"github.com/andresmejia3/centerstage/internal/types"
)

// SelectFaces picks the faces that drive framing for the given mode.
func SelectFaces(faces []types.FaceObservation, mode Mode) []types.FaceObservation {
	if len(faces) == 0 {
		return nil
	}
	switch mode {
	case ModeSingle:
		best := faces[0]
		for _, f := range faces[1:] {
			if f.Confidence > best.Confidence ||
				(f.Confidence == best.Confidence && f.Box.Area() > best.Box.Area()) {
				best = f
			}
		}
		return []types.FaceObservation{best}
	case ModeClosest:
		return []types.FaceObservation{types.LargestFace(faces)}
	}
	return faces
}

// Target computes the ideal crop for a non-empty face list:
//  1. union of the selected faces
//  2. padded by FacePadding and clamped to the frame
//  3. grown to the aspect ratio
//  4. width limited to [1/MaxZoom, 1/MinZoom], height follows the aspect
//  5. centred on the unpadded union centre and pushed back inside the frame
func Target(faces []types.FaceObservation, cfg Config) (geom.Rect, bool) {
	selected := SelectFaces(faces, cfg.Mode)
	union, ok := geom.UnionAll(types.Boxes(selected))
	if !ok {
		return geom.FullFrame(), false
	}
	cx, cy := union.Center()

	padded := union.Expand(cfg.FacePadding)
	padded = geom.FromEdges(
		math.Max(0, padded.X),
		math.Max(0, padded.Y),
		math.Min(1, padded.Right()),
		math.Min(1, padded.Bottom()),
	)
	fitted := geom.FitAspect(padded, cfg.AspectRatio)

	w := clampf(fitted.W, 1/cfg.MaxZoom, 1/cfg.MinZoom)
	h := w / cfg.AspectRatio
	if h > 1 {
		h = 1
		w = cfg.AspectRatio
	}

	return geom.FromCenter(cx, cy, w, h).ClampPosition(), true
}

// Step moves current one smoothing step toward target. Position and size use
// separate factors. Differences inside the dead zone leave current unchanged;
// moved reports whether anything changed.
func Step(current, target geom.Rect, cfg Config) (next geom.Rect, moved bool) {
	ccx, ccy := current.Center()
	tcx, tcy := target.Center()
	delta := math.Abs(tcx-ccx) + math.Abs(tcy-ccy) + math.Abs(target.W-current.W)
	if delta == 0 || delta < cfg.DeadZone {
		return current, false
	}

	interp := geom.LerpFloat
	if cfg.Easing {
		interp = geom.Ease
	}
	pos := cfg.Smoothing
	size := cfg.Smoothing * cfg.ZoomSmoothingScale

	next = geom.FromCenter(
		interp(ccx, tcx, pos),
		interp(ccy, tcy, pos),
		interp(current.W, target.W, size),
		interp(current.H, target.H, size),
	).Clamp()
	return next, true
}

// ZoomOf is the magnification a crop represents.
func ZoomOf(crop geom.Rect) float64 {
	if crop.W <= 0 {
		return 1
	}
	return 1 / crop.W
}

func clampf(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
