package tracker

import (
	"fmt"
	"math"

	"github.com/andresmejia3/centerstage/internal/geom"
	"github.com/andresmejia3/centerstage/internal/types"
)

// Predictor estimates where a face moved on frames the detector skipped.
// Boxes are in pixel space.
type Predictor interface {
	// Init (re)anchors the predictor on a detected box.
	Init(frame types.Frame, box geom.Rect)
	// Predict returns the box on frame, or false when the target is lost.
	Predict(frame types.Frame) (geom.Rect, bool)
}

// NewPredictorFunc maps a configured predictor name to a factory. "none"
// returns nil so tracks stay where they were last detected.
func NewPredictorFunc(name string) (func() Predictor, error) {
	switch name {
	case "", "velocity":
		return func() Predictor { return NewVelocityPredictor() }, nil
	case "template":
		return func() Predictor { return NewTemplatePredictor() }, nil
	case "none":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown predictor %q", name)
}

// VelocityPredictor extrapolates the box centre using the velocity between
// the last two detections, decaying it every predicted frame.
type VelocityPredictor struct {
	Damping float64

	anchor      geom.Rect // last detected box
	anchorIndex int
	box         geom.Rect
	vx, vy      float64
	anchored    bool
}

func NewVelocityPredictor() *VelocityPredictor {
	return &VelocityPredictor{Damping: 0.85}
}

func (p *VelocityPredictor) Init(frame types.Frame, box geom.Rect) {
	if p.anchored {
		if n := frame.Index - p.anchorIndex; n > 0 {
			acx, acy := p.anchor.Center()
			cx, cy := box.Center()
			p.vx = (cx - acx) / float64(n)
			p.vy = (cy - acy) / float64(n)
		}
	}
	p.anchor = box
	p.anchorIndex = frame.Index
	p.box = box
	p.anchored = true
}

func (p *VelocityPredictor) Predict(frame types.Frame) (geom.Rect, bool) {
	if !p.anchored {
		return geom.Rect{}, false
	}
	p.box.X += p.vx
	p.box.Y += p.vy
	p.vx *= p.Damping
	p.vy *= p.Damping

	if w, h := frame.Width(), frame.Height(); w > 0 && h > 0 {
		cx, cy := p.box.Center()
		if cx < 0 || cy < 0 || cx > float64(w) || cy > float64(h) {
			return p.box, false
		}
	}
	return p.box, true
}

// TemplatePredictor follows the detected patch by searching for the offset
// with the lowest mean absolute luma difference around the last position.
type TemplatePredictor struct {
	Grid        int     // samples per axis taken from the box
	Radius      int     // search radius in pixels
	Step        int     // search stride in pixels
	MaxMismatch float64 // mean absolute difference above which the target is lost

	box      geom.Rect
	template []float64
}

func NewTemplatePredictor() *TemplatePredictor {
	return &TemplatePredictor{Grid: 16, Radius: 24, Step: 4, MaxMismatch: 40}
}

func (p *TemplatePredictor) Init(frame types.Frame, box geom.Rect) {
	p.box = box
	p.template = p.sample(frame, box.X, box.Y)
}

func (p *TemplatePredictor) Predict(frame types.Frame) (geom.Rect, bool) {
	if p.template == nil || frame.Image == nil {
		return p.box, false
	}
	// Staying put wins ties so a flat background does not drag the box.
	best := math.Inf(1)
	bx, by := p.box.X, p.box.Y
	if patch := p.sample(frame, bx, by); patch != nil {
		best = meanAbsDiff(p.template, patch)
	}
	for dy := -p.Radius; dy <= p.Radius; dy += p.Step {
		for dx := -p.Radius; dx <= p.Radius; dx += p.Step {
			if dx == 0 && dy == 0 {
				continue
			}
			x, y := p.box.X+float64(dx), p.box.Y+float64(dy)
			patch := p.sample(frame, x, y)
			if patch == nil {
				continue
			}
			if d := meanAbsDiff(p.template, patch); d < best {
				best, bx, by = d, x, y
			}
		}
	}
	if math.IsInf(best, 1) || best > p.MaxMismatch {
		return p.box, false
	}
	p.box.X, p.box.Y = bx, by
	return p.box, true
}

// sample reads a Grid x Grid luma patch with its top-left at (x, y). It
// returns nil when the patch leaves the frame.
func (p *TemplatePredictor) sample(frame types.Frame, x, y float64) []float64 {
	img := frame.Image
	if img == nil || p.box.W < 1 || p.box.H < 1 {
		return nil
	}
	w, h := img.Rect.Dx(), img.Rect.Dy()
	x0, y0 := int(x), int(y)
	x1, y1 := int(x+p.box.W)-1, int(y+p.box.H)-1
	if x0 < 0 || y0 < 0 || x1 >= w || y1 >= h {
		return nil
	}
	n := p.Grid
	out := make([]float64, 0, n*n)
	for gy := 0; gy < n; gy++ {
		py := y0 + gy*(y1-y0)/max(n-1, 1)
		for gx := 0; gx < n; gx++ {
			px := x0 + gx*(x1-x0)/max(n-1, 1)
			i := py*img.Stride + px*4
			r, g, b := float64(img.Pix[i]), float64(img.Pix[i+1]), float64(img.Pix[i+2])
			out = append(out, 0.299*r+0.587*g+0.114*b)
		}
	}
	return out
}

func meanAbsDiff(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += math.Abs(a[i] - b[i])
	}
	return sum / float64(len(a))
}
