package framing

import (
	"fmt"

	"github.com/andresmejia3/centerstage/internal/geom"
	"github.com/andresmejia3/centerstage/internal/types"
)

type State int

const (
	StateIdle State = iota
	StateTracking
	StateHolding
	StateResetting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTracking:
		return "tracking"
	case StateHolding:
		return "holding"
	case StateResetting:
		return "resetting"
	}
	return "unknown"
}

// Engine owns the current and target crop. It is not safe for concurrent use;
// the pipeline applies control changes between cycles.
type Engine struct {
	cfg               Config
	current           geom.Rect
	target            geom.Rect
	framesWithoutFace int
	state             State
}

func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg, current: geom.FullFrame(), target: geom.FullFrame()}
}

// Update feeds one cycle of observations and returns the crop to render.
func (e *Engine) Update(faces []types.FaceObservation) geom.Rect {
	if !e.cfg.Enabled {
		return geom.FullFrame()
	}

	if target, ok := Target(faces, e.cfg); ok {
		e.target = target
		e.framesWithoutFace = 0
		e.state = StateTracking
	} else {
		e.framesWithoutFace++
		switch e.state {
		case StateTracking, StateHolding:
			if e.framesWithoutFace > e.cfg.FramesUntilReset {
				e.target = geom.FullFrame()
				e.state = StateResetting
			} else {
				e.state = StateHolding
			}
		}
	}

	next, moved := Step(e.current, e.target, e.cfg)
	e.current = next
	if e.state == StateResetting && !moved {
		e.current = e.target
		e.state = StateIdle
	}
	return e.current
}

// Reset snaps back to the full frame.
func (e *Engine) Reset() {
	e.current = geom.FullFrame()
	e.target = geom.FullFrame()
	e.framesWithoutFace = 0
	e.state = StateIdle
}

func (e *Engine) Current() geom.Rect { return e.current }
func (e *Engine) Target() geom.Rect  { return e.target }
func (e *Engine) State() State       { return e.state }
func (e *Engine) Config() Config     { return e.cfg }

// IsTracking is true while a face is framed or being held after a dropout.
func (e *Engine) IsTracking() bool {
	return e.state == StateTracking || e.state == StateHolding
}

// ZoomLevel of the current crop.
func (e *Engine) ZoomLevel() float64 { return ZoomOf(e.current) }

// SetEnabled toggles framing. Disabling resets immediately.
func (e *Engine) SetEnabled(on bool) {
	if !on {
		e.Reset()
	}
	e.cfg.Enabled = on
}

// SetSmoothing clamps to [MinSmoothing, MaxSmoothing].
func (e *Engine) SetSmoothing(v float64) {
	e.cfg.Smoothing = clampf(v, MinSmoothing, MaxSmoothing)
}

// SetZoomRange clamps min to at least 1 and max to at least min.
func (e *Engine) SetZoomRange(minZoom, maxZoom float64) {
	if minZoom < 1 {
		minZoom = 1
	}
	if maxZoom < minZoom {
		maxZoom = minZoom
	}
	e.cfg.MinZoom, e.cfg.MaxZoom = minZoom, maxZoom
}

// SetMode accepts only the known modes; anything else leaves the mode as is.
func (e *Engine) SetMode(m Mode) error {
	if !m.Valid() {
		return fmt.Errorf("unknown framing mode %q", m)
	}
	e.cfg.Mode = m
	return nil
}

// SetConfig replaces the tuning after validation. The crop state is kept.
func (e *Engine) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if !cfg.Enabled {
		e.Reset()
	}
	e.cfg = cfg
	return nil
}
