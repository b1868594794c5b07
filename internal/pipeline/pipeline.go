// Package pipeline runs one detect → track → frame → composite → output
// cycle per captured frame.
package pipeline

import (
	"context"
	"errors"
	"image"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/centerstage/internal/capture"
	"github.com/andresmejia3/centerstage/internal/compositor"
	"github.com/andresmejia3/centerstage/internal/detector"
	"github.com/andresmejia3/centerstage/internal/framing"
	"github.com/andresmejia3/centerstage/internal/geom"
	"github.com/andresmejia3/centerstage/internal/logging"
	"github.com/andresmejia3/centerstage/internal/metrics"
	"github.com/andresmejia3/centerstage/internal/sink"
	"github.com/andresmejia3/centerstage/internal/store"
	"github.com/andresmejia3/centerstage/internal/tracker"
	"github.com/andresmejia3/centerstage/internal/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ErrSourceStopped is returned by Run when the capture side went away.
var ErrSourceStopped = errors.New("frame source stopped")

// Control mutates the engine between cycles, on the pipeline goroutine.
type Control func(*framing.Engine)

func SetEnabled(on bool) Control     { return func(e *framing.Engine) { e.SetEnabled(on) } }
func SetSmoothing(v float64) Control { return func(e *framing.Engine) { e.SetSmoothing(v) } }

func SetMode(m framing.Mode) Control {
	return func(e *framing.Engine) {
		if err := e.SetMode(m); err != nil {
			logging.For("pipeline").WithError(err).Warn("Ignoring mode change")
		}
	}
}

func SetZoomRange(lo, hi float64) Control {
	return func(e *framing.Engine) { e.SetZoomRange(lo, hi) }
}

// TrackRecorder receives tracks once the tracker removes them.
type TrackRecorder interface {
	Record(t store.TrackRecord) bool
}

type Options struct {
	SessionID     string
	Overlay       bool          // render the full frame with crop and face boxes drawn
	FrameInterval time.Duration // longest wait for a new frame before re-checking state
}

// Result is everything one cycle produced.
type Result struct {
	Frame     types.Frame
	Detection *types.DetectionResult
	Faces     []types.FaceObservation
	Crop      geom.Rect
	Output    *image.RGBA
	Sent      bool
}

// Status is a read-only snapshot for the status endpoint and logs.
type Status struct {
	Session      string                  `json:"session"`
	State        string                  `json:"state"`
	Tracking     bool                    `json:"tracking"`
	Enabled      bool                    `json:"enabled"`
	Mode         framing.Mode            `json:"mode"`
	Zoom         float64                 `json:"zoom"`
	Crop         geom.Rect               `json:"crop"`
	Target       geom.Rect               `json:"target"`
	Faces        []types.FaceObservation `json:"faces"`
	ActiveTracks int                     `json:"active_tracks"`
	Frames       uint64                  `json:"frames"`
	Detections   uint64                  `json:"detections"`
	SendFailures uint64                  `json:"send_failures"`
	Sink         string                  `json:"sink,omitempty"`
	Metrics      metrics.Snapshot        `json:"metrics"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

type Pipeline struct {
	cache    *detector.Cache
	tracker  *tracker.Tracker // nil disables tracking
	engine   *framing.Engine
	comp     *compositor.Compositor
	out      sink.Sink // nil renders without output
	recorder TrackRecorder
	profiler *metrics.Profiler
	opts     Options

	controls chan Control
	status   atomic.Pointer[Status]
	last     atomic.Pointer[image.RGBA]

	frames       uint64
	detections   uint64
	lastSeq      uint64
	sendFailures uint64

	warn rate.Sometimes
	log  *logrus.Entry
}

func New(cache *detector.Cache, trk *tracker.Tracker, eng *framing.Engine, comp *compositor.Compositor, out sink.Sink, opts Options) *Pipeline {
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = time.Second / 30
	}
	p := &Pipeline{
		cache:    cache,
		tracker:  trk,
		engine:   eng,
		comp:     comp,
		out:      out,
		profiler: metrics.NewProfiler(30),
		opts:     opts,
		controls: make(chan Control, 16),
		warn:     rate.Sometimes{First: 1, Interval: 5 * time.Second},
		log:      logging.For("pipeline").WithField("session", opts.SessionID),
	}
	p.publish(nil, geom.FullFrame())
	return p
}

func (p *Pipeline) SetRecorder(r TrackRecorder) { p.recorder = r }

// Control queues c for the next cycle. It returns false when the queue is full.
func (p *Pipeline) Control(c Control) bool {
	select {
	case p.controls <- c:
		return true
	default:
		return false
	}
}

func (p *Pipeline) applyControls() {
	for {
		select {
		case c := <-p.controls:
			c(p.engine)
		default:
			return
		}
	}
}

// Step runs one full cycle on frame.
func (p *Pipeline) Step(frame types.Frame) Result {
	p.applyControls()

	stop := p.profiler.Measure(metrics.SectionDetection)
	res := p.cache.Detect(frame.Image, false)
	stop()
	if res.Seq != p.lastSeq {
		p.lastSeq = res.Seq
		p.detections++
	}

	faces := res.Faces
	if p.tracker != nil {
		stop = p.profiler.Measure(metrics.SectionTracking)
		faces = p.tracker.Update(frame, res)
		stop()
		p.flushTracks()
	}

	stop = p.profiler.Measure(metrics.SectionFraming)
	crop := p.engine.Update(faces)
	stop()

	stop = p.profiler.Measure(metrics.SectionRender)
	var out *image.RGBA
	if p.opts.Overlay && frame.Image != nil {
		out = p.comp.Apply(compositor.DrawOverlay(frame.Image, crop, faces), geom.FullFrame())
	} else {
		out = p.comp.Apply(frame.Image, crop)
	}
	stop()

	sent := false
	if p.out != nil {
		stop = p.profiler.Measure(metrics.SectionOutput)
		sent = p.out.Send(out)
		stop()
		if !sent {
			p.sendFailures++
			p.warn.Do(func() {
				p.log.WithField("backend", p.out.Name()).Warn("Output rejected frame")
			})
		}
	}

	p.frames++
	p.last.Store(out)
	p.profiler.TickFrame()
	p.publish(faces, crop)

	return Result{Frame: frame, Detection: res, Faces: faces, Crop: crop, Output: out, Sent: sent}
}

func (p *Pipeline) flushTracks() {
	for _, t := range p.tracker.Drain() {
		p.log.WithFields(logging.Fields{
			"track":      t.ID,
			"detections": t.Detections,
			"frames":     t.LastFrame - t.FirstFrame,
		}).Debug("Track removed")
		p.record(t)
	}
}

func (p *Pipeline) record(t tracker.Track) {
	if p.recorder == nil {
		return
	}
	p.recorder.Record(store.TrackRecord{
		TrackID:        int(t.ID),
		FirstFrame:     t.FirstFrame,
		LastFrame:      t.LastFrame,
		Detections:     t.Detections,
		PeakConfidence: t.PeakConfidence,
		EndedAt:        time.Now(),
	})
}

// Run consumes frames from slot until ctx is cancelled or the source stops.
// It never waits longer than the frame interval before checking again, so
// controls and shutdown are noticed even when the camera stalls.
func (p *Pipeline) Run(ctx context.Context, slot *capture.LatestFrame, sourceDone <-chan struct{}) error {
	last := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sourceDone:
			return ErrSourceStopped
		default:
		}

		frame, ok := slot.Wait(ctx, last, p.opts.FrameInterval)
		if !ok {
			p.applyControls()
			continue
		}
		if skipped := frame.Index - last - 1; skipped > 0 && last > 0 {
			p.log.WithField("skipped", skipped).Trace("Dropped stale frames")
		}
		last = frame.Index
		p.Step(frame)
	}
}

func (p *Pipeline) publish(faces []types.FaceObservation, crop geom.Rect) {
	cfg := p.engine.Config()
	st := &Status{
		Session:      p.opts.SessionID,
		State:        p.engine.State().String(),
		Tracking:     p.engine.IsTracking(),
		Enabled:      cfg.Enabled,
		Mode:         cfg.Mode,
		Zoom:         p.engine.ZoomLevel(),
		Crop:         crop,
		Target:       p.engine.Target(),
		Faces:        faces,
		Frames:       p.frames,
		Detections:   p.detections,
		SendFailures: p.sendFailures,
		Metrics:      p.profiler.Snapshot(),
		UpdatedAt:    time.Now(),
	}
	if p.tracker != nil {
		st.ActiveTracks = p.tracker.ActiveCount()
	}
	if p.out != nil {
		st.Sink = p.out.Name()
	}
	p.status.Store(st)
}

// Status is safe to call from any goroutine.
func (p *Pipeline) Status() Status { return *p.status.Load() }

// LastOutput is the most recent composited frame, nil before the first cycle.
func (p *Pipeline) LastOutput() *image.RGBA { return p.last.Load() }

// Profiler exposes timing statistics.
func (p *Pipeline) Profiler() *metrics.Profiler { return p.profiler }

// Close records every track still alive and clears the tracker.
func (p *Pipeline) Close() {
	if p.tracker == nil {
		return
	}
	p.flushTracks()
	for _, t := range p.tracker.Tracks() {
		p.record(t)
	}
	p.tracker.Clear()
}
