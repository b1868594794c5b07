// Package metrics keeps rolling frame-rate and per-stage timing statistics.
package metrics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// window is a fixed-size ring of float samples.
type window struct {
	buf  []float64
	next int
	full bool
}

func newWindow(n int) *window {
	if n < 1 {
		n = 1
	}
	return &window{buf: make([]float64, n)}
}

func (w *window) add(v float64) {
	w.buf[w.next] = v
	w.next = (w.next + 1) % len(w.buf)
	if w.next == 0 {
		w.full = true
	}
}

func (w *window) values() []float64 {
	if w.full {
		return w.buf
	}
	return w.buf[:w.next]
}

func (w *window) reset() {
	w.next = 0
	w.full = false
}

// FPSCounter measures the rate of Tick calls over the last N intervals.
type FPSCounter struct {
	mu      sync.Mutex
	samples *window
	last    time.Time
	now     func() time.Time
}

func NewFPSCounter(n int) *FPSCounter {
	return &FPSCounter{samples: newWindow(n), now: time.Now}
}

// Tick records a frame and returns the updated rate.
func (c *FPSCounter) Tick() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now()
	if !c.last.IsZero() {
		c.samples.add(t.Sub(c.last).Seconds())
	}
	c.last = t
	return c.fps()
}

func (c *FPSCounter) FPS() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps()
}

// FrameTime is the mean interval between ticks.
func (c *FPSCounter) FrameTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.samples.values()
	if len(v) == 0 {
		return 0
	}
	return time.Duration(math.Round(stat.Mean(v, nil)*1e6)) * time.Microsecond
}

func (c *FPSCounter) fps() float64 {
	v := c.samples.values()
	if len(v) == 0 {
		return 0
	}
	mean := stat.Mean(v, nil)
	if mean <= 0 {
		return 0
	}
	return 1 / mean
}

func (c *FPSCounter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples.reset()
	c.last = time.Time{}
}

// Section names used by the pipeline.
const (
	SectionDetection = "detection"
	SectionTracking  = "tracking"
	SectionFraming   = "framing"
	SectionRender    = "render"
	SectionOutput    = "output"
)

// Profiler keeps rolling durations per named section plus a frame counter.
type Profiler struct {
	mu       sync.Mutex
	size     int
	sections map[string]*window
	fps      *FPSCounter
	now      func() time.Time
}

func NewProfiler(n int) *Profiler {
	return &Profiler{
		size:     n,
		sections: make(map[string]*window),
		fps:      NewFPSCounter(n),
		now:      time.Now,
	}
}

// Measure starts timing section; call the returned func to stop.
//
//	defer p.Measure(metrics.SectionDetection)()
func (p *Profiler) Measure(section string) func() {
	start := p.now()
	return func() { p.Record(section, p.now().Sub(start)) }
}

func (p *Profiler) Record(section string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.sections[section]
	if !ok {
		w = newWindow(p.size)
		p.sections[section] = w
	}
	w.add(float64(d) / float64(time.Millisecond))
}

// TickFrame marks the end of one pipeline cycle.
func (p *Profiler) TickFrame() { p.fps.Tick() }

func (p *Profiler) FPS() float64 { return p.fps.FPS() }

// Stats are milliseconds over the rolling window.
type Stats struct {
	Mean   float64 `json:"mean_ms"`
	StdDev float64 `json:"stddev_ms"`
	Max    float64 `json:"max_ms"`
	N      int     `json:"samples"`
}

func (p *Profiler) Stats(section string) Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.sections[section]
	if !ok {
		return Stats{}
	}
	return summarize(w.values())
}

func summarize(v []float64) Stats {
	if len(v) == 0 {
		return Stats{}
	}
	s := Stats{Mean: stat.Mean(v, nil), N: len(v)}
	if len(v) > 1 {
		s.StdDev = stat.StdDev(v, nil)
	}
	for _, x := range v {
		if x > s.Max {
			s.Max = x
		}
	}
	return s
}

// Snapshot is every section plus the frame rate.
type Snapshot struct {
	FPS         float64          `json:"fps"`
	FrameTimeMs float64          `json:"frame_time_ms"`
	Sections    map[string]Stats `json:"sections"`
}

func (p *Profiler) Snapshot() Snapshot {
	snap := Snapshot{
		FPS:         p.fps.FPS(),
		FrameTimeMs: float64(p.fps.FrameTime()) / float64(time.Millisecond),
		Sections:    make(map[string]Stats),
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, w := range p.sections {
		snap.Sections[name] = summarize(w.values())
	}
	return snap
}

// Summary renders a one-line report, sections sorted by name.
func (p *Profiler) Summary() string {
	snap := p.Snapshot()
	names := make([]string, 0, len(snap.Sections))
	for n := range snap.Sections {
		names = append(names, n)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "%.1f fps (%.1f ms)", snap.FPS, snap.FrameTimeMs)
	for _, n := range names {
		fmt.Fprintf(&b, " | %s %.1f±%.1f ms", n, snap.Sections[n].Mean, snap.Sections[n].StdDev)
	}
	return b.String()
}

func (p *Profiler) Reset() {
	p.mu.Lock()
	p.sections = make(map[string]*window)
	p.mu.Unlock()
	p.fps.Reset()
}
