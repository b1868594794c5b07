package metrics

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock advances by step on every call.
type fakeClock struct {
	t    time.Time
	step time.Duration
}

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(c.step)
	return c.t
}

func TestFPSCounter(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0), step: 20 * time.Millisecond}
	c := NewFPSCounter(10)
	c.now = clk.now

	assert.Zero(t, c.Tick(), "one tick has no interval yet")
	for i := 0; i < 20; i++ {
		c.Tick()
	}
	assert.InDelta(t, 50, c.FPS(), 1e-6)
	assert.Equal(t, 20*time.Millisecond, c.FrameTime())

	c.Reset()
	assert.Zero(t, c.FPS())
}

func TestFPSCounterWindowForgetsOldSamples(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0), step: 100 * time.Millisecond}
	c := NewFPSCounter(5)
	c.now = clk.now
	for i := 0; i < 10; i++ {
		c.Tick()
	}
	clk.step = 10 * time.Millisecond
	for i := 0; i < 5; i++ {
		c.Tick()
	}
	assert.InDelta(t, 100, c.FPS(), 1e-6)
}

func TestProfilerStats(t *testing.T) {
	p := NewProfiler(30)
	for _, ms := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		p.Record(SectionDetection, time.Duration(ms*float64(time.Millisecond)))
	}

	s := p.Stats(SectionDetection)
	assert.Equal(t, 8, s.N)
	assert.InDelta(t, 5, s.Mean, 1e-9)
	// sample standard deviation
	assert.InDelta(t, math.Sqrt(32.0/7.0), s.StdDev, 1e-9)
	assert.InDelta(t, 9, s.Max, 1e-9)

	assert.Equal(t, Stats{}, p.Stats("missing"))
}

func TestProfilerMeasure(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0), step: 3 * time.Millisecond}
	p := NewProfiler(30)
	p.now = clk.now

	stop := p.Measure(SectionRender)
	stop()

	assert.InDelta(t, 3, p.Stats(SectionRender).Mean, 1e-9)
}

func TestProfilerSummary(t *testing.T) {
	p := NewProfiler(30)
	p.Record(SectionFraming, time.Millisecond)
	p.Record(SectionDetection, 2*time.Millisecond)

	s := p.Summary()
	assert.True(t, strings.Index(s, "detection") < strings.Index(s, "framing"))
	assert.Contains(t, s, "fps")

	p.Reset()
	assert.Empty(t, p.Snapshot().Sections)
}
