package pipeline

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/andresmejia3/centerstage/internal/capture"
	"github.com/andresmejia3/centerstage/internal/compositor"
	"github.com/andresmejia3/centerstage/internal/detector"
	"github.com/andresmejia3/centerstage/internal/framing"
	"github.com/andresmejia3/centerstage/internal/geom"
	"github.com/andresmejia3/centerstage/internal/sink"
	"github.com/andresmejia3/centerstage/internal/store"
	"github.com/andresmejia3/centerstage/internal/tracker"
	"github.com/andresmejia3/centerstage/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedDetector reports one face at box until cleared.
type scriptedDetector struct {
	mu  sync.Mutex
	box *detector.Box
}

func (d *scriptedDetector) Detect(frame *image.RGBA) (detector.Detections, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := detector.Detections{Width: frame.Rect.Dx(), Height: frame.Rect.Dy()}
	if d.box != nil {
		out.Boxes = []detector.Box{*d.box}
	}
	return out, nil
}

func (d *scriptedDetector) clear() {
	d.mu.Lock()
	d.box = nil
	d.mu.Unlock()
}

type recordingSink struct {
	mu     sync.Mutex
	frames int
	reject bool
}

func (s *recordingSink) Start() error { return nil }
func (s *recordingSink) Stop() error  { return nil }
func (s *recordingSink) Name() string { return "recording" }
func (s *recordingSink) Send(*image.RGBA) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	return !s.reject
}

type memRecorder struct {
	mu      sync.Mutex
	records []store.TrackRecord
}

func (r *memRecorder) Record(t store.TrackRecord) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, t)
	return true
}

func newTestPipeline(t *testing.T, det detector.Detector, out sink.Sink) *Pipeline {
	t.Helper()
	cfg := framing.DefaultConfig()
	cfg.Smoothing = 0.5
	cfg.FramesUntilReset = 5
	trkCfg := tracker.DefaultConfig()
	trkCfg.NewPredictor = nil
	trkCfg.MaxFramesLost = 3

	return New(
		detector.NewCache(det, detector.CacheOptions{Interval: 1, MaxFaces: 5, MinConfidence: 0.5}),
		tracker.New(trkCfg),
		framing.NewEngine(cfg),
		compositor.New(32, 18, compositor.QualityNearest),
		out,
		Options{SessionID: "test"},
	)
}

func frameAt(i int) types.Frame {
	return types.Frame{Index: i, Image: image.NewRGBA(image.Rect(0, 0, 160, 90))}
}

func TestStepFramesDetectedFace(t *testing.T) {
	det := &scriptedDetector{box: &detector.Box{X: 100, Y: 30, W: 20, H: 20, Confidence: 0.9}}
	out := &recordingSink{}
	p := newTestPipeline(t, det, out)

	var res Result
	for i := 1; i <= 20; i++ {
		res = p.Step(frameAt(i))
	}

	require.Len(t, res.Faces, 1)
	assert.Equal(t, 1, res.Faces[0].TrackID)
	cx, _ := res.Crop.Center()
	assert.Greater(t, cx, 0.5, "crop should have moved right toward the face")
	assert.Equal(t, image.Rect(0, 0, 32, 18), res.Output.Rect)
	assert.True(t, res.Sent)

	st := p.Status()
	assert.Equal(t, "tracking", st.State)
	assert.True(t, st.Tracking)
	assert.Equal(t, uint64(20), st.Frames)
	assert.Equal(t, uint64(20), st.Detections)
	assert.Equal(t, 1, st.ActiveTracks)
	assert.Equal(t, "recording", st.Sink)
	assert.Same(t, res.Output, p.LastOutput())
	assert.Equal(t, 20, out.frames)
}

func TestStepWithoutFacesStaysFullFrame(t *testing.T) {
	p := newTestPipeline(t, &scriptedDetector{}, &recordingSink{})
	res := p.Step(frameAt(1))
	assert.Equal(t, geom.FullFrame(), res.Crop)
	assert.Equal(t, "idle", p.Status().State)
}

func TestControlsApplyAtCycleStart(t *testing.T) {
	det := &scriptedDetector{box: &detector.Box{X: 100, Y: 30, W: 20, H: 20, Confidence: 0.9}}
	p := newTestPipeline(t, det, &recordingSink{})
	for i := 1; i <= 5; i++ {
		p.Step(frameAt(i))
	}

	require.True(t, p.Control(SetEnabled(false)))
	require.True(t, p.Control(SetMode(framing.ModeSingle)))
	// not applied until the next cycle
	assert.True(t, p.Status().Enabled)

	res := p.Step(frameAt(6))
	assert.Equal(t, geom.FullFrame(), res.Crop)
	st := p.Status()
	assert.False(t, st.Enabled)
	assert.Equal(t, framing.ModeSingle, st.Mode)
}

func TestUnknownModeIsIgnored(t *testing.T) {
	p := newTestPipeline(t, &scriptedDetector{}, nil)
	require.True(t, p.Control(SetMode(framing.ModeClosest)))
	require.True(t, p.Control(SetMode("everyone")))
	p.Step(frameAt(1))
	assert.Equal(t, framing.ModeClosest, p.Status().Mode)
}

func TestSendFailuresAreCounted(t *testing.T) {
	out := &recordingSink{reject: true}
	p := newTestPipeline(t, &scriptedDetector{}, out)
	res := p.Step(frameAt(1))
	assert.False(t, res.Sent)
	assert.Equal(t, uint64(1), p.Status().SendFailures)
}

func TestRemovedTracksAreRecorded(t *testing.T) {
	det := &scriptedDetector{box: &detector.Box{X: 100, Y: 30, W: 20, H: 20, Confidence: 0.9}}
	p := newTestPipeline(t, det, &recordingSink{})
	rec := &memRecorder{}
	p.SetRecorder(rec)

	p.Step(frameAt(1))
	p.Step(frameAt(2))
	det.clear()
	// three misses to go lost, one more to be removed
	for i := 3; i <= 7; i++ {
		p.Step(frameAt(i))
	}

	require.Len(t, rec.records, 1)
	r := rec.records[0]
	assert.Equal(t, 1, r.TrackID)
	assert.Equal(t, 1, r.FirstFrame)
	assert.Equal(t, 2, r.LastFrame)
	assert.Equal(t, 2, r.Detections)
	assert.InDelta(t, 0.9, r.PeakConfidence, 1e-9)
}

func TestCloseRecordsLiveTracks(t *testing.T) {
	det := &scriptedDetector{box: &detector.Box{X: 10, Y: 10, W: 20, H: 20, Confidence: 0.8}}
	p := newTestPipeline(t, det, &recordingSink{})
	rec := &memRecorder{}
	p.SetRecorder(rec)
	p.Step(frameAt(1))
	p.Close()
	assert.Len(t, rec.records, 1)
}

func TestOverlayRendersFullFrame(t *testing.T) {
	det := &scriptedDetector{box: &detector.Box{X: 100, Y: 30, W: 20, H: 20, Confidence: 0.9}}
	p := newTestPipeline(t, det, nil)
	p.opts.Overlay = true
	res := p.Step(frameAt(1))
	assert.Equal(t, image.Rect(0, 0, 32, 18), res.Output.Rect)
	assert.False(t, res.Sent)
}

func TestRunStopsWhenSourceStops(t *testing.T) {
	p := newTestPipeline(t, &scriptedDetector{}, &recordingSink{})
	slot := capture.NewLatestFrame()
	done := make(chan struct{})

	errc := make(chan error, 1)
	go func() { errc <- p.Run(context.Background(), slot, done) }()

	slot.Publish(image.NewRGBA(image.Rect(0, 0, 160, 90)), time.Now())
	require.Eventually(t, func() bool { return p.Status().Frames == 1 }, 2*time.Second, time.Millisecond)

	close(done)
	select {
	case err := <-errc:
		assert.True(t, errors.Is(err, ErrSourceStopped))
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	p := newTestPipeline(t, &scriptedDetector{}, &recordingSink{})
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.Run(ctx, capture.NewLatestFrame(), make(chan struct{})) }()

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}
