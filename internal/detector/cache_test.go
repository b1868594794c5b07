package detector

import (
	"errors"
	"image"
	"testing"

	"github.com/andresmejia3/centerstage/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDetector struct {
	calls int
	dets  Detections
	err   error
}

func (f *fakeDetector) Detect(*image.RGBA) (Detections, error) {
	f.calls++
	return f.dets, f.err
}

func frame() *image.RGBA { return image.NewRGBA(image.Rect(0, 0, 64, 36)) }

func TestCacheRunsEveryNthFrame(t *testing.T) {
	fd := &fakeDetector{dets: Detections{Width: 100, Height: 100, Boxes: []Box{{X: 10, Y: 10, W: 20, H: 20, Confidence: 0.9}}}}
	c := NewCache(fd, CacheOptions{Interval: 3, MaxFaces: 5, MinConfidence: 0.5})

	var seqs []uint64
	var ran []int
	for i := 1; i <= 9; i++ {
		before := fd.calls
		seqs = append(seqs, c.Detect(frame(), false).Seq)
		if fd.calls > before {
			ran = append(ran, i)
		}
	}

	// first call, then every third call
	assert.Equal(t, []int{1, 3, 6, 9}, ran)
	assert.Equal(t, []uint64{1, 1, 2, 2, 2, 3, 3, 3, 4}, seqs)
}

func TestCacheSkippedFramesReturnSameResult(t *testing.T) {
	fd := &fakeDetector{dets: Detections{Width: 10, Height: 10}}
	c := NewCache(fd, CacheOptions{Interval: 4})

	first := c.Detect(frame(), false)
	second := c.Detect(frame(), false)
	assert.Same(t, first, second)
}

func TestCacheForce(t *testing.T) {
	fd := &fakeDetector{dets: Detections{Width: 10, Height: 10}}
	c := NewCache(fd, CacheOptions{Interval: 100})

	a := c.Detect(frame(), false)
	b := c.Detect(frame(), true)
	assert.Equal(t, 2, fd.calls)
	assert.Greater(t, b.Seq, a.Seq)
}

func TestCacheNormalizesAndFilters(t *testing.T) {
	fd := &fakeDetector{dets: Detections{Width: 200, Height: 100, Boxes: []Box{
		{X: 20, Y: 10, W: 40, H: 30, Confidence: 0.95},
		{X: 100, Y: 50, W: 20, H: 20, Confidence: 0.4}, // below threshold
		{X: 180, Y: 90, W: 50, H: 50, Confidence: 0.7}, // overhangs, gets clamped
		{X: 10, Y: 10, W: 0, H: 10, Confidence: 0.9},   // degenerate
	}}}
	c := NewCache(fd, CacheOptions{Interval: 1, MaxFaces: 5, MinConfidence: 0.5})

	res := c.Detect(frame(), false)
	require.Len(t, res.Faces, 2)

	f := res.Faces[0]
	assert.InDelta(t, 0.1, f.Box.X, 1e-9)
	assert.InDelta(t, 0.1, f.Box.Y, 1e-9)
	assert.InDelta(t, 0.2, f.Box.W, 1e-9)
	assert.InDelta(t, 0.3, f.Box.H, 1e-9)
	assert.Equal(t, types.NoTrack, f.TrackID)

	for _, f := range res.Faces {
		assert.LessOrEqual(t, f.Box.Right(), 1.0+1e-9)
		assert.LessOrEqual(t, f.Box.Bottom(), 1.0+1e-9)
		assert.GreaterOrEqual(t, f.Confidence, 0.5)
	}
}

func TestCacheMaxFaces(t *testing.T) {
	var boxes []Box
	for i := 0; i < 8; i++ {
		boxes = append(boxes, Box{X: float64(i * 10), Y: 0, W: 8, H: 8, Confidence: 0.9 - float64(i)*0.01})
	}
	c := NewCache(&fakeDetector{dets: Detections{Width: 100, Height: 100, Boxes: boxes}}, CacheOptions{Interval: 1, MaxFaces: 5})

	res := c.Detect(frame(), false)
	require.Len(t, res.Faces, 5)
	assert.InDelta(t, 0.9, res.Faces[0].Confidence, 1e-9)
}

func TestCacheDetectorFailureYieldsEmptyResult(t *testing.T) {
	fd := &fakeDetector{err: errors.New("model exploded")}
	c := NewCache(fd, CacheOptions{Interval: 1})

	res := c.Detect(frame(), false)
	require.NotNil(t, res)
	assert.False(t, res.HasFaces())
	assert.Equal(t, uint64(1), res.Seq)
}

func TestCacheSetMinConfidenceClamps(t *testing.T) {
	c := NewCache(&fakeDetector{}, DefaultCacheOptions())
	c.SetMinConfidence(1.7)
	assert.Equal(t, 1.0, c.Options().MinConfidence)
	c.SetMinConfidence(-3)
	assert.Equal(t, 0.0, c.Options().MinConfidence)
}

func TestCacheReset(t *testing.T) {
	fd := &fakeDetector{dets: Detections{Width: 10, Height: 10}}
	c := NewCache(fd, CacheOptions{Interval: 50})
	c.Detect(frame(), false)
	c.Reset()
	assert.Nil(t, c.Last())
	c.Detect(frame(), false)
	assert.Equal(t, 2, fd.calls)
}
