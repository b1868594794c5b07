package detector

import (
	"image"
	"image/color"
	"testing"

	pigo "github.com/esimov/pigo/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertPigo(t *testing.T) {
	dets := []pigo.Detection{
		{Row: 50, Col: 40, Scale: 20, Q: 6},
		{Row: 10, Col: 10, Scale: 8, Q: 2}, // below quality threshold
		{Row: 80, Col: 120, Scale: 30, Q: 25},
	}

	boxes := convertPigo(dets, 5)
	require.Len(t, boxes, 2)

	// strongest first, score capped at 1
	assert.Equal(t, 1.0, boxes[0].Confidence)
	assert.Equal(t, Box{X: 105, Y: 65, W: 30, H: 30, Confidence: 1}, boxes[0])

	assert.InDelta(t, 0.6, boxes[1].Confidence, 1e-6)
	assert.Equal(t, 30.0, boxes[1].X)
	assert.Equal(t, 40.0, boxes[1].Y)
}

func TestGrayscale(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 1))
	img.Set(0, 0, color.RGBA{255, 255, 255, 255})
	img.Set(1, 0, color.RGBA{255, 0, 0, 255})
	img.Set(2, 0, color.RGBA{0, 0, 0, 255})

	g := grayscale(img, nil)
	assert.Equal(t, []uint8{255, 76, 0}, g)

	// buffer is reused
	g2 := grayscale(img, g)
	assert.Equal(t, &g[0], &g2[0])
}

func TestDownscale(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 1280, 720))
	small := downscale(src, 320, nil)
	assert.Equal(t, image.Rect(0, 0, 320, 180), small.Rect)

	// reused when the size matches
	again := downscale(src, 320, small)
	assert.Same(t, small, again)

	// never upscales
	tiny := image.NewRGBA(image.Rect(0, 0, 100, 50))
	assert.Same(t, tiny, downscale(tiny, 320, nil))
}

func TestNewPigoDetectorMissingCascade(t *testing.T) {
	opts := DefaultPigoOptions()
	opts.CascadePath = t.TempDir() + "/nope"
	_, err := NewPigoDetector(opts)
	assert.Error(t, err)
}
