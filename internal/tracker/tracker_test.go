package tracker

import (
	"image"
	"image/color"
	"testing"

	"github.com/andresmejia3/centerstage/internal/geom"
	"github.com/andresmejia3/centerstage/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticConfig() Config {
	cfg := DefaultConfig()
	cfg.NewPredictor = nil
	return cfg
}

func mkFrame(i int) types.Frame {
	return types.Frame{Index: i, Image: image.NewRGBA(image.Rect(0, 0, 100, 100))}
}

// det builds a detection result from pixel boxes in a 100x100 frame.
func det(seq uint64, boxes ...geom.Rect) *types.DetectionResult {
	res := &types.DetectionResult{Seq: seq}
	for _, b := range boxes {
		res.Faces = append(res.Faces, types.FaceObservation{
			Box:        geom.Rect{X: b.X / 100, Y: b.Y / 100, W: b.W / 100, H: b.H / 100},
			Confidence: 0.9,
			TrackID:    types.NoTrack,
		})
	}
	return res
}

func TestNewDetectionCreatesTrack(t *testing.T) {
	tr := New(staticConfig())
	obs := tr.Update(mkFrame(0), det(1, geom.Rect{X: 10, Y: 10, W: 20, H: 20}))

	require.Len(t, obs, 1)
	assert.Equal(t, 1, obs[0].TrackID)
	assert.Equal(t, 1.0, obs[0].Confidence)
	assert.True(t, obs[0].Box.ApproxEqual(geom.Rect{X: 0.1, Y: 0.1, W: 0.2, H: 0.2}, 1e-9))

	tracks := tr.Tracks()
	require.Len(t, tracks, 1)
	assert.Equal(t, StateActive, tracks[0].State)
	assert.Equal(t, 1, tr.ActiveCount())
}

func TestOverlappingDetectionKeepsIdentity(t *testing.T) {
	tr := New(staticConfig())
	tr.Update(mkFrame(0), det(1, geom.Rect{X: 10, Y: 10, W: 20, H: 20}))
	obs := tr.Update(mkFrame(1), det(2, geom.Rect{X: 13, Y: 11, W: 20, H: 20}))

	require.Len(t, obs, 1)
	assert.Equal(t, 1, obs[0].TrackID)
	assert.InDelta(t, 0.13, obs[0].Box.X, 1e-9)

	tracks := tr.Tracks()
	assert.Equal(t, 2, tracks[0].Detections)
	assert.Equal(t, 0, tracks[0].FirstFrame)
	assert.Equal(t, 1, tracks[0].LastFrame)
}

func TestDistantDetectionStartsNewTrack(t *testing.T) {
	tr := New(staticConfig())
	tr.Update(mkFrame(0), det(1, geom.Rect{X: 10, Y: 10, W: 20, H: 20}))
	obs := tr.Update(mkFrame(1), det(2, geom.Rect{X: 60, Y: 60, W: 20, H: 20}))

	require.Len(t, obs, 2)
	assert.Equal(t, 1, obs[0].TrackID)
	assert.Equal(t, 2, obs[1].TrackID)
	// unmatched track aged one frame
	assert.InDelta(t, 0.98, obs[0].Confidence, 1e-9)
}

func TestGreedyAssociationPrefersHighestIoU(t *testing.T) {
	tr := New(staticConfig())
	tr.Update(mkFrame(0), det(1,
		geom.Rect{X: 0, Y: 0, W: 20, H: 20},
		geom.Rect{X: 50, Y: 0, W: 20, H: 20},
	))

	// the first detection overlaps track 1 a little, the second one a lot
	obs := tr.Update(mkFrame(1), det(2,
		geom.Rect{X: 8, Y: 0, W: 20, H: 20},
		geom.Rect{X: 2, Y: 0, W: 20, H: 20},
	))

	byID := map[int]types.FaceObservation{}
	for _, o := range obs {
		byID[o.TrackID] = o
	}
	require.Contains(t, byID, 1)
	assert.InDelta(t, 0.02, byID[1].Box.X, 1e-9)
	// the leftover detection becomes track 3
	require.Contains(t, byID, 3)
	assert.InDelta(t, 0.08, byID[3].Box.X, 1e-9)
}

func TestEqualIoUGoesToLowerTrackID(t *testing.T) {
	tr := New(staticConfig())
	tr.Update(mkFrame(0), det(1,
		geom.Rect{X: 0, Y: 0, W: 20, H: 10},
		geom.Rect{X: 10, Y: 0, W: 20, H: 10},
	))

	obs := tr.Update(mkFrame(1), det(2, geom.Rect{X: 5, Y: 0, W: 20, H: 10}))

	require.Len(t, obs, 2)
	assert.Equal(t, 1, obs[0].TrackID)
	assert.InDelta(t, 0.05, obs[0].Box.X, 1e-9)
	assert.Equal(t, 1.0, obs[0].Confidence)
	assert.Equal(t, 2, obs[1].TrackID)
	assert.Less(t, obs[1].Confidence, 1.0)
}

func TestConfidenceDecaysBetweenDetections(t *testing.T) {
	tr := New(staticConfig())
	res := det(1, geom.Rect{X: 10, Y: 10, W: 20, H: 20})
	tr.Update(mkFrame(0), res)

	var obs []types.FaceObservation
	for i := 1; i <= 10; i++ {
		obs = tr.Update(mkFrame(i), res) // same Seq: prediction cycle
	}
	require.Len(t, obs, 1)
	assert.InDelta(t, 0.8, obs[0].Confidence, 1e-9)

	for i := 11; i <= 30; i++ {
		obs = tr.Update(mkFrame(i), res)
	}
	require.Len(t, obs, 1)
	// floor
	assert.Equal(t, 0.5, obs[0].Confidence)
}

func TestTrackLostThenRemoved(t *testing.T) {
	tr := New(staticConfig())
	res := det(1, geom.Rect{X: 10, Y: 10, W: 20, H: 20})
	tr.Update(mkFrame(0), res)

	var obs []types.FaceObservation
	for i := 1; i <= 30; i++ {
		obs = tr.Update(mkFrame(i), res)
	}
	assert.Len(t, obs, 1, "still alive at the limit")

	obs = tr.Update(mkFrame(31), res)
	assert.Empty(t, obs, "lost tracks are not reported")
	assert.Equal(t, 0, tr.ActiveCount())
	assert.Empty(t, tr.Drain())

	tr.Update(mkFrame(32), res)
	assert.Empty(t, tr.Tracks())
	gone := tr.Drain()
	require.Len(t, gone, 1)
	assert.Equal(t, ID(1), gone[0].ID)
	assert.Equal(t, StateRemoved, gone[0].State)
	assert.Empty(t, tr.Drain(), "drain forgets")
}

func TestIDsAreNeverReused(t *testing.T) {
	tr := New(staticConfig())
	tr.Update(mkFrame(0), det(1, geom.Rect{X: 10, Y: 10, W: 20, H: 20}))
	tr.Clear()
	obs := tr.Update(mkFrame(1), det(2, geom.Rect{X: 10, Y: 10, W: 20, H: 20}))
	require.Len(t, obs, 1)
	assert.Equal(t, 2, obs[0].TrackID)
}

func TestEmptyDetectionAgesTracks(t *testing.T) {
	tr := New(staticConfig())
	tr.Update(mkFrame(0), det(1, geom.Rect{X: 10, Y: 10, W: 20, H: 20}))
	obs := tr.Update(mkFrame(1), det(2))
	require.Len(t, obs, 1)
	assert.InDelta(t, 0.98, obs[0].Confidence, 1e-9)
}

func TestVelocityPredictor(t *testing.T) {
	p := NewVelocityPredictor()
	p.Damping = 1
	p.Init(mkFrame(0), geom.Rect{X: 10, Y: 10, W: 10, H: 10})
	p.Init(mkFrame(2), geom.Rect{X: 14, Y: 10, W: 10, H: 10})

	box, ok := p.Predict(mkFrame(3))
	require.True(t, ok)
	assert.InDelta(t, 16, box.X, 1e-9)
	assert.InDelta(t, 10, box.Y, 1e-9)

	// leaves the frame eventually
	lost := false
	for i := 4; i < 100 && !lost; i++ {
		_, ok = p.Predict(mkFrame(i))
		lost = !ok
	}
	assert.True(t, lost)
}

func TestTemplatePredictorFollowsPatch(t *testing.T) {
	square := func(x0, y0 int) types.Frame {
		f := mkFrame(0)
		for y := y0; y < y0+20; y++ {
			for x := x0; x < x0+20; x++ {
				f.Image.Set(x, y, color.RGBA{255, 255, 255, 255})
			}
		}
		return f
	}

	p := NewTemplatePredictor()
	p.Init(square(30, 30), geom.Rect{X: 26, Y: 26, W: 28, H: 28})

	box, ok := p.Predict(square(38, 34))
	require.True(t, ok)
	assert.InDelta(t, 34, box.X, 1e-9)
	assert.InDelta(t, 30, box.Y, 1e-9)

	// nothing to follow
	_, ok = p.Predict(mkFrame(1))
	assert.False(t, ok)
}

func TestNewPredictorFunc(t *testing.T) {
	f, err := NewPredictorFunc("velocity")
	require.NoError(t, err)
	assert.IsType(t, &VelocityPredictor{}, f())

	f, err = NewPredictorFunc("template")
	require.NoError(t, err)
	assert.IsType(t, &TemplatePredictor{}, f())

	f, err = NewPredictorFunc("none")
	require.NoError(t, err)
	assert.Nil(t, f)

	_, err = NewPredictorFunc("kalman")
	assert.Error(t, err)
}
