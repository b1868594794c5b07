package detector

import (
	"image"
	"time"

	"github.com/andresmejia3/centerstage/internal/geom"
	"github.com/andresmejia3/centerstage/internal/logging"
	"github.com/andresmejia3/centerstage/internal/types"
	"golang.org/x/time/rate"
)

// CacheOptions controls how often the detector runs and which boxes survive.
type CacheOptions struct {
	Interval      int     // run the detector every Interval frames
	MaxFaces      int     // keep at most this many faces, highest confidence first
	MinConfidence float64 // drop boxes below this confidence
}

func DefaultCacheOptions() CacheOptions {
	return CacheOptions{Interval: 3, MaxFaces: 5, MinConfidence: 0.5}
}

// Cache runs a Detector on every Nth frame and hands back the previous result
// in between. A new detector run is recognizable by a new Seq.
type Cache struct {
	detector Detector
	opts     CacheOptions

	frameCount int
	seq        uint64
	last       *types.DetectionResult

	warn rate.Sometimes
	now  func() time.Time
}

func NewCache(d Detector, opts CacheOptions) *Cache {
	if opts.Interval < 1 {
		opts.Interval = 1
	}
	if opts.MaxFaces < 1 {
		opts.MaxFaces = DefaultCacheOptions().MaxFaces
	}
	opts.MinConfidence = clampConfidence(opts.MinConfidence)
	return &Cache{
		detector: d,
		opts:     opts,
		warn:     rate.Sometimes{First: 1, Interval: 5 * time.Second},
		now:      time.Now,
	}
}

// Detect returns the faces for frame. The detector runs when force is set, on
// the first call, or when the frame counter (counted from 1) is a multiple of
// the interval; otherwise the cached result is returned unchanged.
func (c *Cache) Detect(frame *image.RGBA, force bool) *types.DetectionResult {
	c.frameCount++
	run := force || c.last == nil || c.frameCount%c.opts.Interval == 0
	if !run {
		return c.last
	}

	start := c.now()
	dets, err := c.detector.Detect(frame)
	elapsed := c.now().Sub(start)

	c.seq++
	res := &types.DetectionResult{Seq: c.seq, Timestamp: start, Duration: elapsed}
	if err != nil {
		c.warn.Do(func() {
			logging.For("detector").WithError(err).Warn("Detection failed, treating frame as empty")
		})
	} else {
		res.Faces = c.normalize(dets)
	}
	c.last = res
	return res
}

func (c *Cache) normalize(d Detections) []types.FaceObservation {
	if d.Width <= 0 || d.Height <= 0 {
		return nil
	}
	faces := make([]types.FaceObservation, 0, len(d.Boxes))
	for _, b := range d.Boxes {
		if b.Confidence < c.opts.MinConfidence {
			continue
		}
		r := geom.FromPixels(b.X, b.Y, b.W, b.H, d.Width, d.Height).Clamp()
		if r.Empty() {
			continue
		}
		faces = append(faces, types.FaceObservation{
			Box:        r,
			Confidence: clampConfidence(b.Confidence),
			TrackID:    types.NoTrack,
		})
		if len(faces) == c.opts.MaxFaces {
			break
		}
	}
	return faces
}

// Last is the most recent result, nil before the first detection.
func (c *Cache) Last() *types.DetectionResult { return c.last }

// Options returns the active options.
func (c *Cache) Options() CacheOptions { return c.opts }

// SetMinConfidence applies from the next detector run. Values are clamped to [0,1].
func (c *Cache) SetMinConfidence(v float64) {
	c.opts.MinConfidence = clampConfidence(v)
}

// SetInterval changes the detection stride. Values below 1 mean every frame.
func (c *Cache) SetInterval(n int) {
	if n < 1 {
		n = 1
	}
	c.opts.Interval = n
}

// Reset drops the cached result so the next call detects.
func (c *Cache) Reset() {
	c.last = nil
	c.frameCount = 0
}

func clampConfidence(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
