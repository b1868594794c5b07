// Package tracker keeps stable identities for faces between detector runs.
//
// Tracks live in an arena keyed by ID. Detection cycles associate new boxes
// with existing tracks by greedy IoU; the frames in between advance each
// track with a Predictor.
package tracker

import (
	"math"
	"sort"

	"github.com/andresmejia3/centerstage/internal/geom"
	"github.com/andresmejia3/centerstage/internal/types"
)

type ID int

type State int

const (
	StateNew State = iota
	StateActive
	StateLost
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateActive:
		return "active"
	case StateLost:
		return "lost"
	case StateRemoved:
		return "removed"
	}
	return "unknown"
}

// Track is one followed face. Bounds are in pixel space of the frames the
// tracker is fed.
type Track struct {
	ID                   ID
	Bounds               geom.Rect
	Confidence           float64
	FramesSinceDetection int
	State                State

	FirstFrame     int
	LastFrame      int
	Detections     int
	PeakConfidence float64

	predictor Predictor
}

type Config struct {
	IoUThreshold  float64
	MaxFramesLost int
	DecayRate     float64
	MinConfidence float64
	// NewPredictor builds the per-track motion model. Nil keeps boxes in place.
	NewPredictor func() Predictor
}

func DefaultConfig() Config {
	return Config{
		IoUThreshold:  0.3,
		MaxFramesLost: 30,
		DecayRate:     0.02,
		MinConfidence: 0.5,
		NewPredictor:  func() Predictor { return NewVelocityPredictor() },
	}
}

type Tracker struct {
	cfg     Config
	tracks  map[ID]*Track
	nextID  ID
	lastSeq uint64
	seen    bool
	removed []Track
}

func New(cfg Config) *Tracker {
	return &Tracker{cfg: cfg, tracks: make(map[ID]*Track), nextID: 1}
}

// Update advances every track by one frame and returns the non-lost tracks as
// normalized observations. A result with a Seq not seen before is a detection
// cycle; anything else is a prediction cycle.
func (t *Tracker) Update(frame types.Frame, res *types.DetectionResult) []types.FaceObservation {
	t.sweep()

	w, h := frame.Width(), frame.Height()
	if w == 0 || h == 0 {
		w, h = 1, 1
	}

	if res != nil && (!t.seen || res.Seq != t.lastSeq) {
		t.seen = true
		t.lastSeq = res.Seq
		t.associate(frame, res, w, h)
	} else {
		for _, tr := range t.ordered() {
			t.advance(tr, frame)
		}
	}
	return t.observations(w, h)
}

// sweep removes tracks that were marked lost on the previous cycle.
func (t *Tracker) sweep() {
	var gone []Track
	for id, tr := range t.tracks {
		if tr.State != StateLost {
			continue
		}
		tr.State = StateRemoved
		snap := *tr
		snap.predictor = nil
		gone = append(gone, snap)
		delete(t.tracks, id)
	}
	sort.Slice(gone, func(i, j int) bool { return gone[i].ID < gone[j].ID })
	t.removed = append(t.removed, gone...)
}

type pair struct {
	track ID
	det   int
	iou   float64
}

func (t *Tracker) associate(frame types.Frame, res *types.DetectionResult, w, h int) {
	dets := make([]geom.Rect, len(res.Faces))
	for i, f := range res.Faces {
		dets[i] = toPixels(f.Box, w, h)
	}

	tracks := t.ordered()
	var pairs []pair
	for _, tr := range tracks {
		for j, d := range dets {
			if iou := geom.IoU(tr.Bounds, d); iou >= t.cfg.IoUThreshold {
				pairs = append(pairs, pair{track: tr.ID, det: j, iou: iou})
			}
		}
	}
	// Highest IoU first; ties go to the older track, then the earlier detection.
	sort.SliceStable(pairs, func(i, j int) bool {
		if pairs[i].iou != pairs[j].iou {
			return pairs[i].iou > pairs[j].iou
		}
		if pairs[i].track != pairs[j].track {
			return pairs[i].track < pairs[j].track
		}
		return pairs[i].det < pairs[j].det
	})

	matchedTrack := make(map[ID]bool)
	matchedDet := make(map[int]bool)
	for _, p := range pairs {
		if matchedTrack[p.track] || matchedDet[p.det] {
			continue
		}
		matchedTrack[p.track] = true
		matchedDet[p.det] = true
		t.refresh(t.tracks[p.track], frame, dets[p.det], res.Faces[p.det].Confidence)
	}

	for _, tr := range tracks {
		if !matchedTrack[tr.ID] {
			t.advance(tr, frame)
		}
	}

	for j, d := range dets {
		if !matchedDet[j] {
			t.spawn(frame, d, res.Faces[j].Confidence)
		}
	}
}

func (t *Tracker) refresh(tr *Track, frame types.Frame, box geom.Rect, detConf float64) {
	tr.Bounds = box
	tr.FramesSinceDetection = 0
	tr.Confidence = 1
	tr.State = StateActive
	tr.LastFrame = frame.Index
	tr.Detections++
	tr.PeakConfidence = math.Max(tr.PeakConfidence, detConf)
	if tr.predictor != nil {
		tr.predictor.Init(frame, box)
	}
}

func (t *Tracker) spawn(frame types.Frame, box geom.Rect, detConf float64) {
	tr := &Track{
		ID:         t.nextID,
		State:      StateNew,
		FirstFrame: frame.Index,
	}
	t.nextID++
	if t.cfg.NewPredictor != nil {
		tr.predictor = t.cfg.NewPredictor()
	}
	t.tracks[tr.ID] = tr
	t.refresh(tr, frame, box, detConf)
}

// advance ages a track by one frame without a detection.
func (t *Tracker) advance(tr *Track, frame types.Frame) {
	tr.FramesSinceDetection++
	if tr.predictor != nil {
		next, ok := tr.predictor.Predict(frame)
		if !ok {
			tr.State = StateLost
			return
		}
		tr.Bounds = next
	}
	tr.Confidence = math.Max(t.cfg.MinConfidence, 1-float64(tr.FramesSinceDetection)*t.cfg.DecayRate)
	if tr.FramesSinceDetection > t.cfg.MaxFramesLost {
		tr.State = StateLost
	}
}

func (t *Tracker) observations(w, h int) []types.FaceObservation {
	var out []types.FaceObservation
	for _, tr := range t.ordered() {
		if tr.State == StateLost {
			continue
		}
		box := geom.FromPixels(tr.Bounds.X, tr.Bounds.Y, tr.Bounds.W, tr.Bounds.H, w, h).Clamp()
		if box.Empty() {
			continue
		}
		out = append(out, types.FaceObservation{Box: box, Confidence: tr.Confidence, TrackID: int(tr.ID)})
	}
	return out
}

func (t *Tracker) ordered() []*Track {
	out := make([]*Track, 0, len(t.tracks))
	for _, tr := range t.tracks {
		out = append(out, tr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Tracks is a snapshot of every live track ordered by ID.
func (t *Tracker) Tracks() []Track {
	live := t.ordered()
	out := make([]Track, len(live))
	for i, tr := range live {
		out[i] = *tr
		out[i].predictor = nil
	}
	return out
}

// ActiveCount is the number of tracks that are not lost.
func (t *Tracker) ActiveCount() int {
	n := 0
	for _, tr := range t.tracks {
		if tr.State != StateLost {
			n++
		}
	}
	return n
}

// Drain returns and forgets the tracks removed since the last call.
func (t *Tracker) Drain() []Track {
	out := t.removed
	t.removed = nil
	return out
}

// Clear drops every track. IDs keep increasing.
func (t *Tracker) Clear() {
	t.tracks = make(map[ID]*Track)
	t.removed = nil
	t.seen = false
}

func toPixels(r geom.Rect, w, h int) geom.Rect {
	fw, fh := float64(w), float64(h)
	return geom.Rect{X: r.X * fw, Y: r.Y * fh, W: r.W * fw, H: r.H * fh}
}
