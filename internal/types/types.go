package types

import (
	"image"
	"time"

	"github.com/andresmejia3/centerstage/internal/geom"
)

// Frame is a single RGBA camera frame. Channel order is normalized once, at
// capture, so every stage can assume RGBA.
type Frame struct {
	Index    int
	Image    *image.RGBA
	Captured time.Time
}

// Width and Height of the underlying image, zero for an empty frame.
func (f Frame) Width() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Rect.Dx()
}

func (f Frame) Height() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Rect.Dy()
}

// NoTrack marks an observation that has not been associated with a track.
const NoTrack = -1

// FaceObservation is one face in normalized frame coordinates.
type FaceObservation struct {
	Box        geom.Rect `json:"box"`
	Confidence float64   `json:"confidence"`
	TrackID    int       `json:"track_id"`
}

// DetectionResult is the output of one detector invocation. The cache hands
// the same value out on skipped frames; Seq only changes when the detector
// actually ran.
type DetectionResult struct {
	Seq       uint64
	Faces     []FaceObservation
	Timestamp time.Time
	Duration  time.Duration
}

func (r *DetectionResult) FaceCount() int {
	if r == nil {
		return 0
	}
	return len(r.Faces)
}

func (r *DetectionResult) HasFaces() bool {
	return r.FaceCount() > 0
}

// PrimaryFace is the largest face by area.
func (r *DetectionResult) PrimaryFace() (FaceObservation, bool) {
	if !r.HasFaces() {
		return FaceObservation{}, false
	}
	return LargestFace(r.Faces), true
}

// BoundingBox is the union of all face boxes.
func (r *DetectionResult) BoundingBox() (geom.Rect, bool) {
	if !r.HasFaces() {
		return geom.Rect{}, false
	}
	return geom.UnionAll(Boxes(r.Faces))
}

// LargestFace returns the face with the biggest area. faces must be non-empty.
func LargestFace(faces []FaceObservation) FaceObservation {
	best := faces[0]
	for _, f := range faces[1:] {
		if f.Box.Area() > best.Box.Area() {
			best = f
		}
	}
	return best
}

// Boxes extracts the rectangles from a face list.
func Boxes(faces []FaceObservation) []geom.Rect {
	out := make([]geom.Rect, len(faces))
	for i, f := range faces {
		out[i] = f.Box
	}
	return out
}

// ErrorResult captures the error object returned by the worker on failure
type ErrorResult struct {
	Error string `msgpack:"error"`
}
