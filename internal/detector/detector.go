// Package detector finds faces in RGBA frames and caches results between
// detection cycles.
package detector

import (
	"image"

	xdraw "golang.org/x/image/draw"
)

// Box is one face in the pixel space of the image the detector actually saw.
type Box struct {
	X, Y, W, H float64
	Confidence float64
}

// Detections are the raw boxes plus the size of the detector input, so the
// cache can normalize them regardless of any internal downscaling.
type Detections struct {
	Width  int
	Height int
	Boxes  []Box
}

// Detector is a face detector backend. Implementations should order boxes by
// descending confidence.
type Detector interface {
	Detect(frame *image.RGBA) (Detections, error)
}

// downscale resizes frame to the given width, keeping the aspect ratio. dst is
// reused when it already has the right size.
func downscale(frame *image.RGBA, width int, dst *image.RGBA) *image.RGBA {
	b := frame.Bounds()
	if width <= 0 || b.Dx() <= width {
		return frame
	}
	height := b.Dy() * width / b.Dx()
	if height < 1 {
		height = 1
	}
	if dst == nil || dst.Rect.Dx() != width || dst.Rect.Dy() != height {
		dst = image.NewRGBA(image.Rect(0, 0, width, height))
	}
	xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), frame, b, xdraw.Src, nil)
	return dst
}
