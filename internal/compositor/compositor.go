// Package compositor crops and scales frames to the fixed output size.
package compositor

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"

	"github.com/andresmejia3/centerstage/internal/geom"
	"github.com/andresmejia3/centerstage/internal/types"
	xdraw "golang.org/x/image/draw"
)

type Quality string

const (
	QualityBilinear Quality = "bilinear"
	QualityNearest  Quality = "nearest"
)

func ParseQuality(s string) (Quality, error) {
	switch q := Quality(strings.ToLower(s)); q {
	case QualityBilinear, QualityNearest:
		return q, nil
	case "":
		return QualityBilinear, nil
	}
	return "", fmt.Errorf("unknown resize quality %q", s)
}

type Compositor struct {
	width, height int
	interp        xdraw.Interpolator
}

func New(width, height int, q Quality) *Compositor {
	var interp xdraw.Interpolator = xdraw.BiLinear
	if q == QualityNearest {
		interp = xdraw.NearestNeighbor
	}
	return &Compositor{width: width, height: height, interp: interp}
}

func (c *Compositor) Size() (int, int) { return c.width, c.height }

// Apply extracts crop from frame and scales it to the output size. An empty
// pixel region falls back to the whole frame; a nil frame yields black.
func (c *Compositor) Apply(frame *image.RGBA, crop geom.Rect) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, c.width, c.height))
	if frame == nil || frame.Rect.Empty() {
		return dst
	}
	src := PixelCrop(frame.Rect, crop)
	if src.Empty() {
		src = frame.Rect
	}
	c.interp.Scale(dst, dst.Bounds(), frame, src, xdraw.Src, nil)
	return dst
}

// PixelCrop maps a normalized crop onto bounds, truncating to whole pixels
// and keeping the result inside bounds.
func PixelCrop(bounds image.Rectangle, crop geom.Rect) image.Rectangle {
	w, h := bounds.Dx(), bounds.Dy()
	r := crop.Clamp().ToPixels(w, h)
	cw, ch := r.Dx(), r.Dy()
	if cw > w {
		cw = w
	}
	if ch > h {
		ch = h
	}
	x := max(0, min(r.Min.X, w-cw))
	y := max(0, min(r.Min.Y, h-ch))
	return image.Rect(x, y, x+cw, y+ch).Add(bounds.Min)
}

var (
	ColorCrop = color.RGBA{0, 200, 255, 255}
	ColorFace = color.RGBA{0, 255, 0, 255}
)

// DrawOverlay outlines the crop and every face on a copy of frame.
func DrawOverlay(frame *image.RGBA, crop geom.Rect, faces []types.FaceObservation) *image.RGBA {
	out := image.NewRGBA(frame.Rect)
	draw.Draw(out, out.Rect, frame, frame.Rect.Min, draw.Src)
	for _, f := range faces {
		outline(out, PixelCrop(frame.Rect, f.Box), 2, ColorFace)
	}
	outline(out, PixelCrop(frame.Rect, crop), 3, ColorCrop)
	return out
}

func outline(img *image.RGBA, r image.Rectangle, thickness int, c color.RGBA) {
	u := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness),
		image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y),
		image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(img, e.Intersect(img.Rect), u, image.Point{}, draw.Src)
	}
}
