package detector

import (
	"fmt"
	"image"
	"os"
	"sort"

	pigo "github.com/esimov/pigo/core"
)

// PigoOptions tune the pixel-intensity cascade.
type PigoOptions struct {
	CascadePath      string
	DetectWidth      int     // frames are downscaled to this width before detection
	MinSize          int     // minimum face size in detector pixels
	MaxSize          int     // maximum face size in detector pixels
	ShiftFactor      float64 // detection window shift
	ScaleFactor      float64 // image pyramid scale step
	IoUThreshold     float64 // clustering threshold for overlapping hits
	QualityThreshold float32 // minimum cascade score kept
}

func DefaultPigoOptions() PigoOptions {
	return PigoOptions{
		CascadePath:      "cascade/facefinder",
		DetectWidth:      320,
		MinSize:          20,
		MaxSize:          1000,
		ShiftFactor:      0.1,
		ScaleFactor:      1.1,
		IoUThreshold:     0.2,
		QualityThreshold: 5.0,
	}
}

// PigoDetector is the in-process detector backend.
type PigoDetector struct {
	classifier *pigo.Pigo
	opts       PigoOptions

	small *image.RGBA
	gray  []uint8
}

func NewPigoDetector(opts PigoOptions) (*PigoDetector, error) {
	cascade, err := os.ReadFile(opts.CascadePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read cascade file: %w", err)
	}
	classifier, err := pigo.NewPigo().Unpack(cascade)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack cascade: %w", err)
	}
	return &PigoDetector{classifier: classifier, opts: opts}, nil
}

func (d *PigoDetector) Detect(frame *image.RGBA) (Detections, error) {
	if frame == nil || frame.Rect.Empty() {
		return Detections{}, fmt.Errorf("empty frame")
	}
	img := downscale(frame, d.opts.DetectWidth, d.small)
	if img != frame {
		d.small = img
	}
	cols, rows := img.Rect.Dx(), img.Rect.Dy()
	d.gray = grayscale(img, d.gray)

	params := pigo.CascadeParams{
		MinSize:     d.opts.MinSize,
		MaxSize:     d.opts.MaxSize,
		ShiftFactor: d.opts.ShiftFactor,
		ScaleFactor: d.opts.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: d.gray,
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	dets := d.classifier.RunCascade(params, 0.0)
	dets = d.classifier.ClusterDetections(dets, d.opts.IoUThreshold)

	return Detections{Width: cols, Height: rows, Boxes: convertPigo(dets, d.opts.QualityThreshold)}, nil
}

// convertPigo turns centre/scale hits into boxes sorted by confidence. Pigo's
// score is unbounded, so it is mapped onto [0,1] with the quality threshold
// landing at 0.5.
func convertPigo(dets []pigo.Detection, threshold float32) []Box {
	if threshold <= 0 {
		threshold = 1
	}
	boxes := make([]Box, 0, len(dets))
	for _, det := range dets {
		if det.Q < threshold {
			continue
		}
		size := float64(det.Scale)
		conf := float64(det.Q) / float64(2*threshold)
		if conf > 1 {
			conf = 1
		}
		boxes = append(boxes, Box{
			X:          float64(det.Col) - size/2,
			Y:          float64(det.Row) - size/2,
			W:          size,
			H:          size,
			Confidence: conf,
		})
	}
	sort.SliceStable(boxes, func(i, j int) bool { return boxes[i].Confidence > boxes[j].Confidence })
	return boxes
}

// grayscale converts packed RGBA to luma, reusing buf when large enough.
func grayscale(img *image.RGBA, buf []uint8) []uint8 {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if cap(buf) < w*h {
		buf = make([]uint8, w*h)
	}
	buf = buf[:w*h]
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			r, g, b := uint32(row[x*4]), uint32(row[x*4+1]), uint32(row[x*4+2])
			buf[y*w+x] = uint8((r*299 + g*587 + b*114) / 1000)
		}
	}
	return buf
}
