package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/andresmejia3/centerstage/internal/logging"
	"github.com/andresmejia3/centerstage/internal/worker"
)

// RestartBackoff is the shortest gap between two worker launches.
const RestartBackoff = time.Second

var errWorkerDown = errors.New("detector worker is restarting")

// WorkerDetector delegates detection to an external process speaking the
// length-prefixed msgpack protocol (see internal/worker).
// A worker whose reply stream broke is killed and replaced on a later call.
type WorkerDetector struct {
	w           *worker.PythonWorker
	detectWidth int

	start     func() (*worker.PythonWorker, error)
	now       func() time.Time
	nextStart time.Time
	restarts  int

	small *image.RGBA
	rgb   []byte
}

func NewWorkerDetector(ctx context.Context, cfg worker.Config, detectWidth int) (*WorkerDetector, error) {
	id := 0
	start := func() (*worker.PythonWorker, error) {
		id++
		return worker.NewPythonWorker(ctx, id, cfg)
	}
	w, err := start()
	if err != nil {
		return nil, err
	}
	return &WorkerDetector{w: w, detectWidth: detectWidth, start: start, now: time.Now}, nil
}

func (d *WorkerDetector) Detect(frame *image.RGBA) (Detections, error) {
	if frame == nil || frame.Rect.Empty() {
		return Detections{}, fmt.Errorf("empty frame")
	}
	img := downscale(frame, d.detectWidth, d.small)
	if img != frame {
		d.small = img
	}
	w, h := img.Rect.Dx(), img.Rect.Dy()
	d.rgb = packRGB(img, d.rgb)

	if err := d.ensureWorker(); err != nil {
		return Detections{}, err
	}
	resp, err := d.w.Detect(d.rgb, w, h)
	if err != nil {
		if d.w.Broken() {
			d.discard()
		}
		return Detections{}, err
	}

	out := Detections{Width: w, Height: h, Boxes: make([]Box, 0, len(resp.Detections))}
	for _, det := range resp.Detections {
		out.Boxes = append(out.Boxes, Box{X: det.X, Y: det.Y, W: det.W, H: det.H, Confidence: det.Confidence})
	}
	return out, nil
}

// Restarts is how many times the worker has been replaced.
func (d *WorkerDetector) Restarts() int { return d.restarts }

func (d *WorkerDetector) ensureWorker() error {
	if d.w != nil {
		return nil
	}
	if d.start == nil || d.now().Before(d.nextStart) {
		return errWorkerDown
	}
	d.nextStart = d.now().Add(RestartBackoff)
	w, err := d.start()
	if err != nil {
		return fmt.Errorf("restart detector worker: %w", err)
	}
	d.w = w
	d.restarts++
	logging.For("detector").WithField("restarts", d.restarts).Warn("Detector worker restarted")
	return nil
}

// discard kills a worker whose stream can no longer be trusted.
func (d *WorkerDetector) discard() {
	d.w.Kill()
	d.w.Close()
	d.w = nil
	if d.now != nil {
		d.nextStart = d.now().Add(RestartBackoff)
	}
}

func (d *WorkerDetector) Close() {
	if d.w != nil {
		d.w.Close()
		d.w = nil
	}
}

// packRGB drops the alpha channel; the worker expects tightly packed RGB.
func packRGB(img *image.RGBA, buf []byte) []byte {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if cap(buf) < w*h*3 {
		buf = make([]byte, w*h*3)
	}
	buf = buf[:w*h*3]
	i := 0
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			buf[i], buf[i+1], buf[i+2] = row[x*4], row[x*4+1], row[x*4+2]
			i += 3
		}
	}
	return buf
}
