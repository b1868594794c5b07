package detector

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/andresmejia3/centerstage/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

type bufCloser struct{ *bytes.Buffer }

func (bufCloser) Close() error { return nil }

// replyingWorker answers exactly one request with a face at x.
func replyingWorker(t *testing.T, x float64) *worker.PythonWorker {
	t.Helper()
	packed, err := msgpack.Marshal(&worker.Response{Detections: []worker.Detection{{X: x, Y: 1, W: 4, H: 4, Confidence: 0.9}}})
	require.NoError(t, err)
	payload := append([]byte{worker.StatusOK}, packed...)

	out := bufCloser{new(bytes.Buffer)}
	require.NoError(t, binary.Write(out, binary.BigEndian, uint32(len(payload))))
	out.Write(payload)
	return &worker.PythonWorker{Stdin: bufCloser{new(bytes.Buffer)}, DataPipe: out}
}

func TestPackRGB(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{1, 2, 3, 255})
	img.Set(1, 0, color.RGBA{4, 5, 6, 255})
	img.Set(0, 1, color.RGBA{7, 8, 9, 255})
	img.Set(1, 1, color.RGBA{10, 11, 12, 255})

	buf := packRGB(img, nil)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, buf)

	// buffer is reused when large enough
	again := packRGB(img, buf)
	assert.Same(t, &buf[0], &again[0])
}

func TestPackRGBSubImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(2, 2, color.RGBA{200, 100, 50, 255})
	sub := img.SubImage(image.Rect(2, 2, 4, 4)).(*image.RGBA)

	buf := packRGB(sub, nil)
	require.Len(t, buf, 12)
	assert.Equal(t, []byte{200, 100, 50}, buf[:3])
}

func TestWorkerDetectorRejectsEmptyFrame(t *testing.T) {
	d := &WorkerDetector{detectWidth: 160}
	_, err := d.Detect(nil)
	assert.Error(t, err)
}

func TestWorkerDetectorRestartsBrokenWorker(t *testing.T) {
	now := time.Unix(100, 0)
	started := 0
	d := &WorkerDetector{
		// an empty reply pipe reads as a crashed process
		w:           &worker.PythonWorker{Stdin: bufCloser{new(bytes.Buffer)}, DataPipe: bufCloser{new(bytes.Buffer)}},
		detectWidth: 320,
		now:         func() time.Time { return now },
		start: func() (*worker.PythonWorker, error) {
			started++
			return replyingWorker(t, 5), nil
		},
	}
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))

	_, err := d.Detect(img)
	require.Error(t, err)
	assert.Nil(t, d.w)

	// no relaunch inside the backoff window
	_, err = d.Detect(img)
	assert.ErrorIs(t, err, errWorkerDown)
	assert.Equal(t, 0, started)

	now = now.Add(RestartBackoff)
	dets, err := d.Detect(img)
	require.NoError(t, err)
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, d.Restarts())
	assert.Equal(t, 16, dets.Width)
	require.Len(t, dets.Boxes, 1)
	assert.Equal(t, 5.0, dets.Boxes[0].X)
}

func TestWorkerDetectorKeepsHealthyWorker(t *testing.T) {
	d := &WorkerDetector{w: replyingWorker(t, 3), detectWidth: 320, now: time.Now}
	dets, err := d.Detect(image.NewRGBA(image.Rect(0, 0, 8, 8)))
	require.NoError(t, err)
	require.Len(t, dets.Boxes, 1)
	assert.NotNil(t, d.w)
	assert.Equal(t, 0, d.Restarts())
}
