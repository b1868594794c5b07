// Package capture reads frames from cameras or video files on a background
// goroutine and publishes the newest one to a single-slot buffer.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/andresmejia3/centerstage/internal/utils"
)

var (
	ErrClosed  = errors.New("camera closed")
	ErrNotOpen = errors.New("camera not open")
)

// Camera is a blocking frame source. Read returns ErrClosed once the source
// is exhausted or closed.
type Camera interface {
	Open(ctx context.Context) error
	Read() (*image.RGBA, error)
	Size() (int, int)
	Close() error
}

// Source describes where frames come from.
type Source struct {
	Device string // /dev/videoN or a file path
	Width  int    // requested capture size; zero probes the device
	Height int
	FPS    int
	Loop   bool // restart file sources at EOF
	Batch  bool // decode files as fast as possible instead of at their native rate
}

// IsDevice reports whether Device names a V4L2 node rather than a file.
func (s Source) IsDevice() bool {
	return strings.HasPrefix(s.Device, "/dev/video")
}

// FFmpegCamera decodes any ffmpeg input to packed RGBA.
type FFmpegCamera struct {
	src Source

	mu     sync.Mutex
	cmd    *utils.SafeCommand
	stdout io.ReadCloser
	cancel context.CancelFunc
	width  int
	height int
}

func NewFFmpegCamera(src Source) *FFmpegCamera {
	return &FFmpegCamera{src: src}
}

func (c *FFmpegCamera) Open(ctx context.Context) error {
	format := ""
	if c.src.IsDevice() {
		format = "v4l2"
	}

	w, h := c.src.Width, c.src.Height
	if w <= 0 || h <= 0 {
		var err error
		w, h, err = utils.GetVideoDimensions(ctx, format, c.src.Device)
		if err != nil {
			return fmt.Errorf("probe %s: %w", c.src.Device, err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	dec := utils.NewFFmpegRawDecoder(ctx, utils.DecoderOptions{
		Input:    c.src.Device,
		Format:   format,
		Width:    w,
		Height:   h,
		FPS:      c.src.FPS,
		Realtime: !c.src.IsDevice() && !c.src.Batch,
		Loop:     c.src.Loop && !c.src.IsDevice(),
	})
	cmd := utils.WrapCommand(dec)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	c.mu.Lock()
	c.cmd, c.stdout, c.cancel = cmd, stdout, cancel
	c.width, c.height = w, h
	c.mu.Unlock()
	return nil
}

func (c *FFmpegCamera) Read() (*image.RGBA, error) {
	c.mu.Lock()
	stdout, w, h := c.stdout, c.width, c.height
	c.mu.Unlock()
	if stdout == nil {
		return nil, ErrNotOpen
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	if _, err := io.ReadFull(stdout, img.Pix); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, os.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, err
	}
	return img, nil
}

func (c *FFmpegCamera) Size() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width, c.height
}

// Close stops ffmpeg, which unblocks a pending Read.
func (c *FFmpegCamera) Close() error {
	c.mu.Lock()
	cmd, cancel := c.cmd, c.cancel
	c.cmd, c.stdout, c.cancel = nil, nil, nil
	c.mu.Unlock()
	if cmd == nil {
		return nil
	}
	cancel()
	// Killed by cancel, so the exit status is expected to be non-zero.
	_ = cmd.Wait()
	return nil
}

// Command exposes the running ffmpeg process for error reports.
func (c *FFmpegCamera) Command() *utils.SafeCommand {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cmd
}
