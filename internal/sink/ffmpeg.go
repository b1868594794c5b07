package sink

import (
	"context"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"os/exec"
	"sync"

	"github.com/andresmejia3/centerstage/internal/logging"
	"github.com/andresmejia3/centerstage/internal/utils"
)

const (
	KindV4L2 = "v4l2"
	KindFile = "file"
)

// FFmpegSink pipes raw RGBA into an ffmpeg process that writes either a
// loopback device or an encoded file.
type FFmpegSink struct {
	backend Backend
	format  Format

	mu     sync.Mutex
	cmd    *utils.SafeCommand
	stdin  io.WriteCloser
	cancel context.CancelFunc

	// kill is guarded separately so Abort works while Send holds mu.
	killMu sync.Mutex
	kill   context.CancelFunc
}

func NewFFmpegSink(b Backend, f Format) *FFmpegSink {
	return &FFmpegSink{backend: b, format: f}
}

func (s *FFmpegSink) Name() string { return s.backend.String() }

func (s *FFmpegSink) Start() error {
	if s.backend.Kind == KindV4L2 {
		if _, err := os.Stat(s.backend.Target); err != nil {
			return fmt.Errorf("loopback device: %w", err)
		}
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var c *exec.Cmd
	switch s.backend.Kind {
	case KindV4L2:
		c = utils.NewFFmpegV4L2Writer(ctx, s.backend.Target, int(math.Round(s.format.FPS)), s.format.Width, s.format.Height)
	case KindFile:
		c = utils.NewFFmpegEncoder(ctx, s.backend.Target, s.format.FPS, s.format.Width, s.format.Height)
	default:
		cancel()
		return fmt.Errorf("unknown sink backend kind %q", s.backend.Kind)
	}

	cmd := utils.WrapCommand(c)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("ffmpeg stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	s.mu.Lock()
	s.cmd, s.stdin, s.cancel = cmd, stdin, cancel
	s.mu.Unlock()
	s.killMu.Lock()
	s.kill = cancel
	s.killMu.Unlock()
	return nil
}

// Abort kills ffmpeg. A Send blocked on a stalled pipe returns false.
func (s *FFmpegSink) Abort() {
	s.killMu.Lock()
	defer s.killMu.Unlock()
	if s.kill != nil {
		s.kill()
	}
}

// Send writes one frame. Frames of the wrong size are rejected rather than
// corrupting the raw stream.
func (s *FFmpegSink) Send(frame *image.RGBA) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdin == nil || frame == nil {
		return false
	}
	if frame.Rect.Dx() != s.format.Width || frame.Rect.Dy() != s.format.Height {
		return false
	}
	if frame.Stride == frame.Rect.Dx()*4 {
		_, err := s.stdin.Write(frame.Pix[:frame.Rect.Dy()*frame.Stride])
		return err == nil
	}
	for y := 0; y < frame.Rect.Dy(); y++ {
		row := frame.Pix[y*frame.Stride : y*frame.Stride+frame.Rect.Dx()*4]
		if _, err := s.stdin.Write(row); err != nil {
			return false
		}
	}
	return true
}

// Stop closes stdin so ffmpeg can flush and exit, then waits for it.
func (s *FFmpegSink) Stop() error {
	s.mu.Lock()
	cmd, stdin, cancel := s.cmd, s.stdin, s.cancel
	s.cmd, s.stdin, s.cancel = nil, nil, nil
	s.mu.Unlock()
	s.killMu.Lock()
	s.kill = nil
	s.killMu.Unlock()
	if cmd == nil {
		return ErrNotStarted
	}
	defer cancel()

	stdin.Close()
	if err := cmd.Wait(); err != nil {
		logging.For("sink").WithField("stderr", cmd.Stderr.String()).Debug("ffmpeg exited with error")
		return fmt.Errorf("ffmpeg %s: %w", s.Name(), err)
	}
	return nil
}
