package worker

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/andresmejia3/centerstage/internal/types"
	"github.com/andresmejia3/centerstage/internal/utils" // Using the SafeCommand wrapper
	"github.com/vmihailenco/msgpack/v5"
)

// Status bytes prefixed to every response body.
const (
	StatusOK    byte = 0
	StatusError byte = 1
)

// ErrTimeout is returned when the worker does not answer within Config.ReadTimeout.
var ErrTimeout = errors.New("worker read timed out")

// ErrBroken is returned by every call after an exchange failed part way. The
// reply stream may be misaligned, so the worker has to be replaced.
var ErrBroken = errors.New("worker stream out of sync")

// MaxResponseSize bounds a single reply body.
const MaxResponseSize = 16 << 20

// Config describes how to launch an external detector process.
type Config struct {
	Command     string
	Args        []string
	ReadTimeout time.Duration
}

// DefaultConfig launches the bundled python detector.
func DefaultConfig() Config {
	return Config{
		Command:     "python3",
		Args:        []string{"-u", "python/detector.py"},
		ReadTimeout: 2 * time.Second,
	}
}

// Request is one frame sent to the worker: packed RGB bytes plus the size.
type Request struct {
	Width  int    `msgpack:"w"`
	Height int    `msgpack:"h"`
	Data   []byte `msgpack:"d"`
}

// Detection is a face box in the pixel space of the request image.
type Detection struct {
	X          float64 `msgpack:"x"`
	Y          float64 `msgpack:"y"`
	W          float64 `msgpack:"w"`
	H          float64 `msgpack:"h"`
	Confidence float64 `msgpack:"confidence"`
}

// Response is the body of a StatusOK reply.
type Response struct {
	Detections  []Detection `msgpack:"detections"`
	InferenceMs float64     `msgpack:"inference_ms"`
}

type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
	timeout  time.Duration
	broken   error
}

func NewPythonWorker(ctx context.Context, id int, cfg Config) (*PythonWorker, error) {
	// 1. Initialize the SafeCommand we built
	py := utils.NewSafeCommand(ctx, cfg.Command, cfg.Args...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
		timeout:  cfg.ReadTimeout,
	}, nil
}

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// Communicate sends one length-prefixed request and reads one reply. Any
// failure, a timeout included, leaves the worker broken.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	if w.broken != nil {
		return nil, w.broken
	}
	body, err := w.roundTrip(data)
	if err != nil {
		w.broken = fmt.Errorf("%w: %v", ErrBroken, err)
		return nil, err
	}
	return body, nil
}

// Broken reports whether a previous exchange failed.
func (w *PythonWorker) Broken() bool { return w.broken != nil }

func (w *PythonWorker) roundTrip(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	if d, ok := w.DataPipe.(deadliner); ok && w.timeout > 0 {
		_ = d.SetReadDeadline(time.Now().Add(w.timeout))
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > MaxResponseSize {
		return nil, fmt.Errorf("response of %d bytes exceeds limit", respLen)
	}
	respBody := make([]byte, respLen)
	if _, err := io.ReadFull(w.DataPipe, respBody); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, err
	}
	return respBody, nil
}

// Detect sends one packed RGB frame and decodes the face boxes.
// Response: [Status] followed by a msgpack Response (OK) or types.ErrorResult (error).
func (w *PythonWorker) Detect(rgb []byte, width, height int) (*Response, error) {
	if len(rgb) != width*height*3 {
		return nil, fmt.Errorf("frame size mismatch: %d bytes for %dx%d", len(rgb), width, height)
	}
	req, err := msgpack.Marshal(&Request{Width: width, Height: height, Data: rgb})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	body, err := w.Communicate(req)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, errors.New("empty response from worker")
	}

	switch body[0] {
	case StatusOK:
		var resp Response
		if err := msgpack.Unmarshal(body[1:], &resp); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return &resp, nil
	case StatusError:
		var e types.ErrorResult
		if err := msgpack.Unmarshal(body[1:], &e); err != nil {
			return nil, fmt.Errorf("decode worker error: %w", err)
		}
		return nil, fmt.Errorf("python worker error: %s", e.Error)
	default:
		return nil, fmt.Errorf("unknown worker status byte %d", body[0])
	}
}

// Kill stops the process without waiting for it to drain its input.
func (w *PythonWorker) Kill() {
	if w.Cmd != nil && w.Cmd.Process != nil {
		_ = w.Cmd.Process.Kill()
	}
}

func (w *PythonWorker) Close() {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd != nil {
		w.Cmd.Wait()
	}
}
