package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/centerstage/internal/logging"
	"github.com/andresmejia3/centerstage/internal/metrics"
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	}
	return "unknown"
}

// JoinTimeout bounds how long Stop waits for the capture goroutine.
const JoinTimeout = time.Second

// Producer owns a Camera and publishes every frame it reads to a LatestFrame.
type Producer struct {
	cam  Camera
	slot *LatestFrame
	fps  *metrics.FPSCounter

	state  atomic.Int32
	mu     sync.Mutex
	err    error
	cancel context.CancelFunc
	done   chan struct{}
}

func NewProducer(cam Camera, slot *LatestFrame) *Producer {
	p := &Producer{cam: cam, slot: slot, fps: metrics.NewFPSCounter(30), done: make(chan struct{})}
	close(p.done)
	return p
}

// Start opens the camera and begins capturing. It fails if the camera cannot
// be opened.
func (p *Producer) Start(ctx context.Context) error {
	p.setState(StateConnecting)
	ctx, cancel := context.WithCancel(ctx)
	if err := p.cam.Open(ctx); err != nil {
		cancel()
		p.fail(err)
		return err
	}

	w, h := p.cam.Size()
	logging.For("capture").WithFields(logging.Fields{"width": w, "height": h}).Info("Camera connected")

	p.mu.Lock()
	p.cancel = cancel
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	p.setState(StateConnected)
	go p.loop(ctx, done)
	return nil
}

func (p *Producer) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		img, err := p.cam.Read()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if errors.Is(err, ErrClosed) {
				logging.For("capture").Info("Source ended")
			} else {
				logging.For("capture").WithError(err).Error("Camera read failed")
			}
			p.fail(err)
			return
		}
		p.slot.Publish(img, time.Now())
		p.fps.Tick()
	}
}

// Stop signals the capture goroutine, releases the camera and waits at most
// JoinTimeout for the goroutine to exit.
func (p *Producer) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel = nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	if err := p.cam.Close(); err != nil {
		logging.For("capture").WithError(err).Warn("Camera close failed")
	}
	select {
	case <-done:
	case <-time.After(JoinTimeout):
		logging.For("capture").Warn("Capture goroutine did not exit in time")
	}
	if p.State() != StateError {
		p.setState(StateDisconnected)
	}
}

// Done is closed when the capture goroutine exits, either after Stop or
// because the source failed.
func (p *Producer) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

func (p *Producer) State() State { return State(p.state.Load()) }

func (p *Producer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// FPS is the capture rate, independent of the processing rate.
func (p *Producer) FPS() float64 { return p.fps.FPS() }

func (p *Producer) setState(s State) { p.state.Store(int32(s)) }

func (p *Producer) fail(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	p.setState(StateError)
}
