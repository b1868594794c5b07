package capture

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/andresmejia3/centerstage/internal/types"
)

// LatestFrame is a single-slot buffer: Publish overwrites, readers always see
// the newest frame. Older frames are dropped, never queued.
type LatestFrame struct {
	mu     sync.Mutex
	frame  types.Frame
	seq    int
	notify chan struct{}
}

func NewLatestFrame() *LatestFrame {
	return &LatestFrame{notify: make(chan struct{}, 1)}
}

// Publish stores img as the newest frame and returns its sequence number,
// which starts at 1.
func (l *LatestFrame) Publish(img *image.RGBA, captured time.Time) int {
	l.mu.Lock()
	l.seq++
	l.frame = types.Frame{Index: l.seq, Image: img, Captured: captured}
	seq := l.seq
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
	return seq
}

// Latest returns the newest frame, false before the first Publish.
func (l *LatestFrame) Latest() (types.Frame, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frame, l.seq > 0
}

// Wait returns the newest frame with Index greater than after. It gives up
// after timeout or when ctx is done. Intended for a single consumer.
func (l *LatestFrame) Wait(ctx context.Context, after int, timeout time.Duration) (types.Frame, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		l.mu.Lock()
		if l.seq > after {
			f := l.frame
			l.mu.Unlock()
			return f, true
		}
		l.mu.Unlock()

		select {
		case <-l.notify:
		case <-timer.C:
			return types.Frame{}, false
		case <-ctx.Done():
			return types.Frame{}, false
		}
	}
}
