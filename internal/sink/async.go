package sink

import (
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andresmejia3/centerstage/internal/logging"
	"golang.org/x/time/rate"
)

// StopTimeout bounds how long Stop waits for the queued frame to drain.
const StopTimeout = 2 * time.Second

// Aborter is implemented by sinks that can be torn down while a Send is blocked.
type Aborter interface {
	Abort()
}

// Async wraps a Sink with a one-frame mailbox drained by its own goroutine.
// Send never blocks: a frame still waiting in the mailbox is replaced by the
// newer one and counted as dropped.
type Async struct {
	inner Sink

	mu      sync.Mutex
	running bool
	mailbox chan *image.RGBA
	done    chan struct{}

	sent    atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
	warn    rate.Sometimes

	stopTimeout time.Duration
}

func NewAsync(inner Sink) *Async {
	return &Async{
		inner:       inner,
		warn:        rate.Sometimes{First: 1, Interval: 5 * time.Second},
		stopTimeout: StopTimeout,
	}
}

func (a *Async) Name() string { return a.inner.Name() }

func (a *Async) Start() error {
	if err := a.inner.Start(); err != nil {
		return err
	}
	a.mu.Lock()
	a.mailbox = make(chan *image.RGBA, 1)
	a.done = make(chan struct{})
	a.running = true
	a.mu.Unlock()
	go a.drain(a.mailbox, a.done)
	return nil
}

func (a *Async) drain(mailbox <-chan *image.RGBA, done chan<- struct{}) {
	defer close(done)
	for frame := range mailbox {
		if a.inner.Send(frame) {
			a.sent.Add(1)
			continue
		}
		a.failed.Add(1)
		a.warn.Do(func() {
			logging.For("sink").WithField("backend", a.inner.Name()).Warn("Output frame rejected")
		})
	}
}

// Send queues frame and returns immediately. It returns false only when the
// sink is not running.
func (a *Async) Send(frame *image.RGBA) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return false
	}
	select {
	case a.mailbox <- frame:
		return true
	default:
	}
	// Mailbox full: swap the stale frame for the new one.
	select {
	case <-a.mailbox:
		a.dropped.Add(1)
	default:
	}
	select {
	case a.mailbox <- frame:
	default:
		a.dropped.Add(1)
	}
	return true
}

// Stop lets the queued frame drain, then stops the wrapped sink. If the drain
// is stuck past StopTimeout the wrapped sink is aborted; when it cannot be
// aborted, or still does not return, Stop gives up with ErrStalled.
func (a *Async) Stop() error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return ErrNotStarted
	}
	a.running = false
	close(a.mailbox)
	done := a.done
	a.mu.Unlock()

	select {
	case <-done:
		return a.inner.Stop()
	case <-time.After(a.stopTimeout):
	}

	log := logging.For("sink").WithField("backend", a.inner.Name())
	ab, ok := a.inner.(Aborter)
	if !ok {
		log.Warn("Output stalled, abandoning it")
		return ErrStalled
	}
	log.Warn("Output stalled, aborting")
	ab.Abort()
	select {
	case <-done:
		return a.inner.Stop()
	case <-time.After(a.stopTimeout):
		return ErrStalled
	}
}

// Stats are counters since Start.
type Stats struct {
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

func (a *Async) Stats() Stats {
	return Stats{Sent: a.sent.Load(), Dropped: a.dropped.Load(), Failed: a.failed.Load()}
}
