// Package sink delivers composited frames to an output: a v4l2loopback
// virtual camera, a video file, or anything else implementing Sink.
package sink

import (
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/andresmejia3/centerstage/internal/logging"
)

var (
	ErrNotStarted = errors.New("sink not started")
	ErrNoBackend  = errors.New("no output backend could be started")
	ErrStalled    = errors.New("output did not drain before the stop timeout")
)

// Sink receives output frames. Send must not block the caller for long and
// reports whether the frame was accepted.
type Sink interface {
	Start() error
	Send(frame *image.RGBA) bool
	Stop() error
	Name() string
}

// Format is the fixed output geometry every backend is opened with.
type Format struct {
	Width  int
	Height int
	FPS    float64
}

// Backend is a parsed "kind:target" spec such as "v4l2:/dev/video10" or
// "file:out.mp4".
type Backend struct {
	Kind   string
	Target string
}

func ParseBackend(s string) (Backend, error) {
	kind, target, ok := strings.Cut(s, ":")
	if !ok || target == "" {
		return Backend{}, fmt.Errorf("invalid sink backend %q (want kind:target)", s)
	}
	switch kind {
	case KindV4L2, KindFile:
		return Backend{Kind: kind, Target: target}, nil
	}
	return Backend{}, fmt.Errorf("unknown sink backend kind %q", kind)
}

func (b Backend) String() string { return b.Kind + ":" + b.Target }

// StartFirst starts sinks in order and returns the first that succeeds.
func StartFirst(sinks ...Sink) (Sink, error) {
	log := logging.For("sink")
	for _, s := range sinks {
		if err := s.Start(); err != nil {
			log.WithError(err).WithField("backend", s.Name()).Warn("Output backend unavailable, trying next")
			continue
		}
		log.WithField("backend", s.Name()).Info("Output backend started")
		return s, nil
	}
	return nil, ErrNoBackend
}
