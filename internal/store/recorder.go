package store

import (
	"context"
	"time"

	"github.com/andresmejia3/centerstage/internal/logging"
)

// TrackWriter is the part of Store the recorder needs.
type TrackWriter interface {
	InsertTrack(ctx context.Context, sessionID string, t TrackRecord) error
}

// Recorder writes track summaries from a background goroutine so the
// pipeline never waits on the database. When the queue is full records are
// dropped and logged.
type Recorder struct {
	w         TrackWriter
	sessionID string
	queue     chan TrackRecord
	done      chan struct{}
	timeout   time.Duration
}

func NewRecorder(w TrackWriter, sessionID string, size int) *Recorder {
	r := &Recorder{
		w:         w,
		sessionID: sessionID,
		queue:     make(chan TrackRecord, size),
		done:      make(chan struct{}),
		timeout:   2 * time.Second,
	}
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer close(r.done)
	log := logging.For("store")
	for t := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := r.w.InsertTrack(ctx, r.sessionID, t); err != nil {
			log.WithError(err).WithField("track", t.TrackID).Warn("Failed to record track")
		}
		cancel()
	}
}

// Record queues t without blocking. It reports false when the record was dropped.
func (r *Recorder) Record(t TrackRecord) bool {
	select {
	case r.queue <- t:
		return true
	default:
		logging.For("store").WithField("track", t.TrackID).Warn("Track queue full, dropping record")
		return false
	}
}

// Close flushes the queue. Record must not be called afterwards.
func (r *Recorder) Close() {
	close(r.queue)
	<-r.done
}
