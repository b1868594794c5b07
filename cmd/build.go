package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/andresmejia3/centerstage/internal/compositor"
	"github.com/andresmejia3/centerstage/internal/config"
	"github.com/andresmejia3/centerstage/internal/detector"
	"github.com/andresmejia3/centerstage/internal/framing"
	"github.com/andresmejia3/centerstage/internal/logging"
	"github.com/andresmejia3/centerstage/internal/pipeline"
	"github.com/andresmejia3/centerstage/internal/sink"
	"github.com/andresmejia3/centerstage/internal/store"
	"github.com/andresmejia3/centerstage/internal/tracker"
	"github.com/andresmejia3/centerstage/internal/worker"
)

// stack is a pipeline plus the pieces the commands still need after it stops.
type stack struct {
	pipe   *pipeline.Pipeline
	engine *framing.Engine
	close  func()
}

// buildDetector returns the configured detector and its cleanup.
func buildDetector(ctx context.Context, cfg *config.AppConfig) (detector.Detector, func(), error) {
	switch cfg.DetectorBackend {
	case "worker":
		wc := worker.DefaultConfig()
		if len(cfg.WorkerCommand) > 0 {
			wc.Command = cfg.WorkerCommand[0]
			wc.Args = cfg.WorkerCommand[1:]
		}
		d, err := detector.NewWorkerDetector(ctx, wc, cfg.DetectionWidth)
		if err != nil {
			return nil, nil, fmt.Errorf("start detector worker: %w", err)
		}
		return d, d.Close, nil
	default:
		d, err := detector.NewPigoDetector(cfg.PigoOptions())
		if err != nil {
			return nil, nil, fmt.Errorf("load face cascade: %w", err)
		}
		return d, func() {}, nil
	}
}

// buildPipeline wires detection, tracking, framing and compositing for frames
// of frameW x frameH.
func buildPipeline(ctx context.Context, cfg *config.AppConfig, frameW, frameH int, out sink.Sink, opts pipeline.Options) (*stack, error) {
	fc := cfg.FramingConfig(frameW, frameH)
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	q, err := compositor.ParseQuality(cfg.ResizeQuality)
	if err != nil {
		return nil, err
	}

	var trk *tracker.Tracker
	if cfg.TrackerEnabled {
		tc, err := cfg.TrackerConfig()
		if err != nil {
			return nil, err
		}
		trk = tracker.New(tc)
	}

	det, closeDet, err := buildDetector(ctx, cfg)
	if err != nil {
		return nil, err
	}

	engine := framing.NewEngine(fc)
	pipe := pipeline.New(
		detector.NewCache(det, cfg.CacheOptions()),
		trk,
		engine,
		compositor.New(cfg.OutputWidth, cfg.OutputHeight, q),
		out,
		opts,
	)
	logging.For("cli").WithFields(logging.Fields{
		"detector": cfg.DetectorBackend,
		"tracker":  cfg.TrackerEnabled,
		"mode":     fc.Mode,
		"frame":    fmt.Sprintf("%dx%d", frameW, frameH),
		"output":   fmt.Sprintf("%dx%d", cfg.OutputWidth, cfg.OutputHeight),
	}).Info("Pipeline ready")

	return &stack{pipe: pipe, engine: engine, close: closeDet}, nil
}

// session persists one run when a database is connected. Every method is a
// no-op otherwise.
type session struct {
	id      string
	db      *store.Store
	rec     *store.Recorder
	started time.Time
}

func startSession(ctx context.Context, db *store.Store, id, source string, cfg *config.AppConfig) *session {
	s := &session{id: id, started: time.Now()}
	if db == nil {
		return s
	}
	if err := db.StartSession(ctx, id, source, cfg); err != nil {
		logging.For("cli").WithError(err).Warn("Failed to register session, history disabled")
		return s
	}
	s.db = db
	s.rec = store.NewRecorder(db, id, 64)
	return s
}

// attach routes removed tracks into the session recorder.
func (s *session) attach(p *pipeline.Pipeline) {
	if s.rec != nil {
		p.SetRecorder(s.rec)
	}
}

// end flushes pending track rows and stamps the session counters.
func (s *session) end(st pipeline.Status) {
	if s.db == nil {
		return
	}
	s.rec.Close()

	stats := store.SessionStats{Frames: int64(st.Frames), Detections: int64(st.Detections)}
	if secs := time.Since(s.started).Seconds(); secs > 0 {
		stats.AvgFPS = float64(st.Frames) / secs
	}
	// The command context is usually cancelled by now.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.db.EndSession(ctx, s.id, stats); err != nil {
		logging.For("cli").WithError(err).Warn("Failed to close session")
	}
}

// keepSettings copies framing changes made while running back into cfg and
// reports whether anything changed.
func keepSettings(cfg *config.AppConfig, fc framing.Config) bool {
	changed := cfg.CenterStageEnabled != fc.Enabled ||
		cfg.FramingMode != string(fc.Mode) ||
		cfg.Smoothing != fc.Smoothing ||
		cfg.MinZoom != fc.MinZoom ||
		cfg.MaxZoom != fc.MaxZoom
	if changed {
		cfg.CenterStageEnabled = fc.Enabled
		cfg.FramingMode = string(fc.Mode)
		cfg.Smoothing = fc.Smoothing
		cfg.MinZoom = fc.MinZoom
		cfg.MaxZoom = fc.MaxZoom
	}
	return changed
}
