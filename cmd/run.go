package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/centerstage/internal/capture"
	"github.com/andresmejia3/centerstage/internal/config"
	"github.com/andresmejia3/centerstage/internal/logging"
	"github.com/andresmejia3/centerstage/internal/pipeline"
	"github.com/andresmejia3/centerstage/internal/server"
	"github.com/andresmejia3/centerstage/internal/sink"
	"github.com/andresmejia3/centerstage/internal/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type runOptions struct {
	Input      string
	Loop       bool
	Outputs    []string
	NoOutput   bool
	StatusAddr string
	Overlay    bool
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:         "run",
	Short:       "Frame the live camera and publish it as a virtual camera",
	Annotations: map[string]string{dbAnnotation: dbOptional},
	RunE: func(cmd *cobra.Command, args []string) error {
		// Flag overrides apply to this run only and are never saved.
		cfg := *Cfg
		if cmd.Flags().Changed("status-addr") {
			cfg.StatusAddr = runOpts.StatusAddr
		}
		if cmd.Flags().Changed("overlay") {
			cfg.ShowCropOverlay = runOpts.Overlay
		}
		return runLive(cmd.Context(), &cfg, runOpts)
	},
}

func init() {
	runCmd.Flags().StringVarP(&runOpts.Input, "input", "i", "", "Read from this device or video file instead of the configured camera")
	runCmd.Flags().BoolVar(&runOpts.Loop, "loop", false, "Loop a file input forever")
	runCmd.Flags().StringSliceVarP(&runOpts.Outputs, "output", "o", nil, "Output backends in priority order, e.g. v4l2:/dev/video10,file:out.mp4")
	runCmd.Flags().BoolVar(&runOpts.NoOutput, "no-output", false, "Run without publishing frames (status server only)")
	runCmd.Flags().StringVar(&runOpts.StatusAddr, "status-addr", "", "Status server address, empty disables it (default from settings)")
	runCmd.Flags().BoolVar(&runOpts.Overlay, "overlay", false, "Publish the full frame with crop and faces drawn instead of the crop")
	rootCmd.AddCommand(runCmd)
}

// runLive wires camera → pipeline → output and blocks until Ctrl+C or the
// source ends. Shutdown runs in reverse dependency order.
func runLive(ctx context.Context, cfg *config.AppConfig, opts runOptions) error {
	log := logging.For("run")

	src := cfg.Source()
	if opts.Input != "" {
		src.Device = opts.Input
		src.Loop = opts.Loop
	}

	cam := capture.NewFFmpegCamera(src)
	slot := capture.NewLatestFrame()
	producer := capture.NewProducer(cam, slot)
	if err := producer.Start(ctx); err != nil {
		utils.ShowError("Failed to open camera "+src.Device, err, cam.Command())
		return err
	}
	w, h := cam.Size()

	out := openOutput(cfg, opts)

	sessionID := uuid.NewString()
	st, err := buildPipeline(ctx, cfg, w, h, out, pipeline.Options{
		SessionID:     sessionID,
		Overlay:       cfg.ShowCropOverlay,
		FrameInterval: 2 * time.Second / time.Duration(cfg.TargetFPS),
	})
	if err != nil {
		producer.Stop()
		stopOutput(out)
		utils.ShowError("Failed to build pipeline", err, nil)
		return err
	}

	sess := startSession(ctx, DB, sessionID, src.Device, cfg)
	sess.attach(st.pipe)

	var srv *server.Server
	if cfg.StatusAddr != "" {
		srv = server.New(st.pipe)
		go func() {
			if err := srv.Listen(cfg.StatusAddr); err != nil {
				log.WithError(err).Error("Status server stopped")
			}
		}()
	}

	log.WithFields(logging.Fields{"session": sessionID, "source": src.Device}).Info("Center stage running, Ctrl+C to stop")
	runErr := st.pipe.Run(ctx, slot, producer.Done())

	if srv != nil {
		if err := srv.Shutdown(); err != nil {
			log.WithError(err).Warn("Status server shutdown failed")
		}
	}
	producer.Stop()
	st.pipe.Close()
	sess.end(st.pipe.Status())
	stopOutput(out)
	st.close()

	if keepSettings(Cfg, st.engine.Config()) {
		cfgDirty = true
	}
	fmt.Println(st.pipe.Profiler().Summary())

	if errors.Is(runErr, pipeline.ErrSourceStopped) {
		if srcErr := producer.Err(); srcErr != nil && !errors.Is(srcErr, capture.ErrClosed) {
			utils.ShowError("Camera failed", srcErr, cam.Command())
			return srcErr
		}
		log.Info("Source ended")
		return nil
	}
	return runErr
}

// openOutput starts the first backend that works. A missing virtual camera
// is not fatal: the pipeline keeps running and the status server still shows
// the output.
func openOutput(cfg *config.AppConfig, opts runOptions) sink.Sink {
	if opts.NoOutput || (!cfg.VirtualCameraEnabled && len(opts.Outputs) == 0) {
		return nil
	}
	specs := opts.Outputs
	if len(specs) == 0 {
		specs = cfg.SinkBackends
	}

	log := logging.For("run")
	format := sink.Format{Width: cfg.OutputWidth, Height: cfg.OutputHeight, FPS: float64(cfg.TargetFPS)}
	var candidates []sink.Sink
	for _, spec := range specs {
		b, err := sink.ParseBackend(spec)
		if err != nil {
			log.WithError(err).Warn("Skipping output backend")
			continue
		}
		candidates = append(candidates, sink.NewAsync(sink.NewFFmpegSink(b, format)))
	}

	out, err := sink.StartFirst(candidates...)
	if err != nil {
		log.WithError(err).Warn("Continuing without output")
		return nil
	}
	return out
}

func stopOutput(out sink.Sink) {
	if out == nil {
		return
	}
	log := logging.For("run")
	if a, ok := out.(*sink.Async); ok {
		s := a.Stats()
		log.WithFields(logging.Fields{"sent": s.Sent, "dropped": s.Dropped, "failed": s.Failed}).Info("Output stopped")
	}
	if err := out.Stop(); err != nil {
		log.WithError(err).Warn("Output did not stop cleanly")
	}
}
