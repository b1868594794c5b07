package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/andresmejia3/centerstage/internal/capture"
	"github.com/andresmejia3/centerstage/internal/pipeline"
	"github.com/andresmejia3/centerstage/internal/sink"
	"github.com/andresmejia3/centerstage/internal/types"
	"github.com/andresmejia3/centerstage/internal/utils"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

type processOptions struct {
	Input      string
	Output     string
	Overlay    bool
	EveryFrame bool
}

var processOpts processOptions

var processCmd = &cobra.Command{
	Use:         "process",
	Short:       "Apply center stage framing to a recorded video",
	Annotations: map[string]string{dbAnnotation: dbOptional},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProcess(cmd.Context(), processOpts)
	},
}

func init() {
	processCmd.Flags().StringVarP(&processOpts.Input, "input", "i", "", "Path to input video")
	processCmd.Flags().StringVarP(&processOpts.Output, "output", "o", "framed.mp4", "Path to output video")
	processCmd.Flags().BoolVar(&processOpts.Overlay, "overlay", false, "Render the full frame with crop and faces drawn")
	processCmd.Flags().BoolVar(&processOpts.EveryFrame, "every-frame", false, "Run the detector on every frame instead of the configured interval")

	processCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(processCmd)
}

func runProcess(ctx context.Context, opts processOptions) error {
	// Child processes (ffmpeg, detector worker) die with this context on early return.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := validateProcessFlags(opts); err != nil {
		utils.ShowError("Invalid arguments", err, nil)
		return err
	}

	fps, err := utils.GetVideoFPS(ctx, opts.Input)
	if err != nil {
		utils.ShowError("Failed to determine video FPS", err, nil)
		return err
	}
	totalFrames := utils.GetTotalFrames(ctx, opts.Input)

	cam := capture.NewFFmpegCamera(capture.Source{Device: opts.Input, Batch: true})
	if err := cam.Open(ctx); err != nil {
		utils.ShowError("Failed to open input", err, cam.Command())
		return err
	}
	defer cam.Close()
	w, h := cam.Size()

	cfg := *Cfg
	if opts.EveryFrame {
		cfg.DetectionInterval = 1
	}

	// Offline output is written synchronously: every frame must reach the file.
	out := sink.NewFFmpegSink(
		sink.Backend{Kind: sink.KindFile, Target: opts.Output},
		sink.Format{Width: cfg.OutputWidth, Height: cfg.OutputHeight, FPS: fps},
	)
	if err := out.Start(); err != nil {
		utils.ShowError("Failed to start encoder", err, nil)
		return err
	}

	sessionID := uuid.NewString()
	st, err := buildPipeline(ctx, &cfg, w, h, out, pipeline.Options{SessionID: sessionID, Overlay: opts.Overlay})
	if err != nil {
		out.Stop()
		utils.ShowError("Failed to build pipeline", err, nil)
		return err
	}
	defer st.close()

	sess := startSession(ctx, DB, sessionID, opts.Input, &cfg)
	sess.attach(st.pipe)

	var barTotal int64 = int64(totalFrames)
	if barTotal <= 0 {
		barTotal = -1 // Trigger spinner mode
	}
	bar := progressbar.NewOptions64(barTotal,
		progressbar.OptionSetDescription("🎬 Framing"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
	)

	start := time.Now()
	frames, procErr := processFrames(ctx, cam, st.pipe, func(types.Frame) { bar.Add(1) })
	bar.Finish()

	st.pipe.Close()
	sess.end(st.pipe.Status())
	stopErr := out.Stop()

	if procErr != nil {
		utils.ShowError("Processing failed", procErr, cam.Command())
		return procErr
	}
	if stopErr != nil {
		utils.ShowError("Encoder failed", stopErr, nil)
		return stopErr
	}

	status := st.pipe.Status()
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🏁 Wrote %s\n", opts.Output)
	fmt.Fprintf(os.Stderr, "   Frames:          %d (%.1f fps)\n", frames, float64(frames)/time.Since(start).Seconds())
	fmt.Fprintf(os.Stderr, "   Detector runs:   %d\n", status.Detections)
	fmt.Fprintf(os.Stderr, "   Dropped writes:  %d\n", status.SendFailures)
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
	fmt.Fprintln(os.Stderr, st.pipe.Profiler().Summary())
	return nil
}

// processFrames feeds every frame of cam through pipe in order until the
// source ends. onFrame runs after each cycle.
func processFrames(ctx context.Context, cam capture.Camera, pipe *pipeline.Pipeline, onFrame func(types.Frame)) (int, error) {
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		img, err := cam.Read()
		if errors.Is(err, capture.ErrClosed) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("read frame %d: %w", n+1, err)
		}
		n++
		frame := types.Frame{Index: n, Image: img, Captured: time.Now()}
		pipe.Step(frame)
		if onFrame != nil {
			onFrame(frame)
		}
	}
}

// validateProcessFlags checks paths before any process is started.
func validateProcessFlags(opts processOptions) error {
	info, err := os.Stat(opts.Input)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("input file does not exist: %w", err)
		}
		return fmt.Errorf("unable to access input file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("input path %s is a directory, expected a video file", opts.Input)
	}
	if opts.Output == "" {
		return fmt.Errorf("output path is required")
	}

	// Writing over the input corrupts it mid-read.
	inAbs, _ := filepath.Abs(opts.Input)
	outAbs, _ := filepath.Abs(opts.Output)
	if inAbs == outAbs {
		return fmt.Errorf("input and output paths must be different")
	}
	return nil
}
