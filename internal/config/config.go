// Package config loads and persists the user settings file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/andresmejia3/centerstage/internal/capture"
	"github.com/andresmejia3/centerstage/internal/detector"
	"github.com/andresmejia3/centerstage/internal/framing"
	"github.com/andresmejia3/centerstage/internal/tracker"
	"github.com/go-playground/validator/v10"
)

var (
	// ErrCorrupt means the settings file exists but could not be parsed;
	// defaults are returned alongside it.
	ErrCorrupt = errors.New("settings file is corrupt")
	ErrInvalid = errors.New("invalid settings")
	ErrUnknown = errors.New("unknown setting")
)

const maxFileSize = 1 << 20

// AppConfig is the persisted settings document.
type AppConfig struct {
	// Camera
	CameraIndex  int    `json:"camera_index" validate:"gte=0"`
	CameraDevice string `json:"camera_device"` // overrides camera_index, may be a file
	Width        int    `json:"resolution_width" validate:"gt=0"`
	Height       int    `json:"resolution_height" validate:"gt=0"`
	TargetFPS    int    `json:"target_fps" validate:"gt=0,lte=240"`

	// Output
	OutputWidth          int      `json:"output_width" validate:"gt=0"`
	OutputHeight         int      `json:"output_height" validate:"gt=0"`
	ResizeQuality        string   `json:"resize_quality" validate:"oneof=bilinear nearest"`
	VirtualCameraEnabled bool     `json:"virtual_camera_enabled"`
	SinkBackends         []string `json:"sink_backends" validate:"dive,required"`
	ShowCropOverlay      bool     `json:"show_crop_overlay"`

	// Framing
	CenterStageEnabled bool    `json:"center_stage_enabled"`
	Smoothing          float64 `json:"smoothing" validate:"gte=0.01,lte=0.5"`
	ZoomSmoothingScale float64 `json:"zoom_smoothing_scale" validate:"gt=0,lte=1"`
	Easing             bool    `json:"easing"`
	DeadZone           float64 `json:"dead_zone" validate:"gte=0,lt=1"`
	MinZoom            float64 `json:"min_zoom" validate:"gte=1"`
	MaxZoom            float64 `json:"max_zoom" validate:"gtefield=MinZoom"`
	FacePadding        float64 `json:"face_padding" validate:"gte=0,lte=2"`
	AspectRatio        float64 `json:"aspect_ratio" validate:"gt=0"`
	FramingMode        string  `json:"framing_mode" validate:"oneof=single all closest"`
	FramesUntilReset   int     `json:"frames_until_reset" validate:"gte=0"`

	// Detection
	DetectorBackend     string   `json:"detector_backend" validate:"oneof=pigo worker"`
	CascadePath         string   `json:"cascade_path"`
	WorkerCommand       []string `json:"worker_command"`
	DetectionInterval   int      `json:"detection_interval" validate:"gte=1"`
	DetectionWidth      int      `json:"detection_width" validate:"gte=64"`
	DetectionConfidence float64  `json:"detection_confidence" validate:"gte=0,lte=1"`
	MaxFaces            int      `json:"max_faces" validate:"gte=1,lte=32"`

	// Tracking
	TrackerEnabled   bool    `json:"tracker_enabled"`
	TrackerPredictor string  `json:"tracker_predictor" validate:"oneof=none velocity template"`
	IoUThreshold     float64 `json:"iou_threshold" validate:"gt=0,lte=1"`
	MaxFramesLost    int     `json:"max_frames_lost" validate:"gte=1"`

	// Confidence of a coasting track drops by TrackDecayRate per missed
	// detection, never below TrackMinConfidence.
	TrackDecayRate     float64 `json:"track_decay_rate" validate:"gte=0,lte=1"`
	TrackMinConfidence float64 `json:"track_min_confidence" validate:"gte=0,lte=1"`

	// Status server; empty disables it
	StatusAddr string `json:"status_addr"`
}

func Default() *AppConfig {
	fc := framing.DefaultConfig()
	dc := detector.DefaultCacheOptions()
	tc := tracker.DefaultConfig()
	return &AppConfig{
		CameraIndex: 0,
		Width:       1280,
		Height:      720,
		TargetFPS:   30,

		OutputWidth:          1280,
		OutputHeight:         720,
		ResizeQuality:        "bilinear",
		VirtualCameraEnabled: true,
		SinkBackends:         []string{"v4l2:/dev/video10"},

		CenterStageEnabled: fc.Enabled,
		Smoothing:          fc.Smoothing,
		ZoomSmoothingScale: fc.ZoomSmoothingScale,
		DeadZone:           fc.DeadZone,
		MinZoom:            fc.MinZoom,
		MaxZoom:            fc.MaxZoom,
		FacePadding:        fc.FacePadding,
		AspectRatio:        fc.AspectRatio,
		FramingMode:        string(fc.Mode),
		FramesUntilReset:   fc.FramesUntilReset,

		DetectorBackend:     "pigo",
		CascadePath:         detector.DefaultPigoOptions().CascadePath,
		WorkerCommand:       []string{"python3", "-u", "python/detector.py"},
		DetectionInterval:   dc.Interval,
		DetectionWidth:      detector.DefaultPigoOptions().DetectWidth,
		DetectionConfidence: dc.MinConfidence,
		MaxFaces:            dc.MaxFaces,

		TrackerEnabled:   true,
		TrackerPredictor: "velocity",
		IoUThreshold:     tc.IoUThreshold,
		MaxFramesLost:    tc.MaxFramesLost,

		TrackDecayRate:     tc.DecayRate,
		TrackMinConfidence: tc.MinConfidence,

		StatusAddr: "127.0.0.1:8765",
	}
}

// DefaultPath is ~/.centerstage/config.json.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".centerstage", "config.json")
	}
	return filepath.Join(home, ".centerstage", "config.json")
}

var validate = validator.New()

func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if c.DetectorBackend == "worker" && len(c.WorkerCommand) == 0 {
		return fmt.Errorf("%w: worker_command is empty", ErrInvalid)
	}
	return nil
}

// Load reads path. A missing file yields defaults. A file that cannot be
// parsed or fails validation yields defaults together with ErrCorrupt or
// ErrInvalid so the caller can warn and carry on. Fields absent from the file
// keep their defaults.
func Load(path string) (*AppConfig, error) {
	cfg := Default()
	clean := filepath.Clean(path)

	info, err := os.Stat(clean)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat settings file: %w", err)
	}
	if info.Size() > maxFileSize {
		return Default(), fmt.Errorf("%w: file too large (%d bytes)", ErrCorrupt, info.Size())
	}

	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return Default(), fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := cfg.Validate(); err != nil {
		return Default(), err
	}
	return cfg, nil
}

// Save writes indented JSON, creating the parent directory.
func (c *AppConfig) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return os.Rename(tmp, path)
}

// Keys lists every settable key in sorted order.
func (c *AppConfig) Keys() []string {
	m, _ := c.asMap()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Set assigns one key from its string form. The value is parsed according to
// the current type of the field; lists take comma-separated items. The
// result must validate or nothing changes.
func (c *AppConfig) Set(key, value string) error {
	m, err := c.asMap()
	if err != nil {
		return err
	}
	cur, ok := m[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknown, key)
	}

	var parsed interface{}
	switch cur.(type) {
	case bool:
		parsed, err = strconv.ParseBool(value)
	case float64:
		parsed, err = strconv.ParseFloat(value, 64)
	case []interface{}, nil:
		var items []string
		for _, s := range strings.Split(value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				items = append(items, s)
			}
		}
		parsed = items
	default:
		parsed = value
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
	}
	m[key] = parsed

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	var next AppConfig
	if err := json.Unmarshal(data, &next); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}

func (c *AppConfig) asMap() (map[string]interface{}, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	return m, json.Unmarshal(data, &m)
}

// Device is the capture source path, from camera_device or camera_index.
func (c *AppConfig) Device() string {
	if c.CameraDevice != "" {
		return c.CameraDevice
	}
	return capture.DevicePath(c.CameraIndex)
}

// Source builds the capture description.
func (c *AppConfig) Source() capture.Source {
	return capture.Source{Device: c.Device(), Width: c.Width, Height: c.Height, FPS: c.TargetFPS}
}

// FramingConfig converts to engine tuning for frames of the given size. The
// configured aspect ratio is the pixel aspect of the output; the engine works
// in normalized units, so it is divided by the frame's own aspect.
func (c *AppConfig) FramingConfig(frameW, frameH int) framing.Config {
	aspect := c.AspectRatio
	if frameW > 0 && frameH > 0 {
		aspect = c.AspectRatio * float64(frameH) / float64(frameW)
	}
	return framing.Config{
		Smoothing:          c.Smoothing,
		ZoomSmoothingScale: c.ZoomSmoothingScale,
		Easing:             c.Easing,
		DeadZone:           c.DeadZone,
		MinZoom:            c.MinZoom,
		MaxZoom:            c.MaxZoom,
		FacePadding:        c.FacePadding,
		AspectRatio:        aspect,
		Mode:               framing.Mode(c.FramingMode),
		FramesUntilReset:   c.FramesUntilReset,
		Enabled:            c.CenterStageEnabled,
	}
}

func (c *AppConfig) CacheOptions() detector.CacheOptions {
	return detector.CacheOptions{
		Interval:      c.DetectionInterval,
		MaxFaces:      c.MaxFaces,
		MinConfidence: c.DetectionConfidence,
	}
}

func (c *AppConfig) PigoOptions() detector.PigoOptions {
	opts := detector.DefaultPigoOptions()
	opts.CascadePath = c.CascadePath
	opts.DetectWidth = c.DetectionWidth
	return opts
}

func (c *AppConfig) TrackerConfig() (tracker.Config, error) {
	cfg := tracker.DefaultConfig()
	cfg.IoUThreshold = c.IoUThreshold
	cfg.MaxFramesLost = c.MaxFramesLost
	cfg.DecayRate = c.TrackDecayRate
	cfg.MinConfidence = c.TrackMinConfidence
	newPredictor, err := tracker.NewPredictorFunc(c.TrackerPredictor)
	if err != nil {
		return cfg, err
	}
	cfg.NewPredictor = newPredictor
	return cfg, nil
}
