// Package framing turns face observations into a smoothly moving crop region.
package framing

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

type Mode string

const (
	ModeSingle  Mode = "single"  // the most confident face
	ModeAll     Mode = "all"     // every face
	ModeClosest Mode = "closest" // the largest face
)

func (m Mode) Valid() bool {
	switch m {
	case ModeSingle, ModeAll, ModeClosest:
		return true
	}
	return false
}

func ParseMode(s string) (Mode, error) {
	if m := Mode(strings.ToLower(strings.TrimSpace(s))); m.Valid() {
		return m, nil
	}
	return "", fmt.Errorf("unknown framing mode %q (want single, all or closest)", s)
}

// Config holds the engine tuning. AspectRatio is width/height in normalized
// frame units.
type Config struct {
	Smoothing          float64 `json:"smoothing" validate:"gt=0,lte=1"`
	ZoomSmoothingScale float64 `json:"zoom_smoothing_scale" validate:"gt=0,lte=1"`
	Easing             bool    `json:"easing"`
	DeadZone           float64 `json:"dead_zone" validate:"gte=0,lt=1"`
	MinZoom            float64 `json:"min_zoom" validate:"gte=1"`
	MaxZoom            float64 `json:"max_zoom" validate:"gtefield=MinZoom"`
	FacePadding        float64 `json:"face_padding" validate:"gte=0,lte=2"`
	AspectRatio        float64 `json:"aspect_ratio" validate:"gt=0"`
	Mode               Mode    `json:"mode" validate:"oneof=single all closest"`
	FramesUntilReset   int     `json:"frames_until_reset" validate:"gte=0"`
	Enabled            bool    `json:"enabled"`
}

func DefaultConfig() Config {
	return Config{
		Smoothing:          0.08,
		ZoomSmoothingScale: 0.7,
		DeadZone:           0.015,
		MinZoom:            1.0,
		MaxZoom:            2.5,
		FacePadding:        0.35,
		AspectRatio:        16.0 / 9.0,
		Mode:               ModeAll,
		FramesUntilReset:   60,
		Enabled:            true,
	}
}

var validate = validator.New()

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid framing config: %w", err)
	}
	return nil
}

// Smoothing bounds accepted at runtime.
const (
	MinSmoothing = 0.01
	MaxSmoothing = 0.5
)
