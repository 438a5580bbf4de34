package playback

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

// WatermarkPosition is the corner the watermark is pinned to.
type WatermarkPosition string

const (
	TopLeft     WatermarkPosition = "top-left"
	TopRight    WatermarkPosition = "top-right"
	BottomLeft  WatermarkPosition = "bottom-left"
	BottomRight WatermarkPosition = "bottom-right"
)

// WatermarkSpec is the overlay text drawn over the video. It is rendered
// verbatim and stays on screen regardless of controls visibility.
type WatermarkSpec struct {
	Text     string            `yaml:"text" mapstructure:"text"`
	Position WatermarkPosition `yaml:"position" mapstructure:"position" default:"bottom-right" validate:"oneof=top-left top-right bottom-left bottom-right"`
	// A zero opacity is treated as unset and falls back to the default.
	Opacity float64 `yaml:"opacity" mapstructure:"opacity" default:"0.7" validate:"gte=0,lte=1"`
}

// NewWatermark fills defaults and validates the overlay settings.
func NewWatermark(spec WatermarkSpec) (WatermarkSpec, error) {
	if err := defaults.Set(&spec); err != nil {
		return WatermarkSpec{}, errors.Wrap(err, "failed to set watermark defaults")
	}
	if err := validator.New().Struct(spec); err != nil {
		return WatermarkSpec{}, errors.Wrap(err, "invalid watermark")
	}
	return spec, nil
}

// ComposeWatermarkText builds the traceability text shown on lessons:
// the viewer identity followed by the viewing date.
func ComposeWatermarkText(viewer string, at time.Time, layout string) string {
	if layout == "" {
		layout = time.DateOnly
	}
	viewer = strings.TrimSpace(viewer)
	date := at.Format(layout)
	if viewer == "" {
		return date
	}
	return viewer + " • " + date
}
