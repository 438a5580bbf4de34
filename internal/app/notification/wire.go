package notification

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/mitchellh/mapstructure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/osa030/lessonbox/internal/app/playback"
)

// Event names carried in the "event" field besides playback.EventType values.
const (
	EventSnapshot     = "snapshot"
	EventLessonOpened = "lesson_opened"
	EventLessonClosed = "lesson_closed"
)

// WireSnapshot is the flat form of playback.Snapshot sent to shells.
type WireSnapshot struct {
	Event      string  `mapstructure:"event,omitempty"`
	SequenceNo float64 `mapstructure:"sequence_no,omitempty"`

	LessonID string `mapstructure:"lesson_id"`

	CurrentTime      float64 `mapstructure:"current_time"`
	CurrentTimeText  string  `mapstructure:"current_time_text"`
	Duration         float64 `mapstructure:"duration"`
	DurationText     string  `mapstructure:"duration_text"`
	Percentage       float64 `mapstructure:"percentage"`
	IsPlaying        bool    `mapstructure:"is_playing"`
	RequestedPlaying bool    `mapstructure:"requested_playing"`
	Volume           float64 `mapstructure:"volume"`
	EffectiveVolume  float64 `mapstructure:"effective_volume"`
	IsMuted          bool    `mapstructure:"is_muted"`
	PlaybackRate     float64 `mapstructure:"playback_rate"`
	IsFullscreen     bool    `mapstructure:"is_fullscreen"`

	ControlsVisible bool   `mapstructure:"controls_visible"`
	ControlsState   string `mapstructure:"controls_state"`
	HideDeadline    string `mapstructure:"hide_deadline"` // RFC 3339, empty when none

	WatermarkText     string  `mapstructure:"watermark_text"`
	WatermarkPosition string  `mapstructure:"watermark_position"`
	WatermarkOpacity  float64 `mapstructure:"watermark_opacity"`

	SettingsOpen bool   `mapstructure:"settings_open"`
	LastError    string `mapstructure:"last_error"`
}

// FromSnapshot flattens a controller snapshot.
func FromSnapshot(event string, s playback.Snapshot) WireSnapshot {
	w := WireSnapshot{
		Event:             event,
		LessonID:          s.LessonID,
		CurrentTime:       s.Playback.CurrentTimeSeconds,
		CurrentTimeText:   playback.FormatTime(s.Playback.CurrentTimeSeconds),
		Duration:          s.Playback.DurationSeconds,
		DurationText:      playback.FormatTime(s.Playback.DurationSeconds),
		Percentage:        s.Playback.Percentage(),
		IsPlaying:         s.Playback.IsPlaying,
		RequestedPlaying:  s.Playback.RequestedPlaying,
		Volume:            s.Playback.Volume,
		EffectiveVolume:   s.Playback.EffectiveVolume(),
		IsMuted:           s.Playback.IsMuted,
		PlaybackRate:      s.Playback.PlaybackRate,
		IsFullscreen:      s.Playback.IsFullscreen,
		ControlsVisible:   s.Controls.Visible(),
		ControlsState:     s.Controls.State.String(),
		WatermarkText:     s.Watermark.Text,
		WatermarkPosition: string(s.Watermark.Position),
		WatermarkOpacity:  s.Watermark.Opacity,
		SettingsOpen:      s.SettingsOpen,
		LastError:         s.LastError,
	}
	if !s.Controls.PendingHideDeadline.IsZero() {
		w.HideDeadline = s.Controls.PendingHideDeadline.Format(time.RFC3339Nano)
	}
	return w
}

// Encode converts a snapshot into a protobuf Struct.
func Encode(event string, s playback.Snapshot) (*structpb.Struct, error) {
	var fields map[string]any
	if err := mapstructure.Decode(FromSnapshot(event, s), &fields); err != nil {
		return nil, errors.Wrap(err, "failed to flatten snapshot")
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build snapshot struct")
	}
	return st, nil
}

// Decode reads a snapshot Struct produced by Encode.
func Decode(st *structpb.Struct) (WireSnapshot, error) {
	var w WireSnapshot
	if st == nil {
		return w, errors.New("empty snapshot")
	}
	if err := mapstructure.Decode(st.AsMap(), &w); err != nil {
		return WireSnapshot{}, errors.Wrap(err, "failed to decode snapshot")
	}
	return w, nil
}

// EventMessage builds a notification without a snapshot, such as lesson_closed.
func EventMessage(event string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"event": structpb.NewStringValue(event),
	}}
}
