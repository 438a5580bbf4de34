// Package playback provides the lesson video playback controller.
package playback

import (
	"fmt"
	"math"
	"time"
)

// Rates lists the playback rates offered by the settings menu.
var Rates = []float64{0.5, 0.75, 1, 1.25, 1.5, 2}

// IsAllowedRate reports whether rate is one of Rates.
func IsAllowedRate(rate float64) bool {
	for _, r := range Rates {
		if r == rate {
			return true
		}
	}
	return false
}

// PlaybackState is the transport state of one lesson view.
type PlaybackState struct {
	CurrentTimeSeconds float64
	DurationSeconds    float64 // 0 until metadata is loaded
	IsPlaying          bool    // confirmed by the media resource
	RequestedPlaying   bool    // last play/pause intent
	Volume             float64
	IsMuted            bool
	PlaybackRate       float64
	IsFullscreen       bool // only ever set from platform notifications
}

// EffectiveVolume is the audible level: 0 while muted, Volume otherwise.
func (s PlaybackState) EffectiveVolume() float64 {
	if s.IsMuted {
		return 0
	}
	return s.Volume
}

// Percentage returns the watched share of the lesson in [0,100].
func (s PlaybackState) Percentage() float64 {
	return Percentage(s.CurrentTimeSeconds, s.DurationSeconds)
}

// Percentage converts a position into a progress percentage clamped to
// [0,100]. It is 0 while the duration is unknown.
func Percentage(seconds, duration float64) float64 {
	if duration <= 0 || !isFinite(duration) || !isFinite(seconds) {
		return 0
	}
	return clamp(seconds/duration*100, 0, 100)
}

func initialPlaybackState() PlaybackState {
	return PlaybackState{
		Volume:       1,
		PlaybackRate: 1,
	}
}

// ControlsState is the phase of the controls visibility machine.
type ControlsState int

const (
	ControlsVisible     ControlsState = iota // Shown, no hide pending
	ControlsHidingArmed                      // Shown, auto-hide timer pending
	ControlsHidden                           // Hidden while playing
)

// String returns the string representation of the controls state.
func (s ControlsState) String() string {
	switch s {
	case ControlsVisible:
		return "visible"
	case ControlsHidingArmed:
		return "hiding_armed"
	case ControlsHidden:
		return "hidden"
	default:
		return "unknown"
	}
}

// ControlsVisibility is what the presentation shell needs to show or hide
// the transport controls.
type ControlsVisibility struct {
	State               ControlsState
	PendingHideDeadline time.Time // zero when no hide is pending
}

// Visible reports whether the controls are on screen.
func (v ControlsVisibility) Visible() bool {
	return v.State != ControlsHidden
}

// Snapshot is a read-only copy of everything the presentation shell renders.
type Snapshot struct {
	LessonID     string
	Playback     PlaybackState
	Controls     ControlsVisibility
	Watermark    WatermarkSpec
	SettingsOpen bool
	LastError    string // last surfaced PlaybackError, empty when none
}

// FormatTime renders seconds as m:ss.
func FormatTime(seconds float64) string {
	if !isFinite(seconds) || seconds < 0 {
		seconds = 0
	}
	minutes := int(seconds) / 60
	secs := int(math.Mod(seconds, 60))
	return fmt.Sprintf("%d:%02d", minutes, secs)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
