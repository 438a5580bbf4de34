package playback

// EventType represents a controller event type.
type EventType int

const (
	EventStateChanged      EventType = iota // Play/pause confirmed, volume, mute or rate changed
	EventTimeUpdated                        // Position or duration changed
	EventControlsChanged                    // Controls shown or hidden
	EventSettingsChanged                    // Settings menu opened or closed
	EventFullscreenChanged                  // Platform confirmed a fullscreen transition
	EventEnded                              // Media reached its end
	EventError                              // A PlaybackError was surfaced
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventStateChanged:
		return "state_changed"
	case EventTimeUpdated:
		return "time_updated"
	case EventControlsChanged:
		return "controls_changed"
	case EventSettingsChanged:
		return "settings_changed"
	case EventFullscreenChanged:
		return "fullscreen_changed"
	case EventEnded:
		return "ended"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event carries the snapshot taken right after the change it describes.
type Event struct {
	Type     EventType
	Snapshot Snapshot
	Err      error // set for EventError
}
