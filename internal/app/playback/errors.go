package playback

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Errors
var (
	ErrClosed              = errors.New("controller is closed")
	ErrInvalidSeekTarget   = errors.New("seek requested before duration is known")
	ErrInvalidPlaybackRate = errors.New("playback rate not allowed")
	ErrNoFullscreenTarget  = errors.New("no fullscreen target")
)

// MediaCommandError reports a transport command rejected by the media resource.
type MediaCommandError struct {
	Command string
	Err     error
}

func (e *MediaCommandError) Error() string {
	return fmt.Sprintf("media command %s failed: %v", e.Command, e.Err)
}

func (e *MediaCommandError) Unwrap() error { return e.Err }

// FullscreenTransitionError reports a rejected fullscreen request.
type FullscreenTransitionError struct {
	Enter bool
	Err   error
}

func (e *FullscreenTransitionError) Error() string {
	dir := "exit"
	if e.Enter {
		dir = "enter"
	}
	return fmt.Sprintf("fullscreen %s rejected: %v", dir, e.Err)
}

func (e *FullscreenTransitionError) Unwrap() error { return e.Err }
