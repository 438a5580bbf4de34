package playback

import (
	"context"
	"time"
)

// MediaObserver receives lifecycle events from a MediaResource. Callbacks may
// arrive on any goroutine.
type MediaObserver interface {
	OnTimeUpdate(seconds float64)
	OnMetadataLoaded(durationSeconds float64)
	OnEnded()
	// OnPlayingChanged reports a play/pause transition the resource performed,
	// whether or not the controller asked for it.
	OnPlayingChanged(playing bool)
}

// MediaResource is the decodable video driven by the controller. A command
// returning nil is the completion signal the controller commits state on.
type MediaResource interface {
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	SeekTo(ctx context.Context, seconds float64) error
	SetVolume(ctx context.Context, level float64) error
	SetMuted(ctx context.Context, muted bool) error
	SetPlaybackRate(ctx context.Context, rate float64) error

	// Observe registers o and returns the function that unregisters it.
	Observe(o MediaObserver) (cancel func())
}

// FullscreenTarget is the presentation container that can enter fullscreen.
// Transitions are asynchronous: a nil error only means the request was
// accepted, the outcome arrives through the observed callback.
type FullscreenTarget interface {
	RequestFullscreen(ctx context.Context) error
	ExitFullscreen(ctx context.Context) error
	ObserveFullscreen(fn func(active bool)) (cancel func())
}

// ProgressReporter forwards progress to the Progress Sink without blocking.
type ProgressReporter interface {
	Report(lessonID string, percentage float64)
	Close()
}

// Timer is a pending deferred action.
type Timer interface {
	Stop() bool
}

// Scheduler creates deferred actions.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type wallScheduler struct{}

func (wallScheduler) Now() time.Time { return time.Now() }

func (wallScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
