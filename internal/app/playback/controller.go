package playback

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// DefaultAutoHideDelay is the quiet period after which controls hide while playing.
const DefaultAutoHideDelay = 3000 * time.Millisecond

// Config holds controller configuration.
type Config struct {
	LessonID      string        // Key for progress reports
	AutoHideDelay time.Duration // Controls hide after this much inactivity
	Watermark     WatermarkSpec // Immutable for the controller's lifetime
}

// Deps are the collaborators a controller drives. Only Media is required.
type Deps struct {
	Media      MediaResource
	Fullscreen FullscreenTarget
	Progress   ProgressReporter
	Scheduler  Scheduler
}

// Controller is the single source of truth for one lesson view's playback.
// It owns its media resource and fullscreen target exclusively.
type Controller struct {
	// cmdMu serializes media commands so at most one request is in flight.
	cmdMu sync.Mutex
	mu    sync.RWMutex

	lessonID  string
	autoHide  time.Duration
	watermark WatermarkSpec

	state        PlaybackState
	controls     ControlsVisibility
	hideTimer    *hideTimer
	settingsOpen bool
	lastErr      error
	// confirmations counts play/pause reports from the media resource.
	confirmations uint64

	media      MediaResource
	fullscreen FullscreenTarget
	progress   ProgressReporter
	sched      Scheduler

	unsubscribe []func()
	eventCh     chan Event
	closed      bool
}

// New creates a controller and subscribes it to its collaborators' events.
// Call Close when the lesson view goes away or its source changes.
func New(cfg Config, deps Deps) (*Controller, error) {
	if deps.Media == nil {
		return nil, errors.New("media resource is required")
	}
	if cfg.LessonID == "" {
		return nil, errors.New("lesson id is required")
	}
	wm, err := NewWatermark(cfg.Watermark)
	if err != nil {
		return nil, err
	}
	if cfg.AutoHideDelay <= 0 {
		cfg.AutoHideDelay = DefaultAutoHideDelay
	}
	if deps.Scheduler == nil {
		deps.Scheduler = wallScheduler{}
	}

	c := &Controller{
		lessonID:   cfg.LessonID,
		autoHide:   cfg.AutoHideDelay,
		watermark:  wm,
		state:      initialPlaybackState(),
		controls:   ControlsVisibility{State: ControlsVisible},
		media:      deps.Media,
		fullscreen: deps.Fullscreen,
		progress:   deps.Progress,
		sched:      deps.Scheduler,
		eventCh:    make(chan Event, 32),
	}

	c.unsubscribe = append(c.unsubscribe, deps.Media.Observe(mediaEvents{c}))
	if deps.Fullscreen != nil {
		c.unsubscribe = append(c.unsubscribe, deps.Fullscreen.ObserveFullscreen(c.onFullscreenChange))
	}

	zlog.Debug().Str("lesson", c.lessonID).Msg("playback: controller created")
	return c, nil
}

// Events returns the event channel. It is closed by Close.
func (c *Controller) Events() <-chan Event {
	return c.eventCh
}

// LessonID returns the lesson this controller reports progress for.
func (c *Controller) LessonID() string {
	return c.lessonID
}

// Snapshot returns a copy of the state the presentation shell renders.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

// TogglePlay asks the media resource to pause if playing, play otherwise.
// IsPlaying changes only once the resource confirms the command.
func (c *Controller) TogglePlay(ctx context.Context) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	want := !c.state.IsPlaying
	c.state.RequestedPlaying = want
	seen := c.confirmations
	c.mu.Unlock()

	var err error
	command := "play"
	if want {
		err = c.media.Play(ctx)
	} else {
		command = "pause"
		err = c.media.Pause(ctx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if err != nil {
		c.state.RequestedPlaying = c.state.IsPlaying
		c.failLocked(&MediaCommandError{Command: command, Err: err})
		return
	}
	c.lastErr = nil
	if c.confirmations != seen {
		// The resource reported a state while the command was in flight.
		zlog.Debug().Bool("requested", want).Bool("playing", c.state.IsPlaying).Msg("playback: keeping reported state")
		return
	}
	c.setPlayingLocked(want)
}

// Seek jumps to targetPercentage of the duration. The position is updated
// before the resource confirms and rolled back if it refuses.
func (c *Controller) Seek(ctx context.Context, targetPercentage float64) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.state.DurationSeconds <= 0 || math.IsNaN(targetPercentage) {
		c.mu.Unlock()
		zlog.Debug().Err(ErrInvalidSeekTarget).Float64("target", targetPercentage).Msg("playback: seek ignored")
		return
	}
	target := clamp(targetPercentage, 0, 100) / 100 * c.state.DurationSeconds
	previous := c.state.CurrentTimeSeconds
	c.state.CurrentTimeSeconds = target
	c.sendEventLocked(Event{Type: EventTimeUpdated})
	c.mu.Unlock()

	err := c.media.SeekTo(ctx, target)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if err != nil {
		// A time update may already have superseded the optimistic value.
		if c.state.CurrentTimeSeconds == target {
			c.state.CurrentTimeSeconds = previous
			c.sendEventLocked(Event{Type: EventTimeUpdated})
		}
		c.failLocked(&MediaCommandError{Command: "seek", Err: err})
		return
	}
	c.lastErr = nil
}

// SetVolume sets the volume level in [0,1]; a level of 0 mutes.
func (c *Controller) SetVolume(ctx context.Context, level float64) {
	if math.IsNaN(level) {
		return
	}
	level = clamp(level, 0, 1)
	muted := level == 0

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return
	}
	previous := c.state.Volume
	c.mu.RUnlock()

	err := c.media.SetVolume(ctx, level)
	if err == nil {
		if err = c.media.SetMuted(ctx, muted); err != nil {
			if rerr := c.media.SetVolume(ctx, previous); rerr != nil {
				zlog.Warn().Err(rerr).Msg("playback: failed to restore volume")
			}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if err != nil {
		c.failLocked(&MediaCommandError{Command: "volume", Err: err})
		return
	}
	c.lastErr = nil
	c.state.Volume = level
	c.state.IsMuted = muted
	c.sendEventLocked(Event{Type: EventStateChanged})
}

// ToggleMute mutes, keeping the stored volume, or unmutes at full volume.
// Unmuting always restores 1.0 rather than the level before muting.
func (c *Controller) ToggleMute(ctx context.Context) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return
	}
	mute := !c.state.IsMuted
	c.mu.RUnlock()

	var err error
	if mute {
		err = c.media.SetMuted(ctx, true)
	} else if err = c.media.SetVolume(ctx, 1); err == nil {
		err = c.media.SetMuted(ctx, false)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if err != nil {
		c.failLocked(&MediaCommandError{Command: "mute", Err: err})
		return
	}
	c.lastErr = nil
	c.state.IsMuted = mute
	if !mute {
		c.state.Volume = 1
	}
	c.sendEventLocked(Event{Type: EventStateChanged})
}

// SetPlaybackRate applies one of Rates and closes the settings menu.
func (c *Controller) SetPlaybackRate(ctx context.Context, rate float64) {
	if !IsAllowedRate(rate) {
		zlog.Warn().Err(ErrInvalidPlaybackRate).Float64("rate", rate).Msg("playback: rate ignored")
		return
	}

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return
	}

	err := c.media.SetPlaybackRate(ctx, rate)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.settingsOpen {
		c.settingsOpen = false
		c.sendEventLocked(Event{Type: EventSettingsChanged})
	}
	if err != nil {
		c.failLocked(&MediaCommandError{Command: "rate", Err: err})
		return
	}
	c.lastErr = nil
	c.state.PlaybackRate = rate
	c.sendEventLocked(Event{Type: EventStateChanged})
}

// ToggleSettings opens or closes the settings menu.
func (c *Controller) ToggleSettings() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.settingsOpen = !c.settingsOpen
	c.sendEventLocked(Event{Type: EventSettingsChanged})
}

// ToggleFullscreen asks the fullscreen target to enter or leave fullscreen.
// IsFullscreen is left alone; it follows the platform's notification.
func (c *Controller) ToggleFullscreen(ctx context.Context) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return
	}
	enter := !c.state.IsFullscreen
	c.mu.RUnlock()

	err := ErrNoFullscreenTarget
	if c.fullscreen != nil {
		if enter {
			err = c.fullscreen.RequestFullscreen(ctx)
		} else {
			err = c.fullscreen.ExitFullscreen(ctx)
		}
	}
	if err == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.failLocked(&FullscreenTransitionError{Enter: enter, Err: err})
}

// Close tears the controller down: the hide timer is cancelled, every
// subscription is released, the progress reporter is stopped and the event
// channel is closed. Nothing mutates the controller afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cancelHideLocked()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	close(c.eventCh)
	c.mu.Unlock()

	for _, cancel := range unsubscribe {
		cancel()
	}
	if c.progress != nil {
		c.progress.Close()
	}
	zlog.Debug().Str("lesson", c.lessonID).Msg("playback: controller closed")
}

// mediaEvents keeps the observer callbacks off the controller's public API.
type mediaEvents struct{ c *Controller }

func (m mediaEvents) OnTimeUpdate(seconds float64)      { m.c.onTimeUpdate(seconds) }
func (m mediaEvents) OnMetadataLoaded(duration float64) { m.c.onMetadataLoaded(duration) }
func (m mediaEvents) OnEnded()                          { m.c.onEnded() }
func (m mediaEvents) OnPlayingChanged(playing bool)     { m.c.onPlayingChanged(playing) }

func (c *Controller) onTimeUpdate(seconds float64) {
	if !isFinite(seconds) {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	seconds = math.Max(seconds, 0)
	if c.state.DurationSeconds > 0 {
		seconds = math.Min(seconds, c.state.DurationSeconds)
	}
	c.state.CurrentTimeSeconds = seconds
	// Computed from this event's own position, not the previously stored one.
	percentage := Percentage(seconds, c.state.DurationSeconds)
	c.sendEventLocked(Event{Type: EventTimeUpdated})
	reporter := c.progress
	c.mu.Unlock()

	if reporter != nil {
		reporter.Report(c.lessonID, percentage)
	}
}

func (c *Controller) onMetadataLoaded(duration float64) {
	if !isFinite(duration) || duration < 0 {
		duration = 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.state.DurationSeconds = duration
	if duration > 0 && c.state.CurrentTimeSeconds > duration {
		c.state.CurrentTimeSeconds = duration
	}
	c.sendEventLocked(Event{Type: EventTimeUpdated})
}

func (c *Controller) onEnded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.confirmations++
	c.setPlayingLocked(false)
	c.sendEventLocked(Event{Type: EventEnded})
}

func (c *Controller) onPlayingChanged(playing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.confirmations++
	c.setPlayingLocked(playing)
}

func (c *Controller) onFullscreenChange(active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.state.IsFullscreen == active {
		return
	}
	c.state.IsFullscreen = active
	c.sendEventLocked(Event{Type: EventFullscreenChanged})
}

// setPlayingLocked commits a confirmed play/pause state.
// Must be called with lock held.
func (c *Controller) setPlayingLocked(playing bool) {
	c.state.RequestedPlaying = playing
	if c.state.IsPlaying == playing {
		return
	}
	c.state.IsPlaying = playing
	if playing {
		c.armHideLocked()
	} else {
		c.forceVisibleLocked()
	}
	c.sendEventLocked(Event{Type: EventStateChanged})
}

// failLocked records and publishes a PlaybackError.
// Must be called with lock held.
func (c *Controller) failLocked(err error) {
	c.lastErr = err
	zlog.Warn().Err(err).Str("lesson", c.lessonID).Msg("playback: command failed")
	c.sendEventLocked(Event{Type: EventError, Err: err})
}

func (c *Controller) snapshotLocked() Snapshot {
	s := Snapshot{
		LessonID:     c.lessonID,
		Playback:     c.state,
		Controls:     c.controls,
		Watermark:    c.watermark,
		SettingsOpen: c.settingsOpen,
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

// sendEventLocked stamps e with the current snapshot and sends it without blocking.
// Must be called with lock held.
func (c *Controller) sendEventLocked(e Event) {
	if c.closed {
		return
	}
	e.Snapshot = c.snapshotLocked()
	select {
	case c.eventCh <- e:
	default:
		// Channel full, drop event; the next one carries a fresh snapshot.
	}
}
