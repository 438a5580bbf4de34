package playback

import "time"

// hideTimer is the owned handle of the single pending auto-hide action.
type hideTimer struct {
	timer Timer
}

// NotifyActivity reports pointer movement: controls are shown and, while
// playing, the auto-hide timer is re-armed (debounce).
func (c *Controller) NotifyActivity() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	before := c.controls.State
	if c.state.IsPlaying {
		c.armHideLocked()
	} else {
		c.forceVisibleLocked()
	}
	if c.controls.State != before {
		c.sendEventLocked(Event{Type: EventControlsChanged})
	}
}

// NotifyLeave reports the pointer leaving the player. Controls hide at once
// while playing and are left alone otherwise.
func (c *Controller) NotifyLeave() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !c.state.IsPlaying {
		return
	}
	c.cancelHideLocked()
	if c.controls.State != ControlsHidden {
		c.controls.State = ControlsHidden
		c.sendEventLocked(Event{Type: EventControlsChanged})
	}
}

// armHideLocked shows the controls and (re)starts the auto-hide timer.
// Must be called with lock held.
func (c *Controller) armHideLocked() {
	c.cancelHideLocked()

	h := &hideTimer{}
	c.hideTimer = h
	c.controls = ControlsVisibility{
		State:               ControlsHidingArmed,
		PendingHideDeadline: c.sched.Now().Add(c.autoHide),
	}
	h.timer = c.sched.AfterFunc(c.autoHide, func() {
		c.onHideTimer(h)
	})
}

// forceVisibleLocked shows the controls and drops any pending hide.
// Must be called with lock held.
func (c *Controller) forceVisibleLocked() {
	c.cancelHideLocked()
	c.controls = ControlsVisibility{State: ControlsVisible}
}

// cancelHideLocked stops the pending hide timer, if any.
// Must be called with lock held.
func (c *Controller) cancelHideLocked() {
	if c.hideTimer == nil {
		return
	}
	if c.hideTimer.timer != nil {
		c.hideTimer.timer.Stop()
	}
	c.hideTimer = nil
	c.controls.PendingHideDeadline = time.Time{}
}

func (c *Controller) onHideTimer(h *hideTimer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A timer that was cancelled or replaced may still fire; ignore it.
	if c.closed || c.hideTimer != h {
		return
	}
	c.hideTimer = nil

	if c.state.IsPlaying {
		c.controls = ControlsVisibility{State: ControlsHidden}
	} else {
		c.controls = ControlsVisibility{State: ControlsVisible}
	}
	c.sendEventLocked(Event{Type: EventControlsChanged})
}
