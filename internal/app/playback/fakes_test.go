package playback

import (
	"context"
	"sync"
	"time"
)

type fakeMedia struct {
	mu       sync.Mutex
	calls    []string
	failures map[string]error
	observer MediaObserver
	onPlay   func()

	seekTo float64
	volume float64
	muted  bool
	rate   float64
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{failures: map[string]error{}, volume: 1, rate: 1}
}

func (m *fakeMedia) fail(command string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[command] = err
}

func (m *fakeMedia) record(command string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, command)
	return m.failures[command]
}

func (m *fakeMedia) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *fakeMedia) Play(ctx context.Context) error {
	if m.onPlay != nil {
		m.onPlay()
	}
	return m.record("play")
}

func (m *fakeMedia) Pause(ctx context.Context) error { return m.record("pause") }

func (m *fakeMedia) SeekTo(ctx context.Context, seconds float64) error {
	if err := m.record("seek"); err != nil {
		return err
	}
	m.mu.Lock()
	m.seekTo = seconds
	m.mu.Unlock()
	return nil
}

func (m *fakeMedia) SetVolume(ctx context.Context, level float64) error {
	if err := m.record("volume"); err != nil {
		return err
	}
	m.mu.Lock()
	m.volume = level
	m.mu.Unlock()
	return nil
}

func (m *fakeMedia) SetMuted(ctx context.Context, muted bool) error {
	if err := m.record("mute"); err != nil {
		return err
	}
	m.mu.Lock()
	m.muted = muted
	m.mu.Unlock()
	return nil
}

func (m *fakeMedia) SetPlaybackRate(ctx context.Context, rate float64) error {
	if err := m.record("rate"); err != nil {
		return err
	}
	m.mu.Lock()
	m.rate = rate
	m.mu.Unlock()
	return nil
}

func (m *fakeMedia) Observe(o MediaObserver) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = o
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.observer = nil
	}
}

// emit returns the registered observer, nil once unsubscribed.
func (m *fakeMedia) emit() MediaObserver {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.observer
}

type fakeFullscreen struct {
	mu       sync.Mutex
	requests []bool
	err      error
	fn       func(bool)
}

func (f *fakeFullscreen) RequestFullscreen(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, true)
	return f.err
}

func (f *fakeFullscreen) ExitFullscreen(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, false)
	return f.err
}

func (f *fakeFullscreen) ObserveFullscreen(fn func(bool)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fn = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.fn = nil
	}
}

func (f *fakeFullscreen) notify(active bool) {
	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		fn(active)
	}
}

type report struct {
	lessonID   string
	percentage float64
}

type fakeReporter struct {
	mu      sync.Mutex
	reports []report
	closed  bool
}

func (r *fakeReporter) Report(lessonID string, percentage float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.reports = append(r.reports, report{lessonID, percentage})
}

func (r *fakeReporter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func (r *fakeReporter) Reports() []report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]report(nil), r.reports...)
}

type fakeScheduler struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	s       *fakeScheduler
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (s *fakeScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{s: s, at: s.now.Add(d), f: f}
	s.timers = append(s.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock and runs every live timer that became due.
func (s *fakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.now = s.now.Add(d)
	var due []func()
	for _, t := range s.timers {
		if !t.stopped && !t.fired && !t.at.After(s.now) {
			t.fired = true
			due = append(due, t.f)
		}
	}
	s.mu.Unlock()

	for _, f := range due {
		f()
	}
}

// FireAll runs every callback ever scheduled, stopped or not, the way a
// timer that already fired races with its cancellation.
func (s *fakeScheduler) FireAll() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.timers))
	for _, t := range s.timers {
		fns = append(fns, t.f)
	}
	s.mu.Unlock()

	for _, f := range fns {
		f()
	}
}

func (s *fakeScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}
