// Package session provides the lesson session manager. It owns at most one
// open lesson: a media resource, the playback controller driving it and the
// progress reporter behind it.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/lessonbox/internal/app/notification"
	"github.com/osa030/lessonbox/internal/app/playback"
	"github.com/osa030/lessonbox/internal/app/progress"
	"github.com/osa030/lessonbox/internal/infra/courseapi"
)

var (
	ErrNoLesson         = errors.New("no lesson is open")
	ErrLessonIDRequired = errors.New("lesson id is required")
	ErrNoSource         = errors.New("lesson has no video source")
	ErrClosed           = errors.New("session manager is closed")
)

// Media is a media engine instance playing one source.
type Media interface {
	playback.MediaResource
	playback.FullscreenTarget
	// Done is closed when the engine goes away on its own.
	Done() <-chan struct{}
	Close()
}

// MediaFactory starts a media engine for a source.
type MediaFactory interface {
	Open(ctx context.Context, src string) (Media, error)
}

// MediaFactoryFunc adapts a function to MediaFactory.
type MediaFactoryFunc func(ctx context.Context, src string) (Media, error)

// Open calls f.
func (f MediaFactoryFunc) Open(ctx context.Context, src string) (Media, error) {
	return f(ctx, src)
}

// LessonLookup resolves lesson metadata from the course API.
type LessonLookup interface {
	GetLesson(ctx context.Context, lessonID string) (*courseapi.Lesson, error)
}

// WatermarkConfig is the watermark applied when a lesson carries no text.
type WatermarkConfig struct {
	Viewer     string
	Position   string
	Opacity    float64
	DateFormat string
}

// Config holds session manager configuration.
type Config struct {
	AutoHideDelay time.Duration
	Progress      progress.Config
	Watermark     WatermarkConfig
}

// Deps are the collaborators of the session manager.
type Deps struct {
	Media     MediaFactory
	Lessons   LessonLookup // optional: required only to open lessons without a source
	Sink      progress.Sink
	Scheduler playback.Scheduler // optional
	Now       func() time.Time   // optional
}

// OpenRequest describes the lesson to open.
type OpenRequest struct {
	LessonID      string `mapstructure:"lesson_id"`
	Src           string `mapstructure:"src"`
	WatermarkText string `mapstructure:"watermark_text"`
}

// lesson is one mounted lesson view.
type lesson struct {
	id         string
	sessionID  string
	src        string
	controller *playback.Controller
	media      Media

	stopped   chan struct{}
	pumpDone  chan struct{}
	closeOnce sync.Once
}

// Manager manages the open lesson.
type Manager struct {
	// openMu serializes OpenLesson and CloseLesson.
	openMu sync.Mutex
	mu     sync.RWMutex

	config Config
	deps   Deps

	notification *notification.Manager
	current      *lesson
	closed       bool

	done      chan struct{}
	closeOnce sync.Once
}

// NewManager creates a new session manager.
func NewManager(cfg Config, deps Deps) (*Manager, error) {
	if deps.Media == nil {
		return nil, errors.New("media factory is required")
	}
	if deps.Sink == nil {
		return nil, errors.New("progress sink is required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Manager{
		config:       cfg,
		deps:         deps,
		notification: notification.NewManager(),
		done:         make(chan struct{}),
	}, nil
}

// OpenLesson mounts a lesson. Reopening the lesson already open with the
// same source keeps the running controller; any other request tears the
// current lesson down first.
func (m *Manager) OpenLesson(ctx context.Context, req OpenRequest) (playback.Snapshot, error) {
	if req.LessonID == "" {
		return playback.Snapshot{}, ErrLessonIDRequired
	}

	m.openMu.Lock()
	defer m.openMu.Unlock()

	src, err := m.resolveSource(ctx, req)
	if err != nil {
		return playback.Snapshot{}, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return playback.Snapshot{}, ErrClosed
	}
	prev := m.current
	if prev != nil && prev.id == req.LessonID && prev.src == src {
		m.mu.Unlock()
		zlog.Debug().Str("lesson_id", req.LessonID).Msg("session: lesson already open")
		return prev.controller.Snapshot(), nil
	}
	m.current = nil
	m.mu.Unlock()

	if prev != nil {
		zlog.Info().Str("lesson_id", prev.id).Str("next_lesson_id", req.LessonID).Msg("session: source changed, closing lesson")
		prev.close()
	}

	l, err := m.mount(ctx, req, src)
	if err != nil {
		return playback.Snapshot{}, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		l.close()
		return playback.Snapshot{}, ErrClosed
	}
	m.current = l
	m.mu.Unlock()

	snap := l.controller.Snapshot()
	m.publish(notification.EventLessonOpened, snap)
	zlog.Info().Str("lesson_id", l.id).Str("session_id", l.sessionID).Str("src", src).Msg("session: lesson opened")
	return snap, nil
}

func (m *Manager) resolveSource(ctx context.Context, req OpenRequest) (string, error) {
	if req.Src != "" {
		return req.Src, nil
	}
	if m.deps.Lessons == nil {
		return "", ErrNoSource
	}
	info, err := m.deps.Lessons.GetLesson(ctx, req.LessonID)
	if err != nil {
		return "", errors.Wrap(err, "failed to look up lesson")
	}
	if info.VideoURL == "" {
		return "", ErrNoSource
	}
	return info.VideoURL, nil
}

func (m *Manager) mount(ctx context.Context, req OpenRequest, src string) (*lesson, error) {
	media, err := m.deps.Media.Open(ctx, src)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open media")
	}

	text := req.WatermarkText
	if text == "" {
		wm := m.config.Watermark
		text = playback.ComposeWatermarkText(wm.Viewer, m.deps.Now(), wm.DateFormat)
	}

	reporter := progress.NewReporter(m.deps.Sink, m.config.Progress)
	ctrl, err := playback.New(playback.Config{
		LessonID:      req.LessonID,
		AutoHideDelay: m.config.AutoHideDelay,
		Watermark: playback.WatermarkSpec{
			Text:     text,
			Position: playback.WatermarkPosition(m.config.Watermark.Position),
			Opacity:  m.config.Watermark.Opacity,
		},
	}, playback.Deps{
		Media:      media,
		Fullscreen: media,
		Progress:   reporter,
		Scheduler:  m.deps.Scheduler,
	})
	if err != nil {
		reporter.Close()
		media.Close()
		return nil, errors.Wrap(err, "failed to create playback controller")
	}

	l := &lesson{
		id:         req.LessonID,
		sessionID:  uuid.New().String(),
		src:        src,
		controller: ctrl,
		media:      media,
		stopped:    make(chan struct{}),
		pumpDone:   make(chan struct{}),
	}
	go m.pump(l)
	go m.watchMedia(l)
	return l, nil
}

// close is the single teardown path of a lesson.
func (l *lesson) close() {
	l.closeOnce.Do(func() {
		close(l.stopped)
		l.controller.Close()
		l.media.Close()
		<-l.pumpDone
		zlog.Debug().Str("lesson_id", l.id).Str("session_id", l.sessionID).Msg("session: lesson closed")
	})
}

// pump forwards controller events to shell subscribers until the controller
// closes its channel.
func (m *Manager) pump(l *lesson) {
	defer close(l.pumpDone)
	for event := range l.controller.Events() {
		if event.Type == playback.EventError {
			zlog.Warn().Err(event.Err).Str("lesson_id", l.id).Msg("session: playback error")
		}
		m.publish(event.Type.String(), event.Snapshot)
	}
}

// watchMedia releases the lesson when the media engine exits on its own.
func (m *Manager) watchMedia(l *lesson) {
	select {
	case <-l.stopped:
	case <-l.media.Done():
		zlog.Info().Str("lesson_id", l.id).Msg("session: media engine exited")
		if m.release(l) {
			m.notification.Broadcast(notification.EventMessage(notification.EventLessonClosed))
		}
	}
}

// release detaches l if it is still current and closes it.
func (m *Manager) release(l *lesson) bool {
	m.mu.Lock()
	current := m.current == l
	if current {
		m.current = nil
	}
	m.mu.Unlock()

	l.close()
	return current
}

func (m *Manager) publish(event string, snap playback.Snapshot) {
	st, err := notification.Encode(event, snap)
	if err != nil {
		zlog.Error().Err(err).Str("event", event).Msg("session: failed to encode notification")
		return
	}
	m.notification.Broadcast(st)
}

// CloseLesson unmounts the open lesson.
func (m *Manager) CloseLesson(ctx context.Context) error {
	m.openMu.Lock()
	defer m.openMu.Unlock()

	m.mu.RLock()
	l := m.current
	m.mu.RUnlock()
	if l == nil {
		return ErrNoLesson
	}

	if m.release(l) {
		m.notification.Broadcast(notification.EventMessage(notification.EventLessonClosed))
	}
	return nil
}

// Controller returns the controller of the open lesson.
func (m *Manager) Controller() (*playback.Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil, ErrNoLesson
	}
	return m.current.controller, nil
}

// Snapshot returns the snapshot of the open lesson.
func (m *Manager) Snapshot() (playback.Snapshot, error) {
	c, err := m.Controller()
	if err != nil {
		return playback.Snapshot{}, err
	}
	return c.Snapshot(), nil
}

// GetNotificationManager returns the notification manager.
func (m *Manager) GetNotificationManager() *notification.Manager {
	return m.notification
}

// Done is closed once Close has run.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Close closes the open lesson and all subscriptions.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		l := m.current
		m.current = nil
		m.mu.Unlock()

		if l != nil {
			l.close()
		}
		m.notification.Close()
		close(m.done)
	})
}
