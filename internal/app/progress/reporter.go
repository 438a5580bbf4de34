// Package progress delivers lesson watch progress to the Progress Sink.
package progress

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// Sink receives progress updates keyed by lesson. Each call stands on its
// own, so duplicate delivery is harmless.
type Sink interface {
	ReportProgress(ctx context.Context, lessonID string, percentage float64) error
}

// ProgressReportError wraps a failed delivery. It is logged and dropped.
type ProgressReportError struct {
	LessonID   string
	Percentage float64
	Err        error
}

func (e *ProgressReportError) Error() string {
	return errors.Wrapf(e.Err, "progress report for lesson %s (%.1f%%) failed", e.LessonID, e.Percentage).Error()
}

func (e *ProgressReportError) Unwrap() error { return e.Err }

// Config holds reporter configuration.
type Config struct {
	Timeout     time.Duration // Per-delivery deadline
	MinInterval time.Duration // Minimum spacing between deliveries, 0 for none
}

type update struct {
	lessonID   string
	percentage float64
}

// Reporter forwards updates to a Sink from a single worker. Report never
// blocks: a pending update is replaced by a newer one (latest wins).
type Reporter struct {
	sink   Sink
	config Config

	mu      sync.Mutex
	pending *update
	closed  bool
	wake    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReporter starts a reporter for sink.
func NewReporter(sink Sink, config Config) *Reporter {
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Reporter{
		sink:   sink,
		config: config,
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Report queues an update. It is a no-op after Close.
func (r *Reporter) Report(lessonID string, percentage float64) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.pending = &update{lessonID: lessonID, percentage: percentage}
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Close drops any queued update, cancels the delivery in flight and waits
// for the worker to exit.
func (r *Reporter) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	r.pending = nil
	r.mu.Unlock()

	r.cancel()
	<-r.done
}

func (r *Reporter) run() {
	defer close(r.done)

	var last time.Time
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.wake:
		}

		if r.config.MinInterval > 0 && !last.IsZero() {
			if wait := r.config.MinInterval - time.Since(last); wait > 0 {
				select {
				case <-r.ctx.Done():
					return
				case <-time.After(wait):
				}
			}
		}

		r.mu.Lock()
		u := r.pending
		r.pending = nil
		r.mu.Unlock()
		if u == nil {
			continue
		}

		last = time.Now()
		if err := r.deliver(*u); err != nil {
			zlog.Debug().Err(err).Msg("progress: report dropped")
		}
	}
}

func (r *Reporter) deliver(u update) error {
	ctx, cancel := context.WithTimeout(r.ctx, r.config.Timeout)
	defer cancel()

	if err := r.sink.ReportProgress(ctx, u.lessonID, u.percentage); err != nil {
		return errors.WithStack(&ProgressReportError{LessonID: u.lessonID, Percentage: u.percentage, Err: err})
	}
	return nil
}
