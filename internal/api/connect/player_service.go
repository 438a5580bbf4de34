package connect

import (
	"context"
	"net/http"
	"sync"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/osa030/lessonbox/internal/app/notification"
	"github.com/osa030/lessonbox/internal/app/playback"
	"github.com/osa030/lessonbox/internal/app/session"
	"github.com/osa030/lessonbox/internal/infra/courseapi"
)

// PlayerServiceName is the fully-qualified name of the PlayerService service.
const PlayerServiceName = "lessonbox.player.v1.PlayerService"

// Procedure paths of PlayerService.
const (
	OpenLessonProcedure       = "/" + PlayerServiceName + "/OpenLesson"
	CloseLessonProcedure      = "/" + PlayerServiceName + "/CloseLesson"
	GetSnapshotProcedure      = "/" + PlayerServiceName + "/GetSnapshot"
	TogglePlayProcedure       = "/" + PlayerServiceName + "/TogglePlay"
	ToggleMuteProcedure       = "/" + PlayerServiceName + "/ToggleMute"
	ToggleFullscreenProcedure = "/" + PlayerServiceName + "/ToggleFullscreen"
	ToggleSettingsProcedure   = "/" + PlayerServiceName + "/ToggleSettings"
	NotifyActivityProcedure   = "/" + PlayerServiceName + "/NotifyActivity"
	NotifyLeaveProcedure      = "/" + PlayerServiceName + "/NotifyLeave"
	SeekProcedure             = "/" + PlayerServiceName + "/Seek"
	SetVolumeProcedure        = "/" + PlayerServiceName + "/SetVolume"
	SetPlaybackRateProcedure  = "/" + PlayerServiceName + "/SetPlaybackRate"
	WatchProcedure            = "/" + PlayerServiceName + "/Watch"
)

var errStreamClosed = errors.New("watch stream closed")

// PlayerService implements the PlayerService RPC used by presentation shells.
type PlayerService struct {
	session *session.Manager
}

// NewPlayerService creates a new PlayerService.
func NewPlayerService(session *session.Manager) *PlayerService {
	return &PlayerService{session: session}
}

// NewPlayerServiceHandler builds an HTTP handler from the service implementation.
// It returns the path on which to mount the handler and the handler itself.
func NewPlayerServiceHandler(svc *PlayerService, opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(OpenLessonProcedure, connect.NewUnaryHandler(OpenLessonProcedure, svc.OpenLesson, opts...))
	mux.Handle(CloseLessonProcedure, connect.NewUnaryHandler(CloseLessonProcedure, svc.CloseLesson, opts...))
	mux.Handle(GetSnapshotProcedure, connect.NewUnaryHandler(GetSnapshotProcedure, svc.GetSnapshot, opts...))
	mux.Handle(TogglePlayProcedure, connect.NewUnaryHandler(TogglePlayProcedure, svc.TogglePlay, opts...))
	mux.Handle(ToggleMuteProcedure, connect.NewUnaryHandler(ToggleMuteProcedure, svc.ToggleMute, opts...))
	mux.Handle(ToggleFullscreenProcedure, connect.NewUnaryHandler(ToggleFullscreenProcedure, svc.ToggleFullscreen, opts...))
	mux.Handle(ToggleSettingsProcedure, connect.NewUnaryHandler(ToggleSettingsProcedure, svc.ToggleSettings, opts...))
	mux.Handle(NotifyActivityProcedure, connect.NewUnaryHandler(NotifyActivityProcedure, svc.NotifyActivity, opts...))
	mux.Handle(NotifyLeaveProcedure, connect.NewUnaryHandler(NotifyLeaveProcedure, svc.NotifyLeave, opts...))
	mux.Handle(SeekProcedure, connect.NewUnaryHandler(SeekProcedure, svc.Seek, opts...))
	mux.Handle(SetVolumeProcedure, connect.NewUnaryHandler(SetVolumeProcedure, svc.SetVolume, opts...))
	mux.Handle(SetPlaybackRateProcedure, connect.NewUnaryHandler(SetPlaybackRateProcedure, svc.SetPlaybackRate, opts...))
	mux.Handle(WatchProcedure, connect.NewServerStreamHandler(WatchProcedure, svc.Watch, opts...))
	return "/" + PlayerServiceName + "/", mux
}

// OpenLesson mounts a lesson. The request carries lesson_id and optionally
// src and watermark_text.
func (s *PlayerService) OpenLesson(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	var open session.OpenRequest
	if err := mapstructure.Decode(req.Msg.AsMap(), &open); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.Wrap(err, "invalid open request"))
	}

	snap, err := s.session.OpenLesson(ctx, open)
	if err != nil {
		return nil, toConnectError(err)
	}
	return snapshotResponse(notification.EventLessonOpened, snap)
}

// CloseLesson unmounts the open lesson.
func (s *PlayerService) CloseLesson(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[emptypb.Empty], error) {
	if err := s.session.CloseLesson(ctx); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&emptypb.Empty{}), nil
}

// GetSnapshot returns the current snapshot.
func (s *PlayerService) GetSnapshot(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	snap, err := s.session.Snapshot()
	if err != nil {
		return nil, toConnectError(err)
	}
	return snapshotResponse(notification.EventSnapshot, snap)
}

// TogglePlay plays or pauses.
func (s *PlayerService) TogglePlay(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	return s.apply(func(c *playback.Controller) { c.TogglePlay(ctx) })
}

// ToggleMute mutes or unmutes.
func (s *PlayerService) ToggleMute(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	return s.apply(func(c *playback.Controller) { c.ToggleMute(ctx) })
}

// ToggleFullscreen requests a fullscreen transition. The snapshot reflects
// the change only once the window reports it.
func (s *PlayerService) ToggleFullscreen(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	return s.apply(func(c *playback.Controller) { c.ToggleFullscreen(ctx) })
}

// ToggleSettings opens or closes the settings menu.
func (s *PlayerService) ToggleSettings(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	return s.apply(func(c *playback.Controller) { c.ToggleSettings() })
}

// NotifyActivity reports pointer activity over the player.
func (s *PlayerService) NotifyActivity(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	return s.apply(func(c *playback.Controller) { c.NotifyActivity() })
}

// NotifyLeave reports the pointer leaving the player.
func (s *PlayerService) NotifyLeave(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	return s.apply(func(c *playback.Controller) { c.NotifyLeave() })
}

// Seek jumps to a percentage of the lesson.
func (s *PlayerService) Seek(
	ctx context.Context,
	req *connect.Request[wrapperspb.DoubleValue],
) (*connect.Response[structpb.Struct], error) {
	target := req.Msg.GetValue()
	return s.apply(func(c *playback.Controller) { c.Seek(ctx, target) })
}

// SetVolume sets the volume level in [0,1].
func (s *PlayerService) SetVolume(
	ctx context.Context,
	req *connect.Request[wrapperspb.DoubleValue],
) (*connect.Response[structpb.Struct], error) {
	level := req.Msg.GetValue()
	return s.apply(func(c *playback.Controller) { c.SetVolume(ctx, level) })
}

// SetPlaybackRate sets one of the offered playback rates.
func (s *PlayerService) SetPlaybackRate(
	ctx context.Context,
	req *connect.Request[wrapperspb.DoubleValue],
) (*connect.Response[structpb.Struct], error) {
	rate := req.Msg.GetValue()
	if !playback.IsAllowedRate(rate) {
		return nil, connect.NewError(connect.CodeInvalidArgument,
			errors.Wrapf(playback.ErrInvalidPlaybackRate, "rate %v", rate))
	}
	return s.apply(func(c *playback.Controller) { c.SetPlaybackRate(ctx, rate) })
}

// Watch streams the current snapshot followed by one notification per
// player event until the client goes away or the daemon stops.
func (s *PlayerService) Watch(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
	stream *connect.ServerStream[structpb.Struct],
) error {
	notifManager := s.session.GetNotificationManager()

	// Subscribe before reading the snapshot so no event falls between them.
	adapter := &notificationStreamAdapter{stream: stream}
	subscriptionID := notifManager.Subscribe(adapter)
	defer func() {
		notifManager.Unsubscribe(subscriptionID)
		adapter.close()
	}()

	initial := notification.EventMessage(notification.EventLessonClosed)
	if snap, err := s.session.Snapshot(); err == nil {
		st, err := notification.Encode(notification.EventSnapshot, snap)
		if err != nil {
			return connect.NewError(connect.CodeInternal, err)
		}
		initial = st
	}
	if err := adapter.Send(initial); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-s.session.Done():
	}
	return nil
}

// apply runs op against the open lesson and returns the resulting snapshot.
func (s *PlayerService) apply(op func(c *playback.Controller)) (*connect.Response[structpb.Struct], error) {
	c, err := s.session.Controller()
	if err != nil {
		return nil, toConnectError(err)
	}
	op(c)
	return snapshotResponse(notification.EventSnapshot, c.Snapshot())
}

func snapshotResponse(event string, snap playback.Snapshot) (*connect.Response[structpb.Struct], error) {
	st, err := notification.Encode(event, snap)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(st), nil
}

// toConnectError maps session errors to RPC codes.
func toConnectError(err error) error {
	var apiErr *courseapi.APIError
	switch {
	case errors.Is(err, session.ErrNoLesson):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, session.ErrLessonIDRequired):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, session.ErrNoSource):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, session.ErrClosed):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound:
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	}
	zlog.Error().Err(err).Msg("player service: internal error")
	return connect.NewError(connect.CodeInternal, err)
}

// notificationStreamAdapter adapts connect.ServerStream to notification.Stream.
// Sends are serialized and refused once the handler has returned.
type notificationStreamAdapter struct {
	mu     sync.Mutex
	stream *connect.ServerStream[structpb.Struct]
	closed bool
}

func (a *notificationStreamAdapter) Send(notification *structpb.Struct) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errStreamClosed
	}
	return a.stream.Send(notification)
}

func (a *notificationStreamAdapter) close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
}
