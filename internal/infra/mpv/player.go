package mpv

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/lessonbox/internal/app/playback"
)

// Observed property ids.
const (
	propTimePos = iota + 1
	propDuration
	propPause
	propEOF
	propFullscreen
)

var observed = map[int]string{
	propTimePos:    "time-pos",
	propDuration:   "duration",
	propPause:      "pause",
	propEOF:        "eof-reached",
	propFullscreen: "fullscreen",
}

// properties holds the last reported value of each observed property. mpv
// sends current values once, right after observe_property is acknowledged.
type properties struct {
	timePos    *float64
	duration   *float64
	paused     *bool
	ended      bool
	fullscreen *bool
}

// Config represents mpv player configuration.
type Config struct {
	Path           string
	Args           []string
	SocketDir      string
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
}

// Player is a playback.MediaResource and playback.FullscreenTarget backed by
// one mpv instance.
type Player struct {
	client         *IPCClient
	commandTimeout time.Duration

	cmd        *exec.Cmd
	socketPath string
	exited     chan struct{}

	mu          sync.Mutex
	nextObs     int
	observers   map[int]playback.MediaObserver
	fsObservers map[int]func(bool)

	// dispatchMu orders event delivery against replay to new observers.
	dispatchMu sync.Mutex
	last       properties

	closeOnce sync.Once
}

var (
	_ playback.MediaResource    = (*Player)(nil)
	_ playback.FullscreenTarget = (*Player)(nil)
)

// Start launches mpv paused on src and connects to its IPC socket.
func Start(ctx context.Context, cfg Config, src string) (*Player, error) {
	if src == "" {
		return nil, errors.New("media source is required")
	}

	path := cfg.Path
	if path == "" {
		path = "mpv"
	}
	dir := cfg.SocketDir
	if dir == "" {
		dir = os.TempDir()
	}
	socketPath := filepath.Join(dir, "lessonbox-"+uuid.NewString()+".sock")

	args := []string{
		"--no-terminal",
		"--pause",
		"--keep-open=yes",
		"--input-ipc-server=" + socketPath,
	}
	args = append(args, cfg.Args...)
	args = append(args, src)

	cmd := exec.Command(path, args...)
	setupPlayerProcess(cmd)

	zlog.Info().Str("src", src).Str("socket_path", socketPath).Msg("mpv: starting")
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "failed to start mpv")
	}

	exited := make(chan struct{})
	go func() {
		err := cmd.Wait()
		zlog.Debug().Err(err).Msg("mpv: process exited")
		close(exited)
	}()

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	connCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p := newPlayer(cfg.CommandTimeout)
	p.cmd = cmd
	p.socketPath = socketPath
	p.exited = exited

	client, err := WaitForConnection(connCtx, socketPath, 100*time.Millisecond, p.handleEvent)
	if err != nil {
		p.kill()
		return nil, err
	}
	if err := p.attach(ctx, client); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// Connect attaches to an mpv instance already listening on socketPath.
func Connect(ctx context.Context, socketPath string, commandTimeout time.Duration) (*Player, error) {
	p := newPlayer(commandTimeout)
	client, err := Dial(ctx, socketPath, p.handleEvent)
	if err != nil {
		return nil, err
	}
	if err := p.attach(ctx, client); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func newPlayer(commandTimeout time.Duration) *Player {
	if commandTimeout <= 0 {
		commandTimeout = 3 * time.Second
	}
	return &Player{
		commandTimeout: commandTimeout,
		observers:      make(map[int]playback.MediaObserver),
		fsObservers:    make(map[int]func(bool)),
	}
}

func (p *Player) attach(ctx context.Context, client *IPCClient) error {
	p.client = client
	for id := propTimePos; id <= propFullscreen; id++ {
		if err := p.client.ObserveProperty(ctx, id, observed[id]); err != nil {
			return errors.Wrapf(err, "failed to observe %s", observed[id])
		}
	}
	return nil
}

// Done is closed when the IPC connection ends, for example when the user
// quits mpv.
func (p *Player) Done() <-chan struct{} {
	return p.client.Done()
}

// Play resumes playback.
func (p *Player) Play(ctx context.Context) error {
	return p.set(ctx, "pause", false)
}

// Pause pauses playback.
func (p *Player) Pause(ctx context.Context) error {
	return p.set(ctx, "pause", true)
}

// SeekTo jumps to an absolute position.
func (p *Player) SeekTo(ctx context.Context, seconds float64) error {
	ctx, cancel := context.WithTimeout(ctx, p.commandTimeout)
	defer cancel()
	_, err := p.client.Command(ctx, "seek", seconds, "absolute")
	return err
}

// SetVolume sets the volume from a [0,1] level. mpv uses a 0-100 scale.
func (p *Player) SetVolume(ctx context.Context, level float64) error {
	return p.set(ctx, "volume", level*100)
}

// SetMuted mutes or unmutes audio.
func (p *Player) SetMuted(ctx context.Context, muted bool) error {
	return p.set(ctx, "mute", muted)
}

// SetPlaybackRate sets the playback speed.
func (p *Player) SetPlaybackRate(ctx context.Context, rate float64) error {
	return p.set(ctx, "speed", rate)
}

// RequestFullscreen asks the mpv window to enter fullscreen.
func (p *Player) RequestFullscreen(ctx context.Context) error {
	return p.set(ctx, "fullscreen", true)
}

// ExitFullscreen asks the mpv window to leave fullscreen.
func (p *Player) ExitFullscreen(ctx context.Context) error {
	return p.set(ctx, "fullscreen", false)
}

// Observe registers a media observer. Values mpv already reported are
// replayed to it before any later event.
func (p *Player) Observe(o playback.MediaObserver) func() {
	p.dispatchMu.Lock()
	defer p.dispatchMu.Unlock()

	p.mu.Lock()
	p.nextObs++
	id := p.nextObs
	p.observers[id] = o
	p.mu.Unlock()

	if v := p.last.duration; v != nil {
		o.OnMetadataLoaded(*v)
	}
	if v := p.last.timePos; v != nil {
		o.OnTimeUpdate(*v)
	}
	if v := p.last.paused; v != nil {
		o.OnPlayingChanged(!*v)
	}
	if p.last.ended {
		o.OnEnded()
	}

	return func() {
		p.mu.Lock()
		delete(p.observers, id)
		p.mu.Unlock()
	}
}

// ObserveFullscreen registers a fullscreen change callback and replays the
// current fullscreen state if mpv reported one.
func (p *Player) ObserveFullscreen(fn func(active bool)) func() {
	p.dispatchMu.Lock()
	defer p.dispatchMu.Unlock()

	p.mu.Lock()
	p.nextObs++
	id := p.nextObs
	p.fsObservers[id] = fn
	p.mu.Unlock()

	if v := p.last.fullscreen; v != nil {
		fn(*v)
	}

	return func() {
		p.mu.Lock()
		delete(p.fsObservers, id)
		p.mu.Unlock()
	}
}

// Close quits mpv and releases the socket.
func (p *Player) Close() {
	p.closeOnce.Do(func() {
		if p.client != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
			if _, err := p.client.Command(ctx, "quit"); err != nil && !errors.Is(err, ErrDisconnected) {
				zlog.Debug().Err(err).Msg("mpv: quit failed")
			}
			cancel()
			_ = p.client.Close()
		}
		p.kill()
	})
}

func (p *Player) kill() {
	if p.cmd == nil || p.cmd.Process == nil {
		return
	}
	select {
	case <-p.exited:
	case <-time.After(time.Second):
		zlog.Warn().Msg("mpv: did not exit, killing")
		if err := p.cmd.Process.Kill(); err != nil {
			zlog.Warn().Err(err).Msg("mpv: kill failed")
		}
		<-p.exited
	}
	if err := os.Remove(p.socketPath); err != nil && !os.IsNotExist(err) {
		zlog.Warn().Err(err).Str("path", p.socketPath).Msg("mpv: failed to remove socket file")
	}
}

func (p *Player) set(ctx context.Context, name string, value any) error {
	ctx, cancel := context.WithTimeout(ctx, p.commandTimeout)
	defer cancel()
	return p.client.SetProperty(ctx, name, value)
}

func (p *Player) handleEvent(msg Message) {
	p.dispatchMu.Lock()
	defer p.dispatchMu.Unlock()

	switch msg.Event {
	case "property-change":
		p.handlePropertyChange(msg)
	case "end-file":
		if msg.Reason == "eof" {
			p.last.ended = true
			p.eachObserver(func(o playback.MediaObserver) { o.OnEnded() })
		}
	}
}

func (p *Player) handlePropertyChange(msg Message) {
	switch msg.ID {
	case propTimePos:
		if v, ok := decodeFloat(msg.Data); ok {
			p.last.timePos = &v
			p.eachObserver(func(o playback.MediaObserver) { o.OnTimeUpdate(v) })
		}
	case propDuration:
		if v, ok := decodeFloat(msg.Data); ok {
			p.last.duration = &v
			p.eachObserver(func(o playback.MediaObserver) { o.OnMetadataLoaded(v) })
		}
	case propPause:
		if paused, ok := decodeBool(msg.Data); ok {
			p.last.paused = &paused
			p.eachObserver(func(o playback.MediaObserver) { o.OnPlayingChanged(!paused) })
		}
	case propEOF:
		eof, ok := decodeBool(msg.Data)
		if !ok {
			return
		}
		p.last.ended = eof
		if eof {
			p.eachObserver(func(o playback.MediaObserver) { o.OnEnded() })
		}
	case propFullscreen:
		if active, ok := decodeBool(msg.Data); ok {
			p.last.fullscreen = &active
			p.mu.Lock()
			fns := make([]func(bool), 0, len(p.fsObservers))
			for _, fn := range p.fsObservers {
				fns = append(fns, fn)
			}
			p.mu.Unlock()
			for _, fn := range fns {
				fn(active)
			}
		}
	}
}

func (p *Player) eachObserver(fn func(playback.MediaObserver)) {
	p.mu.Lock()
	obs := make([]playback.MediaObserver, 0, len(p.observers))
	for _, o := range p.observers {
		obs = append(obs, o)
	}
	p.mu.Unlock()
	for _, o := range obs {
		fn(o)
	}
}

// decodeFloat parses a numeric property. Unavailable properties arrive as null.
func decodeFloat(data json.RawMessage) (float64, bool) {
	var v *float64
	if err := json.Unmarshal(data, &v); err != nil || v == nil {
		return 0, false
	}
	return *v, true
}

func decodeBool(data json.RawMessage) (bool, bool) {
	var v *bool
	if err := json.Unmarshal(data, &v); err != nil || v == nil {
		return false, false
	}
	return *v, true
}
