package mpv

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/lessonbox/internal/app/playback"
)

// fakeMPV speaks the mpv JSON IPC protocol on a unix socket.
type fakeMPV struct {
	t        *testing.T
	path     string
	listener net.Listener

	mu       sync.Mutex
	conn     net.Conn
	commands [][]any
	failures map[string]string // property or command name -> error reply
	initial  map[string]string // property name -> value sent after observe_property
	silent   bool              // never reply
}

func newFakeMPV(t *testing.T) *fakeMPV {
	t.Helper()
	// Keep the path short; unix socket paths are limited to ~104 bytes.
	dir, err := os.MkdirTemp("", "mpv")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, "ipc.sock")
	l, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	f := &fakeMPV{t: t, path: path, listener: l, failures: map[string]string{}, initial: map[string]string{}}
	go f.serve()
	return f
}

func (f *fakeMPV) serve() {
	conn, err := f.listener.Accept()
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var req request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}

		f.mu.Lock()
		f.commands = append(f.commands, req.Command)
		reason := "success"
		if name := target(req.Command); f.failures[name] != "" {
			reason = f.failures[name]
		}
		silent := f.silent
		initial, hasInitial := "", false
		if req.Command[0] == "observe_property" {
			initial, hasInitial = f.initial[req.Command[2].(string)]
		}
		f.mu.Unlock()

		if silent {
			continue
		}
		f.write(fmt.Sprintf(`{"request_id":%d,"error":%q,"data":null}`, req.RequestID, reason))
		if hasInitial {
			id := int(req.Command[1].(float64))
			f.property(id, req.Command[2].(string), initial)
		}
		if target(req.Command) == "quit" {
			conn.Close()
			return
		}
	}
}

// target is the property name for set_property, else the command name.
func target(cmd []any) string {
	name, _ := cmd[0].(string)
	if name == "set_property" && len(cmd) > 1 {
		prop, _ := cmd[1].(string)
		return prop
	}
	return name
}

func (f *fakeMPV) write(line string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		_, _ = f.conn.Write([]byte(line + "\n"))
	}
}

func (f *fakeMPV) property(id int, name string, data string) {
	f.write(fmt.Sprintf(`{"event":"property-change","id":%d,"name":%q,"data":%s}`, id, name, data))
}

func (f *fakeMPV) Commands() [][]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]any(nil), f.commands...)
}

func (f *fakeMPV) last() []any {
	cmds := f.Commands()
	require.NotEmpty(f.t, cmds)
	return cmds[len(cmds)-1]
}

type mediaCalls struct {
	times   []float64
	dur     []float64
	playing []bool
	ended   int
}

type recordingObserver struct {
	mu    sync.Mutex
	calls mediaCalls
}

func (o *recordingObserver) OnTimeUpdate(s float64) {
	o.mu.Lock()
	o.calls.times = append(o.calls.times, s)
	o.mu.Unlock()
}

func (o *recordingObserver) OnMetadataLoaded(d float64) {
	o.mu.Lock()
	o.calls.dur = append(o.calls.dur, d)
	o.mu.Unlock()
}

func (o *recordingObserver) OnEnded() {
	o.mu.Lock()
	o.calls.ended++
	o.mu.Unlock()
}

func (o *recordingObserver) OnPlayingChanged(p bool) {
	o.mu.Lock()
	o.calls.playing = append(o.calls.playing, p)
	o.mu.Unlock()
}

func (o *recordingObserver) snapshot() mediaCalls {
	o.mu.Lock()
	defer o.mu.Unlock()
	return mediaCalls{
		times:   append([]float64(nil), o.calls.times...),
		dur:     append([]float64(nil), o.calls.dur...),
		playing: append([]bool(nil), o.calls.playing...),
		ended:   o.calls.ended,
	}
}

func connect(t *testing.T, f *fakeMPV) *Player {
	t.Helper()
	p, err := Connect(context.Background(), f.path, time.Second)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func TestConnect_ObservesProperties(t *testing.T) {
	f := newFakeMPV(t)
	connect(t, f)

	var names []string
	for _, cmd := range f.Commands() {
		require.Equal(t, "observe_property", cmd[0])
		names = append(names, cmd[2].(string))
	}
	assert.Equal(t, []string{"time-pos", "duration", "pause", "eof-reached", "fullscreen"}, names)
}

func TestPlayer_Commands(t *testing.T) {
	tests := []struct {
		name string
		call func(p *Player) error
		want []any
	}{
		{"play", func(p *Player) error { return p.Play(context.Background()) }, []any{"set_property", "pause", false}},
		{"pause", func(p *Player) error { return p.Pause(context.Background()) }, []any{"set_property", "pause", true}},
		{"seek", func(p *Player) error { return p.SeekTo(context.Background(), 300) }, []any{"seek", 300.0, "absolute"}},
		{"volume", func(p *Player) error { return p.SetVolume(context.Background(), 0.8) }, []any{"set_property", "volume", 80.0}},
		{"mute", func(p *Player) error { return p.SetMuted(context.Background(), true) }, []any{"set_property", "mute", true}},
		{"rate", func(p *Player) error { return p.SetPlaybackRate(context.Background(), 1.5) }, []any{"set_property", "speed", 1.5}},
		{"fullscreen", func(p *Player) error { return p.RequestFullscreen(context.Background()) }, []any{"set_property", "fullscreen", true}},
		{"exit fullscreen", func(p *Player) error { return p.ExitFullscreen(context.Background()) }, []any{"set_property", "fullscreen", false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeMPV(t)
			p := connect(t, f)

			require.NoError(t, tt.call(p))
			got := f.last()
			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				assert.EqualValues(t, tt.want[i], got[i])
			}
		})
	}
}

func TestPlayer_CommandError(t *testing.T) {
	f := newFakeMPV(t)
	p := connect(t, f)

	f.mu.Lock()
	f.failures["pause"] = "property unavailable"
	f.mu.Unlock()

	err := p.Play(context.Background())
	require.Error(t, err)

	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, "set_property", cmdErr.Command)
	assert.Equal(t, "property unavailable", cmdErr.Reason)
}

func TestPlayer_CommandTimeout(t *testing.T) {
	f := newFakeMPV(t)
	p, err := Connect(context.Background(), f.path, 50*time.Millisecond)
	require.NoError(t, err)
	defer p.Close()

	f.mu.Lock()
	f.silent = true
	f.mu.Unlock()

	err = p.Pause(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestPlayer_DispatchesPropertyChanges(t *testing.T) {
	f := newFakeMPV(t)
	p := connect(t, f)

	obs := &recordingObserver{}
	cancel := p.Observe(obs)

	var fsMu sync.Mutex
	var fs []bool
	p.ObserveFullscreen(func(active bool) {
		fsMu.Lock()
		fs = append(fs, active)
		fsMu.Unlock()
	})

	f.property(propDuration, "duration", "null")
	f.property(propDuration, "duration", "600.5")
	f.property(propTimePos, "time-pos", "12.25")
	f.property(propPause, "pause", "false")
	f.property(propEOF, "eof-reached", "false")
	f.property(propEOF, "eof-reached", "true")
	f.property(propFullscreen, "fullscreen", "true")

	require.Eventually(t, func() bool {
		fsMu.Lock()
		defer fsMu.Unlock()
		return len(fs) == 1
	}, time.Second, 5*time.Millisecond)

	got := obs.snapshot()
	assert.Equal(t, []float64{600.5}, got.dur, "null duration is skipped")
	assert.Equal(t, []float64{12.25}, got.times)
	assert.Equal(t, []bool{true}, got.playing)
	assert.Equal(t, 1, got.ended)
	assert.Equal(t, []bool{true}, fs)

	cancel()
	f.property(propTimePos, "time-pos", "13")
	f.property(propFullscreen, "fullscreen", "false")
	require.Eventually(t, func() bool {
		fsMu.Lock()
		defer fsMu.Unlock()
		return len(fs) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Len(t, obs.snapshot().times, 1, "cancelled observer receives nothing")
}

func TestPlayer_ReplaysInitialValuesToLateObservers(t *testing.T) {
	f := newFakeMPV(t)
	f.initial["duration"] = "600"
	f.initial["time-pos"] = "0"
	f.initial["pause"] = "true"
	f.initial["eof-reached"] = "false"
	f.initial["fullscreen"] = "true"
	p := connect(t, f)

	// The fullscreen value follows the last observe reply; wait until it landed.
	require.Eventually(t, func() bool {
		p.dispatchMu.Lock()
		defer p.dispatchMu.Unlock()
		return p.last.fullscreen != nil
	}, time.Second, 5*time.Millisecond)

	obs := &recordingObserver{}
	p.Observe(obs)
	var fs []bool
	p.ObserveFullscreen(func(active bool) { fs = append(fs, active) })

	got := obs.snapshot()
	assert.Equal(t, []float64{600}, got.dur)
	assert.Equal(t, []float64{0}, got.times)
	assert.Equal(t, []bool{false}, got.playing)
	assert.Zero(t, got.ended)
	assert.Equal(t, []bool{true}, fs)

	f.property(propTimePos, "time-pos", "1.5")
	require.Eventually(t, func() bool {
		return len(obs.snapshot().times) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []float64{600}, obs.snapshot().dur, "replay happens once")
}

func TestPlayer_ControllerSeesDurationReportedAtConnect(t *testing.T) {
	f := newFakeMPV(t)
	f.initial["duration"] = "600"
	p := connect(t, f)

	c, err := playback.New(playback.Config{LessonID: "lesson-1"}, playback.Deps{Media: p, Fullscreen: p})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, 600.0, c.Snapshot().Playback.DurationSeconds)

	c.Seek(context.Background(), 50)
	assert.Equal(t, 300.0, c.Snapshot().Playback.CurrentTimeSeconds)
	assert.EqualValues(t, []any{"seek", 300.0, "absolute"}, f.last())
}

func TestPlayer_CloseQuitsAndDisconnects(t *testing.T) {
	f := newFakeMPV(t)
	p, err := Connect(context.Background(), f.path, time.Second)
	require.NoError(t, err)

	p.Close()
	p.Close()

	assert.Equal(t, []any{"quit"}, f.last())
	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed")
	}

	err = p.Play(context.Background())
	assert.True(t, errors.Is(err, ErrDisconnected))
}

func TestWaitForConnection_GivesUp(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := WaitForConnection(ctx, filepath.Join(t.TempDir(), "absent.sock"), 10*time.Millisecond, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestStart_RequiresSource(t *testing.T) {
	_, err := Start(context.Background(), Config{}, "")
	assert.Error(t, err)
}
