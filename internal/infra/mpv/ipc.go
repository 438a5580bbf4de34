// Package mpv drives an mpv process over its JSON IPC socket.
// docs: https://mpv.io/manual/stable/#json-ipc
package mpv

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// ErrDisconnected is returned for commands issued after the socket closed.
var ErrDisconnected = errors.New("mpv ipc disconnected")

// request is a JSON IPC command line.
type request struct {
	Command   []any `json:"command"`
	RequestID int   `json:"request_id,omitempty"`
}

// Message is one line received from mpv: a command reply or an event.
type Message struct {
	RequestID int             `json:"request_id,omitempty"`
	Error     string          `json:"error,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Event     string          `json:"event,omitempty"`
	Name      string          `json:"name,omitempty"`
	ID        int             `json:"id,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

// CommandError is a reply whose error field is not "success".
type CommandError struct {
	Command string
	Reason  string
}

func (e *CommandError) Error() string {
	return "mpv " + e.Command + ": " + e.Reason
}

// IPCClient is a connection to a running mpv instance. Replies are matched
// to commands by request_id; events go to the handler.
type IPCClient struct {
	conn    net.Conn
	handler func(Message)

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int
	pending map[int]chan Message
	closed  bool

	done chan struct{}
}

// Dial connects to the socket and starts reading. handler is called from the
// reader goroutine for every event.
func Dial(ctx context.Context, socketPath string, handler func(Message)) (*IPCClient, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to mpv socket")
	}

	if handler == nil {
		handler = func(Message) {}
	}
	c := &IPCClient{
		conn:    conn,
		handler: handler,
		pending: make(map[int]chan Message),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// WaitForConnection dials with retries until ctx expires.
func WaitForConnection(ctx context.Context, socketPath string, retryDelay time.Duration, handler func(Message)) (*IPCClient, error) {
	zlog.Debug().Str("socket_path", socketPath).Msg("mpv: waiting for socket")

	for attempt := 1; ; attempt++ {
		if _, err := os.Stat(socketPath); err == nil {
			c, err := Dial(ctx, socketPath, handler)
			if err == nil {
				zlog.Debug().Int("attempt", attempt).Msg("mpv: connected")
				return c, nil
			}
			zlog.Debug().Err(err).Int("attempt", attempt).Msg("mpv: connect failed")
		}

		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), "failed to connect to mpv after %d attempts", attempt)
		case <-time.After(retryDelay):
		}
	}
}

// Command sends a command and waits for its reply.
func (c *IPCClient) Command(ctx context.Context, args ...any) (json.RawMessage, error) {
	if len(args) == 0 {
		return nil, errors.New("empty mpv command")
	}
	name, _ := args[0].(string)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrDisconnected
	}
	c.nextID++
	id := c.nextID
	reply := make(chan Message, 1)
	c.pending[id] = reply
	c.mu.Unlock()

	data, err := json.Marshal(request{Command: args, RequestID: id})
	if err != nil {
		c.forget(id)
		return nil, errors.Wrap(err, "failed to marshal command")
	}

	c.writeMu.Lock()
	_, err = c.conn.Write(append(data, '\n'))
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return nil, errors.Wrap(err, "failed to send command")
	}

	select {
	case msg := <-reply:
		if msg.Error != "" && msg.Error != "success" {
			return nil, &CommandError{Command: name, Reason: msg.Error}
		}
		return msg.Data, nil
	case <-c.done:
		return nil, ErrDisconnected
	case <-ctx.Done():
		c.forget(id)
		return nil, errors.Wrapf(ctx.Err(), "mpv %s", name)
	}
}

// SetProperty sets an mpv property.
func (c *IPCClient) SetProperty(ctx context.Context, name string, value any) error {
	_, err := c.Command(ctx, "set_property", name, value)
	return err
}

// ObserveProperty subscribes to property-change events for name.
func (c *IPCClient) ObserveProperty(ctx context.Context, id int, name string) error {
	_, err := c.Command(ctx, "observe_property", id, name)
	return err
}

// Done is closed once the connection is gone.
func (c *IPCClient) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection. Waiting commands fail with ErrDisconnected.
func (c *IPCClient) Close() error {
	return c.conn.Close()
}

func (c *IPCClient) forget(id int) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *IPCClient) readLoop() {
	defer func() {
		c.mu.Lock()
		c.closed = true
		c.pending = map[int]chan Message{}
		c.mu.Unlock()
		close(c.done)
	}()

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		zlog.Trace().Bytes("data", line).Msg("mpv: raw message")

		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			zlog.Warn().Err(err).Msg("mpv: failed to unmarshal message")
			continue
		}

		if msg.Event != "" {
			c.handler(msg)
			continue
		}

		c.mu.Lock()
		reply, ok := c.pending[msg.RequestID]
		delete(c.pending, msg.RequestID)
		c.mu.Unlock()
		if ok {
			reply <- msg
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		zlog.Warn().Err(err).Msg("mpv: error reading from socket")
	}
	zlog.Debug().Msg("mpv: reader stopped")
}
