package datachan

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/relaystack/relayworker/pkg/envelope"
	"github.com/relaystack/relayworker/worker/internal/metrics"
)

const (
	defaultBackoffUnit  = time.Second
	defaultWriteTimeout = 10 * time.Second
	handshakeTimeout    = 10 * time.Second
)

// State is the data channel connection state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// FrameHandler receives every inbound binary frame, on the reader goroutine.
type FrameHandler func(frame []byte)

// Dialer opens a websocket connection to url. Abstracted so tests can point
// the manager at an httptest server or inject failures.
type Dialer func(ctx context.Context, url string, header http.Header) (*websocket.Conn, error)

// Options configures a Manager. URL is required; everything else defaults.
type Options struct {
	URL     string
	Secret  string
	Welcome *envelope.Welcome
	Handler FrameHandler
	Dial    Dialer
	Metrics *metrics.Metrics

	// BackoffUnit scales the 1..30 reconnect sequence. Default 1s.
	BackoffUnit time.Duration
	// WriteTimeout bounds every frame write. Default 10s.
	WriteTimeout time.Duration
}

// Manager owns the data channel. At most one connection exists at a time.
type Manager struct {
	opts  Options
	state atomic.Int32

	mu     sync.Mutex // send lock; guards conn and connID
	conn   *websocket.Conn
	connID string
}

func New(opts Options) *Manager {
	if opts.Dial == nil {
		opts.Dial = DefaultDial
	}
	if opts.BackoffUnit <= 0 {
		opts.BackoffUnit = defaultBackoffUnit
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	m := &Manager{opts: opts}
	m.opts.Metrics.SetDataState(int(Disconnected))
	return m
}

// DefaultDial dials with gorilla's default dialer and a handshake timeout.
func DefaultDial(ctx context.Context, url string, header http.Header) (*websocket.Conn, error) {
	d := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	conn, resp, err := d.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}

// State returns the current connection state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Connected reports whether Send can currently succeed.
func (m *Manager) Connected() bool {
	return m.State() == Connected
}

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
	m.opts.Metrics.SetDataState(int(s))
}

// Run is the connector loop. It blocks until ctx is cancelled and leaves the
// channel Disconnected and closed on return.
func (m *Manager) Run(ctx context.Context) {
	bo := newBackoff(m.opts.BackoffUnit)
	header := http.Header{}
	if m.opts.Secret != "" {
		header.Set("Authorization", "Bearer "+m.opts.Secret)
	}

	for {
		if ctx.Err() != nil {
			return
		}

		m.setState(Connecting)
		conn, err := m.opts.Dial(ctx, m.opts.URL, header)
		if err != nil {
			m.setState(Disconnected)
			m.opts.Metrics.DataDial("error")
			if ctx.Err() != nil {
				return
			}
			wait := bo.next()
			slog.Error("datachan: dial failed, will retry",
				"url", m.opts.URL,
				"err", err,
				"retry_in", wait)
			if !sleep(ctx, wait) {
				return
			}
			continue
		}
		m.opts.Metrics.DataDial("ok")
		bo.reset()

		connID := uuid.NewString()
		logCert(conn, connID)

		if err := m.writeWelcome(conn); err != nil {
			conn.Close()
			m.setState(Disconnected)
			wait := bo.next()
			slog.Warn("datachan: welcome failed, will reconnect",
				"conn_id", connID,
				"err", err,
				"retry_in", wait)
			if !sleep(ctx, wait) {
				return
			}
			continue
		}

		m.publish(conn, connID)
		m.setState(Connected)
		slog.Info("datachan: connected", "url", m.opts.URL, "conn_id", connID)

		err = m.readLoop(ctx, conn, connID)
		m.setState(Disconnected)
		m.unpublish(conn)

		if ctx.Err() != nil {
			slog.Info("datachan: closed", "conn_id", connID)
			return
		}

		wait := bo.next()
		slog.Warn("datachan: connection lost, will reconnect",
			"conn_id", connID,
			"err", err,
			"retry_in", wait)
		if !sleep(ctx, wait) {
			return
		}
	}
}

// Send writes frame as one binary message. It returns false without blocking
// when the channel is not Connected, and false when the write fails; a failed
// write closes the connection so that Run reconnects.
func (m *Manager) Send(frame []byte) bool {
	if !m.Connected() {
		m.opts.Metrics.FrameSent("data", "not_connected")
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	conn := m.conn
	if conn == nil {
		m.opts.Metrics.FrameSent("data", "not_connected")
		return false
	}
	conn.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout))
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		slog.Warn("datachan: send failed, closing connection",
			"conn_id", m.connID,
			"bytes", len(frame),
			"err", err)
		conn.Close()
		m.conn = nil
		m.opts.Metrics.FrameSent("data", "error")
		return false
	}
	m.opts.Metrics.FrameSent("data", "ok")
	return true
}

func (m *Manager) writeWelcome(conn *websocket.Conn) error {
	if m.opts.Welcome == nil {
		return nil
	}
	conn.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout))
	if err := conn.WriteMessage(websocket.BinaryMessage, m.opts.Welcome.Marshal()); err != nil {
		return fmt.Errorf("write welcome: %w", err)
	}
	return nil
}

func (m *Manager) publish(conn *websocket.Conn, connID string) {
	m.mu.Lock()
	m.conn = conn
	m.connID = connID
	m.mu.Unlock()
}

// unpublish drops conn if it is still the current connection. Waiting on the
// send lock here means no Send is mid-write when the connection is closed.
func (m *Manager) unpublish(conn *websocket.Conn) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
	conn.Close()
}

// readLoop delivers inbound binary frames to the handler until the connection
// fails or ctx is cancelled.
func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn, connID string) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		switch mt {
		case websocket.BinaryMessage:
			if m.opts.Handler != nil {
				m.opts.Handler(data)
			}
		default:
			slog.Debug("datachan: ignoring non-binary frame", "conn_id", connID, "type", mt, "bytes", len(data))
		}
	}
}

// sleep waits for d or until ctx is done, reporting whether the full wait
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
