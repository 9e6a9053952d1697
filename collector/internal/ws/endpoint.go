package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaystack/relayworker/collector/internal/receiver"
	"github.com/relaystack/relayworker/pkg/envelope"
)

const (
	// writeTimeout is the deadline for a single write to a worker.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong before treating the connection
	// as dead.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	sendBufSize = 16

	dataReadLimit    = 64 << 20
	controlReadLimit = 64 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Workers are not browsers; there is no origin to check.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type outbound struct {
	kind int
	data []byte
}

// client is one worker connection.
type client struct {
	conn    *websocket.Conn
	session *receiver.Session

	mu     sync.Mutex
	send   chan outbound
	closed bool
}

func (c *client) enqueue(kind int, data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- outbound{kind: kind, data: data}:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Endpoint serves worker connections.
type Endpoint struct {
	recv           *receiver.Receiver
	loginOnConnect bool

	mu      sync.RWMutex
	clients map[*client]struct{}
	data    map[string]*client // by device, latest connection wins
	control map[string]*client
}

// New creates an Endpoint recording into recv.
func New(recv *receiver.Receiver, loginOnConnect bool) *Endpoint {
	return &Endpoint{
		recv:           recv,
		loginOnConnect: loginOnConnect,
		clients:        make(map[*client]struct{}),
		data:           make(map[string]*client),
		control:        make(map[string]*client),
	}
}

// Run blocks until ctx is cancelled, then closes every connection.
func (e *Endpoint) Run(ctx context.Context) {
	<-ctx.Done()
	e.mu.Lock()
	defer e.mu.Unlock()
	for c := range e.clients {
		c.close()
	}
}

// Count returns the number of open connections.
func (e *Endpoint) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.clients)
}

// Send pushes a binary frame to the data channel of device.
func (e *Endpoint) Send(device string, frame []byte) bool {
	e.mu.RLock()
	c, ok := e.data[device]
	e.mu.RUnlock()
	return ok && c.enqueue(websocket.BinaryMessage, frame)
}

// Command sends {"cmd": cmd} on the control channel of device.
func (e *Endpoint) Command(device, cmd string) bool {
	e.mu.RLock()
	c, ok := e.control[device]
	e.mu.RUnlock()
	if !ok {
		return false
	}
	b, err := json.Marshal(map[string]string{"cmd": cmd})
	if err != nil {
		return false
	}
	return c.enqueue(websocket.TextMessage, b)
}

// ServeData upgrades a worker's data channel. Blocks until it closes.
func (e *Endpoint) ServeData(w http.ResponseWriter, r *http.Request) {
	e.serve(w, r, receiver.Data, dataReadLimit, e.onData)
}

// ServeControl upgrades a worker's control channel. Blocks until it closes.
func (e *Endpoint) ServeControl(w http.ResponseWriter, r *http.Request) {
	e.serve(w, r, receiver.Control, controlReadLimit, e.onControl)
}

func (e *Endpoint) serve(w http.ResponseWriter, r *http.Request, ch receiver.Channel, limit int64,
	onMessage func(c *client, kind int, msg []byte) error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn:    conn,
		session: e.recv.Open(ch, r.RemoteAddr),
		send:    make(chan outbound, sendBufSize),
	}
	e.register(c)
	defer func() {
		e.unregister(c)
		e.recv.Close(c.session)
	}()

	go c.writePump()
	c.readPump(limit, onMessage) // blocks until connection closes
}

func (e *Endpoint) onData(c *client, kind int, msg []byte) error {
	if kind != websocket.BinaryMessage {
		slog.Debug("ws: ignoring non-binary data frame", "session", c.session.ID)
		return nil
	}
	welcome, err := e.recv.DataFrame(c.session, msg)
	if err != nil {
		return err
	}
	if welcome == nil {
		return nil
	}

	e.index(e.data, c)
	if e.loginOnConnect {
		req := &envelope.Request{
			ID:     1,
			Method: envelope.MethodLogin,
			Login:  &envelope.LoginRequest{WorkerID: welcome.WorkerID, DeviceID: welcome.DeviceID},
		}
		if !c.enqueue(websocket.BinaryMessage, req.Marshal()) {
			slog.Warn("ws: login request dropped", "session", c.session.ID)
		}
	}
	return nil
}

func (e *Endpoint) onControl(c *client, _ int, msg []byte) error {
	known := c.session.Device != ""
	if err := e.recv.ControlMessage(c.session, msg); err != nil {
		slog.Warn("ws: bad control message", "session", c.session.ID, "err", err)
		return nil
	}
	if !known && c.session.Device != "" {
		e.index(e.control, c)
	}
	return nil
}

// --- internal ---------------------------------------------------------------

func (e *Endpoint) register(c *client) {
	e.mu.Lock()
	e.clients[c] = struct{}{}
	e.mu.Unlock()
}

func (e *Endpoint) index(m map[string]*client, c *client) {
	e.mu.Lock()
	m[c.session.Device] = c
	e.mu.Unlock()
}

func (e *Endpoint) unregister(c *client) {
	e.mu.Lock()
	delete(e.clients, c)
	for _, m := range []map[string]*client{e.data, e.control} {
		if m[c.session.Device] == c {
			delete(m, c.session.Device)
		}
	}
	e.mu.Unlock()
	c.close()
}

// writePump drains the send channel and sends periodic pings. Runs in its own
// goroutine per connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(msg.kind, msg.data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump hands every message to onMessage until the connection closes or
// onMessage fails.
func (c *client) readPump(limit int64, onMessage func(c *client, kind int, msg []byte) error) {
	defer c.conn.Close()
	c.conn.SetReadLimit(limit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		kind, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		// Any traffic proves liveness, not just pongs.
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if err := onMessage(c, kind, msg); err != nil {
			slog.Warn("ws: closing session", "session", c.session.ID, "err", err)
			if errors.Is(err, receiver.ErrNoWelcome) {
				c.conn.WriteControl(websocket.CloseMessage, //nolint:errcheck
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "welcome expected"),
					time.Now().Add(writeTimeout))
			}
			return
		}
	}
}
