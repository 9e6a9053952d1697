package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaystack/relayworker/worker/internal/datachan"
	"github.com/relaystack/relayworker/worker/internal/hook"
	"github.com/relaystack/relayworker/worker/internal/metrics"
)

const (
	writeTimeout = 8 * time.Second

	// ProtocolVersion is announced in the intro.
	ProtocolVersion = 2
)

// Intro is the first frame written on every control connection.
type Intro struct {
	DeviceID string `json:"deviceId"`
	Version  int    `json:"version"`
	Origin   string `json:"origin"`
	PublicIP string `json:"publicIp"`
	Secret   string `json:"secret,omitempty"`
}

// Heartbeat is written every HeartbeatInterval.
type Heartbeat struct {
	Type     string `json:"type"`
	TS       int64  `json:"ts"`
	WorkerID string `json:"workerId"`
}

// StatusReport answers the "status" command.
type StatusReport struct {
	Type    string             `json:"type"`
	Device  string             `json:"device"`
	Workers int                `json:"workers"`
	State   string             `json:"state"`
	Queue   int                `json:"queue"`
	Hooks   []hook.Descriptor  `json:"hooks"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// command is an inbound control message.
type command struct {
	Cmd string `json:"cmd"`
}

// Options configures a Channel.
type Options struct {
	URL      string
	Secret   string
	DeviceID string
	Origin   string

	HeartbeatInterval time.Duration
	RetryDelay        time.Duration

	// Status builds the reply to a "status" command. Nil disables the command.
	Status  func() StatusReport
	Dial    datachan.Dialer
	Metrics *metrics.Metrics
}

// Channel is the control connection.
type Channel struct {
	opts Options
	mu   sync.Mutex // serializes writes on the current connection
}

func New(opts Options) *Channel {
	if opts.Dial == nil {
		opts.Dial = datachan.DefaultDial
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 15 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 3 * time.Second
	}
	if opts.Origin == "" {
		opts.Origin = "lab"
	}
	return &Channel{opts: opts}
}

// Run connects and serves the channel until ctx is cancelled.
func (c *Channel) Run(ctx context.Context) {
	header := http.Header{}
	if c.opts.Secret != "" {
		header.Set("Authorization", "Bearer "+c.opts.Secret)
	}
	slog.Info("control: starting", "url", c.opts.URL)

	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := c.opts.Dial(ctx, c.opts.URL, header)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("control: dial failed, will retry", "url", c.opts.URL, "err", err, "retry_in", c.opts.RetryDelay)
		} else {
			slog.Info("control: connected", "url", c.opts.URL)
			err = c.serve(ctx, conn)
			if ctx.Err() != nil {
				slog.Info("control: closed")
				return
			}
			slog.Warn("control: connection lost, will reconnect", "err", err, "retry_in", c.opts.RetryDelay)
		}

		t := time.NewTimer(c.opts.RetryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// serve runs one connection: intro, then heartbeats and inbound commands
// until either side fails or ctx ends. The reader has returned when serve
// does.
func (c *Channel) serve(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	intro := Intro{
		DeviceID: c.opts.DeviceID,
		Version:  ProtocolVersion,
		Origin:   c.opts.Origin,
		PublicIP: localIP(conn),
		Secret:   c.opts.Secret,
	}
	if err := c.write(conn, intro); err != nil {
		return fmt.Errorf("intro: %w", err)
	}
	slog.Debug("control: intro sent", "device", intro.DeviceID)

	readErr := make(chan error, 1)
	go func() {
		readErr <- c.read(conn)
	}()

	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close()
			<-readErr
			return nil
		case err := <-readErr:
			return err
		case <-ticker.C:
			hb := Heartbeat{Type: "heartbeat", TS: time.Now().Unix(), WorkerID: c.opts.DeviceID}
			if err := c.write(conn, hb); err != nil {
				conn.Close()
				<-readErr
				return fmt.Errorf("heartbeat: %w", err)
			}
			c.opts.Metrics.Heartbeat()
			slog.Debug("control: heartbeat sent")
		}
	}
}

func (c *Channel) read(conn *websocket.Conn) error {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		slog.Info("control: received", "msg", string(msg))
		c.handle(conn, msg)
	}
}

func (c *Channel) handle(conn *websocket.Conn, msg []byte) {
	var cmd command
	if err := json.Unmarshal(msg, &cmd); err != nil || cmd.Cmd == "" {
		return
	}
	switch cmd.Cmd {
	case "status":
		if c.opts.Status == nil {
			return
		}
		rep := c.opts.Status()
		rep.Type = "status"
		if err := c.write(conn, rep); err != nil {
			slog.Warn("control: status reply failed", "err", err)
		}
	default:
		// reload_hooks lands here: the hook chain is fixed for the life of
		// the process.
		slog.Warn("control: unsupported command", "cmd", cmd.Cmd)
	}
}

func (c *Channel) write(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		c.opts.Metrics.FrameSent("control", "error")
		return err
	}
	c.opts.Metrics.FrameSent("control", "ok")
	return nil
}

// localIP is the local address the connection leaves from, used as the
// device's reported address.
func localIP(conn *websocket.Conn) string {
	addr, ok := conn.LocalAddr().(*net.TCPAddr)
	if !ok {
		return ""
	}
	return addr.IP.String()
}
