package receiver

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/relaystack/relayworker/collector/internal/store"
	"github.com/relaystack/relayworker/pkg/envelope"
)

// Channel names the connection a session belongs to.
type Channel string

const (
	Data    Channel = "data"
	Control Channel = "control"
)

// ErrNoWelcome is returned when a data session's first frame is not a
// Welcome.
var ErrNoWelcome = errors.New("receiver: first data frame is not a welcome")

// Session is one websocket connection from a worker.
type Session struct {
	ID      string
	Channel Channel
	Remote  string
	Device  string // empty until the worker identifies itself
}

// controlMessage covers every JSON shape a worker sends on the control
// channel.
type controlMessage struct {
	Type     string `json:"type"`
	DeviceID string `json:"deviceId"`
	WorkerID string `json:"workerId"`
	Device   string `json:"device"`
	TS       int64  `json:"ts"`
	Version  int    `json:"version"`
	Origin   string `json:"origin"`
	PublicIP string `json:"publicIp"`
}

// Metrics are the collector's Prometheus collectors.
type Metrics struct {
	frames   *prometheus.CounterVec
	sessions *prometheus.GaugeVec
}

// NewMetrics registers the receiver collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_collector_frames_total",
			Help: "Frames received from workers, by channel and kind.",
		}, []string{"channel", "kind"}),
		sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relay_collector_sessions",
			Help: "Open worker sessions, by channel.",
		}, []string{"channel"}),
	}
	reg.MustRegister(m.frames, m.sessions)
	return m
}

func (m *Metrics) frame(ch Channel, kind string) {
	if m != nil {
		m.frames.WithLabelValues(string(ch), kind).Inc()
	}
}

func (m *Metrics) session(ch Channel, delta float64) {
	if m != nil {
		m.sessions.WithLabelValues(string(ch)).Add(delta)
	}
}

// Receiver records worker traffic into a store.
type Receiver struct {
	store   *store.Store
	metrics *Metrics
}

// New creates a Receiver writing to st. m may be nil.
func New(st *store.Store, m *Metrics) *Receiver {
	return &Receiver{store: st, metrics: m}
}

// Open starts a session for a new connection.
func (r *Receiver) Open(ch Channel, remote string) *Session {
	s := &Session{ID: uuid.NewString(), Channel: ch, Remote: remote}
	r.metrics.session(ch, 1)
	slog.Info("receiver: session opened", "session", s.ID, "channel", ch, "remote", remote)
	return s
}

// Close ends s and marks its channel disconnected on the device.
func (r *Receiver) Close(s *Session) {
	r.metrics.session(s.Channel, -1)
	if s.Device != "" {
		r.store.Update(s.Device, func(d *store.Device) {
			if s.Channel == Data {
				d.DataConnected = false
			} else {
				d.ControlConnected = false
			}
		})
	}
	slog.Info("receiver: session closed", "session", s.ID, "channel", s.Channel, "device", s.Device)
}

// DataFrame records one binary frame. It returns the Welcome when frame was
// the session's first frame.
func (r *Receiver) DataFrame(s *Session, frame []byte) (*envelope.Welcome, error) {
	if s.Device == "" {
		w, err := envelope.UnmarshalWelcome(frame)
		if err != nil {
			r.metrics.frame(Data, "invalid")
			return nil, fmt.Errorf("%w: %v", ErrNoWelcome, err)
		}
		s.Device = w.WorkerID
		r.store.Update(s.Device, func(d *store.Device) {
			d.DeviceID = w.DeviceID
			d.UserAgent = w.UserAgent
			d.VersionName = w.VersionName
			d.VersionCode = w.VersionCode
			d.Origin = w.Origin
			d.DataConnected = true
		})
		r.metrics.frame(Data, "welcome")
		slog.Info("receiver: welcome",
			"session", s.ID,
			"device", w.WorkerID,
			"device_id", w.DeviceID,
			"user_agent", w.UserAgent)
		return w, nil
	}

	kind := "raw"
	if resp, err := envelope.UnmarshalResponse(frame); err == nil && resp.IsSet() {
		kind = "response"
	}
	r.store.Update(s.Device, func(d *store.Device) {
		d.Frames++
		d.Bytes += uint64(len(frame))
		if kind == "response" {
			d.Responses++
		} else {
			d.Raw++
		}
	})
	r.metrics.frame(Data, kind)
	slog.Debug("receiver: frame", "session", s.ID, "device", s.Device, "kind", kind, "bytes", len(frame))
	return nil, nil
}

// ControlMessage records one control-channel message.
func (r *Receiver) ControlMessage(s *Session, msg []byte) error {
	var m controlMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		r.metrics.frame(Control, "invalid")
		return fmt.Errorf("receiver: control message: %w", err)
	}

	switch {
	case m.Type == "heartbeat":
		if s.Device == "" {
			s.Device = m.WorkerID
		}
		if s.Device == "" {
			r.metrics.frame(Control, "invalid")
			return fmt.Errorf("receiver: heartbeat without worker id")
		}
		ts := time.Unix(m.TS, 0)
		if m.TS == 0 {
			ts = time.Now()
		}
		r.store.Update(s.Device, func(d *store.Device) {
			d.ControlConnected = true
			d.LastHeartbeat = ts
		})
		r.metrics.frame(Control, "heartbeat")

	case m.Type == "status":
		r.metrics.frame(Control, "status")
		slog.Info("receiver: status", "session", s.ID, "device", m.Device, "msg", string(msg))

	case m.DeviceID != "":
		s.Device = m.DeviceID
		r.store.Update(s.Device, func(d *store.Device) {
			d.ControlConnected = true
			if m.Origin != "" {
				d.Origin = m.Origin
			}
			d.RemoteIP = m.PublicIP
		})
		r.metrics.frame(Control, "intro")
		slog.Info("receiver: intro", "session", s.ID, "device", m.DeviceID, "version", m.Version)

	default:
		r.metrics.frame(Control, "unknown")
		slog.Debug("receiver: unrecognised control message", "session", s.ID, "msg", string(msg))
	}
	return nil
}
