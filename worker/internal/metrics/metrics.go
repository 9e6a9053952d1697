package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Metrics is the set of collectors shared by the relay components.
type Metrics struct {
	reg *prometheus.Registry

	framesSent      *prometheus.CounterVec
	queueDepth      prometheus.Gauge
	delivery        *prometheus.CounterVec
	dataState       prometheus.Gauge
	dataDials       *prometheus.CounterVec
	hookConsumed    *prometheus.CounterVec
	routerMessages  *prometheus.CounterVec
	heartbeats      prometheus.Counter
	intakeFiles     prometheus.Counter
	intakeListeners prometheus.Counter
}

// New creates a Metrics backed by its own registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_frames_sent_total",
			Help: "Frames written per channel and result",
		}, []string{"channel", "result"}), // data|control, ok|error|not_connected
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_queue_depth",
			Help: "Items waiting in the delivery queue",
		}),
		delivery: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_delivery_total",
			Help: "Delivery attempts by outcome",
		}, []string{"outcome"}), // sent|requeued|retained|dropped|empty
		dataState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_data_state",
			Help: "Data channel state: 0 disconnected, 1 connecting, 2 connected",
		}),
		dataDials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_data_dials_total",
			Help: "Data channel dial attempts by result",
		}, []string{"result"}),
		hookConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_hook_consumed_total",
			Help: "Intercepted buffers consumed by a hook",
		}, []string{"hook", "direction"}),
		routerMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_router_messages_total",
			Help: "Envelopes seen by the router by direction and outcome",
		}, []string{"direction", "outcome"}), // handled|forwarded|malformed|unset|ignored
		heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_control_heartbeats_total",
			Help: "Heartbeats written to the control channel",
		}),
		intakeFiles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_intake_files_total",
			Help: "Intake files enqueued by the scanner",
		}),
		intakeListeners: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_intake_frames_total",
			Help: "Frames enqueued by the TCP intake listener",
		}),
	}
	m.reg.MustRegister(
		m.framesSent,
		m.queueDepth,
		m.delivery,
		m.dataState,
		m.dataDials,
		m.hookConsumed,
		m.routerMessages,
		m.heartbeats,
		m.intakeFiles,
		m.intakeListeners,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.reg
}

func (m *Metrics) FrameSent(channel, result string) {
	if m != nil {
		m.framesSent.WithLabelValues(channel, result).Inc()
	}
}

func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.queueDepth.Set(float64(n))
	}
}

func (m *Metrics) Delivery(outcome string) {
	if m != nil {
		m.delivery.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) SetDataState(state int) {
	if m != nil {
		m.dataState.Set(float64(state))
	}
}

func (m *Metrics) DataDial(result string) {
	if m != nil {
		m.dataDials.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) HookConsumed(hook, direction string) {
	if m != nil {
		m.hookConsumed.WithLabelValues(hook, direction).Inc()
	}
}

func (m *Metrics) RouterMessage(direction, outcome string) {
	if m != nil {
		m.routerMessages.WithLabelValues(direction, outcome).Inc()
	}
}

func (m *Metrics) Heartbeat() {
	if m != nil {
		m.heartbeats.Inc()
	}
}

func (m *Metrics) IntakeFile() {
	if m != nil {
		m.intakeFiles.Inc()
	}
}

func (m *Metrics) IntakeFrame() {
	if m != nil {
		m.intakeListeners.Inc()
	}
}

// Snapshot gathers the registry and returns one value per metric family:
// the sum of its counters, gauges and untyped samples. A nil Metrics or a
// gather failure yields an empty map.
func (m *Metrics) Snapshot() map[string]float64 {
	out := make(map[string]float64)
	if m == nil {
		return out
	}
	mfs, err := m.reg.Gather()
	if err != nil {
		return out
	}
	for _, mf := range mfs {
		out[mf.GetName()] = sumFamily(mf)
	}
	return out
}

// sumFamily adds up all counter, gauge, or untyped values in a MetricFamily.
func sumFamily(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		}
	}
	return total
}
