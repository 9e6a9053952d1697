package relay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/relaystack/relayworker/pkg/envelope"
	"github.com/relaystack/relayworker/worker/internal/config"
	"github.com/relaystack/relayworker/worker/internal/control"
	"github.com/relaystack/relayworker/worker/internal/datachan"
	"github.com/relaystack/relayworker/worker/internal/delivery"
	"github.com/relaystack/relayworker/worker/internal/hook"
	"github.com/relaystack/relayworker/worker/internal/metrics"
	"github.com/relaystack/relayworker/worker/internal/router"
)

// Version is reported in the welcome and as part of the user agent.
var Version = "dev"

const (
	origin      = "lab"
	versionCode = 2
	versionName = "relay-worker"
)

// Router dispatches envelopes no hook consumed.
type Router interface {
	RouteRequest(raw []byte) error
	RouteResponse(raw []byte) error
	Dispatch(raw []byte) bool
}

type settings struct {
	modules []hook.Module
	table   *router.Table
	dial    datachan.Dialer
	metrics *metrics.Metrics
}

// Option customizes New.
type Option func(*settings)

// WithModules sets the interceptor modules, in chain order.
func WithModules(mods ...hook.Module) Option {
	return func(s *settings) { s.modules = append(s.modules, mods...) }
}

// WithTable replaces router.DefaultTable.
func WithTable(t *router.Table) Option {
	return func(s *settings) { s.table = t }
}

// WithDialer replaces the websocket dialer of both channels.
func WithDialer(d datachan.Dialer) Option {
	return func(s *settings) { s.dial = d }
}

// WithMetrics records into m instead of a fresh registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

// Relay is one worker process's pipeline.
type Relay struct {
	cfg     *config.Config
	metrics *metrics.Metrics

	chain  *hook.Chain
	router Router
	data   *datachan.Manager

	queue   *delivery.Queue
	scanner *delivery.Scanner
	pool    *delivery.Pool
	control *control.Channel
}

// New builds every component from cfg. Nothing is started until Run; the
// hook chain and the router table are fixed from here on.
func New(cfg *config.Config, opts ...Option) *Relay {
	var s settings
	for _, o := range opts {
		o(&s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	userAgent := versionName + "/" + Version
	if s.table == nil {
		s.table = router.DefaultTable(userAgent)
	}

	r := &Relay{cfg: cfg, metrics: s.metrics}
	r.chain = hook.NewChain(s.metrics, s.modules...)

	r.data = datachan.New(datachan.Options{
		URL:    cfg.DataURL(),
		Secret: cfg.Relay.Secret,
		Welcome: &envelope.Welcome{
			WorkerID:    cfg.General.DeviceName,
			Origin:      origin,
			VersionCode: versionCode,
			VersionName: versionName,
			UserAgent:   userAgent,
			DeviceID:    cfg.General.DeviceName + "-device",
		},
		Handler: r.inbound,
		Dial:    s.dial,
		Metrics: s.metrics,
	})
	r.router = router.New(s.table, r.data, s.metrics)

	r.queue = delivery.NewQueue(s.metrics)
	r.scanner = delivery.NewScanner(cfg.General.IntakeDir, cfg.General.MinFileSize, cfg.General.ScanInterval, r.queue, s.metrics)
	r.pool = delivery.NewPool(delivery.PoolConfig{
		Workers:    cfg.General.Workers,
		SpawnDelay: cfg.Tuning.WorkerSpawnDelay(),
		RetryDelay: cfg.Tuning.RetryDelay,
		SpillDir:   cfg.General.IntakeDir,
	}, r.queue, r.data, s.metrics)

	r.control = control.New(control.Options{
		URL:               cfg.ControlURL(),
		Secret:            cfg.Relay.Secret,
		DeviceID:          cfg.General.DeviceName,
		Origin:            origin,
		HeartbeatInterval: cfg.Tuning.HeartbeatInterval,
		RetryDelay:        cfg.Tuning.ControlRetry,
		Status:            r.Status,
		Dial:              s.dial,
		Metrics:           s.metrics,
	})
	return r
}

// Metrics returns the registry the relay records into.
func (r *Relay) Metrics() *metrics.Metrics { return r.metrics }

// Queue returns the delivery queue.
func (r *Relay) Queue() *delivery.Queue { return r.queue }

// State returns the data channel state.
func (r *Relay) State() datachan.State { return r.data.State() }

// InterceptRequest handles a request buffer captured on the caller's
// goroutine. A module's non-empty output is sent as it is, never decoded;
// otherwise the buffer is routed. Only decode failures are returned.
func (r *Relay) InterceptRequest(raw []byte) error {
	return r.intercept(hook.Request, raw)
}

// InterceptResponse is the response-side counterpart of InterceptRequest.
func (r *Relay) InterceptResponse(raw []byte) error {
	return r.intercept(hook.Response, raw)
}

func (r *Relay) intercept(dir hook.Direction, raw []byte) error {
	var (
		out      []byte
		consumed bool
	)
	if dir == hook.Request {
		out, consumed = r.chain.Request(raw)
	} else {
		out, consumed = r.chain.Response(raw)
	}
	if consumed {
		if len(out) > 0 && !r.data.Send(out) {
			slog.Warn("relay: hook output dropped, data channel unavailable", "direction", dir, "bytes", len(out))
		}
		return nil
	}
	if dir == hook.Request {
		return r.router.RouteRequest(raw)
	}
	return r.router.RouteResponse(raw)
}

// inbound handles a frame received from the collector. Response hooks see it
// first; whatever they leave goes to the router's handler tables and is never
// forwarded back.
func (r *Relay) inbound(frame []byte) {
	if out, consumed := r.chain.Response(frame); consumed {
		if len(out) > 0 && !r.data.Send(out) {
			slog.Warn("relay: hook output dropped, data channel unavailable", "direction", hook.Response, "bytes", len(out))
		}
		return
	}
	r.router.Dispatch(frame)
}

// Status is the reply to the control channel's "status" command.
func (r *Relay) Status() control.StatusReport {
	return control.StatusReport{
		Device:  r.cfg.General.DeviceName,
		Workers: r.cfg.General.Workers,
		State:   r.data.State().String(),
		Queue:   r.queue.Len(),
		Hooks:   r.chain.Descriptors(),
		Metrics: r.metrics.Snapshot(),
	}
}

// Run starts every loop and blocks until ctx is cancelled. Shutdown is
// ordered, each stage joined before the next: intake (scanner and TCP
// listener), queue close and worker drain, data channel, control channel.
func (r *Relay) Run(ctx context.Context) {
	slog.Info("relay: starting",
		"device", r.cfg.General.DeviceName,
		"data_url", r.cfg.DataURL(),
		"control_url", r.cfg.ControlURL(),
		"workers", r.cfg.General.Workers,
		"hooks", r.chain.Len(),
	)

	intakeCtx, stopIntake := context.WithCancel(context.Background())
	dataCtx, stopData := context.WithCancel(context.Background())
	controlCtx, stopControl := context.WithCancel(context.Background())
	defer stopIntake()
	defer stopData()
	defer stopControl()

	var intake, data, ctrl sync.WaitGroup
	spawn := func(wg *sync.WaitGroup, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	spawn(&ctrl, func() { r.control.Run(controlCtx) })
	spawn(&data, func() { r.data.Run(dataCtx) })

	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		r.pool.Run()
	}()

	spawn(&intake, func() { r.scanner.Run(intakeCtx) })
	if addr := r.cfg.General.ListenAddr; addr != "" {
		if ln, err := delivery.Listen(addr, r.queue, r.metrics); err != nil {
			slog.Error("relay: tcp intake disabled", "err", err)
		} else {
			spawn(&intake, func() { ln.Serve(intakeCtx) })
		}
	}

	<-ctx.Done()
	slog.Info("relay: shutting down", "queued", r.queue.Len())

	stopIntake()
	intake.Wait()

	r.queue.Close()
	<-poolDone

	stopData()
	data.Wait()

	stopControl()
	ctrl.Wait()
	slog.Info("relay: stopped")
}
