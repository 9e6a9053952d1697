package router

import (
	"fmt"
	"log/slog"

	"github.com/relaystack/relayworker/pkg/envelope"
	"github.com/relaystack/relayworker/worker/internal/metrics"
)

// RequestHandler fills resp for req. resp arrives with its ID copied from req;
// it is forwarded only if the handler sets a status.
type RequestHandler func(req *envelope.Request, resp *envelope.Response)

// ResponseHandler consumes a decoded response.
type ResponseHandler func(resp *envelope.Response)

// Sender forwards one frame. It reports false when the frame was not sent.
type Sender interface {
	Send(frame []byte) bool
}

// Table maps method and status names to handlers.
type Table struct {
	requests  map[string]RequestHandler
	responses map[string]ResponseHandler
}

func NewTable() *Table {
	return &Table{
		requests:  make(map[string]RequestHandler),
		responses: make(map[string]ResponseHandler),
	}
}

// HandleRequest registers h for requests carrying method m, replacing any
// earlier registration.
func (t *Table) HandleRequest(m envelope.Method, h RequestHandler) *Table {
	t.requests[m.String()] = h
	return t
}

// HandleResponse registers h for responses carrying status s.
func (t *Table) HandleResponse(s envelope.Status, h ResponseHandler) *Table {
	t.responses[s.String()] = h
	return t
}

// Router dispatches decoded envelopes. Its table never changes after New, so
// it needs no locking.
type Router struct {
	requests  map[string]RequestHandler
	responses map[string]ResponseHandler
	send      Sender
	metrics   *metrics.Metrics
}

// New copies t into a Router forwarding through send. A nil t is an empty
// table: every request and every set response is forwarded unchanged.
func New(t *Table, send Sender, m *metrics.Metrics) *Router {
	r := &Router{
		requests:  make(map[string]RequestHandler),
		responses: make(map[string]ResponseHandler),
		send:      send,
		metrics:   m,
	}
	if t != nil {
		for k, h := range t.requests {
			r.requests[k] = h
		}
		for k, h := range t.responses {
			r.responses[k] = h
		}
	}
	return r
}

// RouteRequest decodes raw as a Request and dispatches it.
func (r *Router) RouteRequest(raw []byte) error {
	if len(raw) == 0 {
		return r.malformed("request", fmt.Errorf("request: empty frame: %w", envelope.ErrMalformed))
	}
	req, err := envelope.UnmarshalRequest(raw)
	if err != nil {
		return r.malformed("request", err)
	}

	h, ok := r.requests[req.Method.String()]
	if !ok {
		r.metrics.RouterMessage("request", "forwarded")
		r.forward("request", req.Method.String(), req.Marshal())
		return nil
	}

	resp := &envelope.Response{ID: req.ID}
	h(req, resp)
	r.metrics.RouterMessage("request", "handled")
	if !resp.IsSet() {
		slog.Debug("router: handler left response unset", "method", req.Method.String(), "id", req.ID)
		return nil
	}
	r.forward("response", resp.Status.String(), resp.Marshal())
	return nil
}

// RouteResponse decodes raw as a Response and dispatches it.
func (r *Router) RouteResponse(raw []byte) error {
	if len(raw) == 0 {
		return r.malformed("response", fmt.Errorf("response: empty frame: %w", envelope.ErrMalformed))
	}
	resp, err := envelope.UnmarshalResponse(raw)
	if err != nil {
		return r.malformed("response", err)
	}

	if h, ok := r.responses[resp.Status.String()]; ok {
		h(resp)
		r.metrics.RouterMessage("response", "handled")
		return nil
	}
	if !resp.IsSet() {
		r.metrics.RouterMessage("response", "unset")
		slog.Debug("router: unset response dropped", "id", resp.ID)
		return nil
	}
	r.metrics.RouterMessage("response", "forwarded")
	r.forward("response", resp.Status.String(), resp.Marshal())
	return nil
}

// Dispatch handles a frame that arrived from the collector. Unlike the
// Route methods it never forwards: a frame no handler claims is logged and
// dropped, so two peers cannot echo frames at each other.
//
// Requests and responses share field numbers, so a bare Response decodes as a
// Request whose method equals its status. A frame is treated as a request
// only when it carries the payload its method defines; otherwise it is tried
// as a response. It reports whether a handler ran.
func (r *Router) Dispatch(raw []byte) bool {
	if len(raw) == 0 {
		_ = r.malformed("inbound", fmt.Errorf("inbound: empty frame: %w", envelope.ErrMalformed))
		return false
	}

	if req, err := envelope.UnmarshalRequest(raw); err == nil && req.HasPayload() {
		if h, ok := r.requests[req.Method.String()]; ok {
			resp := &envelope.Response{ID: req.ID}
			h(req, resp)
			r.metrics.RouterMessage("inbound", "handled")
			if resp.IsSet() {
				r.forward("response", resp.Status.String(), resp.Marshal())
			}
			return true
		}
	}

	resp, err := envelope.UnmarshalResponse(raw)
	if err != nil {
		_ = r.malformed("inbound", err)
		return false
	}
	if h, ok := r.responses[resp.Status.String()]; ok && resp.IsSet() {
		h(resp)
		r.metrics.RouterMessage("inbound", "handled")
		return true
	}

	r.metrics.RouterMessage("inbound", "ignored")
	slog.Debug("router: inbound frame not handled", "id", resp.ID, "bytes", len(raw))
	return false
}

func (r *Router) forward(kind, name string, frame []byte) {
	if r.send == nil || !r.send.Send(frame) {
		slog.Warn("router: forward dropped, data channel unavailable", "kind", kind, "name", name, "bytes", len(frame))
	}
}

func (r *Router) malformed(direction string, err error) error {
	r.metrics.RouterMessage(direction, "malformed")
	slog.Warn("router: malformed envelope dropped", "direction", direction, "err", err)
	return fmt.Errorf("router: %w", err)
}
