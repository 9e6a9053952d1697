package hook

import (
	"fmt"
	"log/slog"

	"github.com/relaystack/relayworker/worker/internal/metrics"
)

// Direction names the side of an intercepted exchange.
type Direction string

const (
	Request  Direction = "request"
	Response Direction = "response"
)

// Chain is the immutable, ordered list of loaded modules.
type Chain struct {
	hooks   []Descriptor
	metrics *metrics.Metrics
}

// NewChain initializes each module once and returns the chain in the given
// order. A module whose Init fails is logged and left out.
func NewChain(m *metrics.Metrics, modules ...Module) *Chain {
	c := &Chain{metrics: m}
	for _, mod := range modules {
		if mod == nil {
			continue
		}
		d, init := describe(mod)
		if init != nil {
			if err := safeInit(init); err != nil {
				slog.Error("hook: init failed, module skipped", "hook", d.Name, "err", err)
				continue
			}
		}
		c.hooks = append(c.hooks, d)
		slog.Info("hook: loaded",
			"hook", d.Name,
			"request", d.RequestCapable,
			"response", d.ResponseCapable,
		)
	}
	return c
}

// Descriptors returns a copy of the loaded module descriptors.
func (c *Chain) Descriptors() []Descriptor {
	out := make([]Descriptor, len(c.hooks))
	copy(out, c.hooks)
	return out
}

// Len returns the number of loaded modules.
func (c *Chain) Len() int { return len(c.hooks) }

// Request offers in to each request-capable module in order.
// consumed reports whether a module took ownership of the buffer; out is the
// replacement to forward, empty when the module forwarded nothing.
func (c *Chain) Request(in []byte) (out []byte, consumed bool) {
	return c.run(Request, in)
}

// Response is the response-side counterpart of Request.
func (c *Chain) Response(in []byte) (out []byte, consumed bool) {
	return c.run(Response, in)
}

func (c *Chain) run(dir Direction, in []byte) ([]byte, bool) {
	for _, d := range c.hooks {
		fn := d.request
		if dir == Response {
			fn = d.response
		}
		if fn == nil {
			continue
		}
		out, ok, err := call(fn, in)
		if err != nil {
			slog.Error("hook: transform panicked", "hook", d.Name, "direction", dir, "err", err)
			continue
		}
		if !ok {
			slog.Debug("hook: declined", "hook", d.Name, "direction", dir)
			continue
		}
		c.metrics.HookConsumed(d.Name, string(dir))
		slog.Debug("hook: consumed", "hook", d.Name, "direction", dir, "in", len(in), "out", len(out))
		return out, true
	}
	return nil, false
}

// call runs fn, turning a panic into an error so that a faulty module cannot
// take down the goroutine of the intercepted caller.
func call(fn TransformFunc, in []byte) (out []byte, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	out, ok = fn(in)
	return out, ok, nil
}

func safeInit(init func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return init()
}
