package delivery

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaystack/relayworker/worker/internal/metrics"
)

// Link is the data channel as seen by the workers.
type Link interface {
	Connected() bool
	Send(frame []byte) bool
}

// PoolConfig configures a Pool.
type PoolConfig struct {
	Workers    int           // minimum 1
	SpawnDelay time.Duration // stagger between worker starts
	RetryDelay time.Duration // pause after a requeue

	// SpillDir receives source-less items that could not be requeued because
	// the queue was closed. Empty disables spilling and such items are dropped.
	SpillDir string
}

// Pool drains a Queue over a Link.
type Pool struct {
	cfg     PoolConfig
	queue   *Queue
	link    Link
	metrics *metrics.Metrics
}

func NewPool(cfg PoolConfig, q *Queue, link Link, m *metrics.Metrics) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Pool{cfg: cfg, queue: q, link: link, metrics: m}
}

// Run starts the workers and blocks until all of them have exited, which
// happens once the queue is closed and drained.
func (p *Pool) Run() {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		if i > 0 && !p.pause(p.cfg.SpawnDelay) {
			break
		}
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.work(id)
		}(i)
	}
	wg.Wait()
	slog.Info("delivery: workers stopped", "workers", p.cfg.Workers)
}

func (p *Pool) work(id int) {
	slog.Debug("delivery: worker started", "worker", id)
	for {
		it, ok := p.queue.Pop()
		if !ok {
			slog.Debug("delivery: worker exiting", "worker", id)
			return
		}

		if len(it.Payload) == 0 {
			slog.Warn("delivery: empty payload discarded", "worker", id, "source", it.SourceRef)
			p.finish(it)
			p.metrics.Delivery("empty")
			continue
		}

		if !p.link.Connected() {
			p.retry(id, it, "not_connected")
			continue
		}
		if !p.link.Send(it.Payload) {
			p.retry(id, it, "send_failed")
			continue
		}

		p.finish(it)
		p.metrics.Delivery("sent")
		slog.Info("delivery: sent", "worker", id, "source", filepath.Base(it.SourceRef), "bytes", len(it.Payload))
	}
}

// finish removes the source of a delivered item and releases it.
func (p *Pool) finish(it Item) {
	if it.SourceRef == "" {
		return
	}
	if err := os.Remove(it.SourceRef); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("delivery: remove source failed", "source", it.SourceRef, "err", err)
	}
	p.queue.Done(it.SourceRef)
}

func (p *Pool) retry(id int, it Item, reason string) {
	if !p.queue.Requeue(it) {
		p.release(it)
		return
	}
	p.metrics.Delivery("requeued")
	slog.Debug("delivery: requeued", "worker", id, "reason", reason, "source", it.SourceRef)
	p.pause(p.cfg.RetryDelay)
}

// release handles an item that can no longer be requeued. Files stay on disk
// for the next scan; source-less payloads are written into SpillDir.
func (p *Pool) release(it Item) {
	if it.SourceRef != "" {
		p.queue.Done(it.SourceRef)
		p.metrics.Delivery("retained")
		slog.Info("delivery: left on disk for next run", "source", it.SourceRef)
		return
	}
	if p.cfg.SpillDir == "" {
		p.metrics.Delivery("dropped")
		slog.Warn("delivery: payload dropped at shutdown", "bytes", len(it.Payload))
		return
	}
	path, err := spill(p.cfg.SpillDir, it.Payload)
	if err != nil {
		p.metrics.Delivery("dropped")
		slog.Error("delivery: spill failed, payload dropped", "dir", p.cfg.SpillDir, "bytes", len(it.Payload), "err", err)
		return
	}
	p.metrics.Delivery("retained")
	slog.Info("delivery: spilled to disk", "path", path, "bytes", len(it.Payload))
}

// pause sleeps for d, returning early (false) when the queue closes.
func (p *Pool) pause(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-p.queue.Closing():
		return false
	}
}

func spill(dir string, payload []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "spill-"+uuid.NewString()+".bin")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return "", err
	}
	return path, os.Rename(tmp, path)
}
