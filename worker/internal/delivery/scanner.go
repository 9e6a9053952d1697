package delivery

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/relaystack/relayworker/worker/internal/metrics"
)

// Scanner polls an intake directory and pushes every regular file of at least
// MinSize bytes. Smaller files are left alone and picked up on a later pass
// once they have grown.
type Scanner struct {
	Dir      string
	MinSize  int64
	Interval time.Duration

	queue   *Queue
	metrics *metrics.Metrics
}

func NewScanner(dir string, minSize int64, interval time.Duration, q *Queue, m *metrics.Metrics) *Scanner {
	return &Scanner{Dir: dir, MinSize: minSize, Interval: interval, queue: q, metrics: m}
}

// Run scans immediately and then every Interval until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		slog.Warn("delivery: cannot create intake dir", "dir", s.Dir, "err", err)
	}
	slog.Info("delivery: scanner started", "dir", s.Dir, "min_size", s.MinSize, "interval", s.Interval)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		s.Scan()
		select {
		case <-ctx.Done():
			slog.Info("delivery: scanner stopped", "dir", s.Dir)
			return
		case <-ticker.C:
		}
	}
}

// Scan performs one pass and returns the number of items pushed.
func (s *Scanner) Scan() int {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		slog.Warn("delivery: read intake dir failed", "dir", s.Dir, "err", err)
		return 0
	}

	pushed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		path := filepath.Join(s.Dir, e.Name())
		if s.queue.Holds(path) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			slog.Debug("delivery: intake entry vanished", "path", path, "err", err)
			continue
		}
		if info.Size() < s.MinSize {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("delivery: read intake file failed", "path", path, "err", err)
			continue
		}
		if int64(len(data)) < s.MinSize {
			continue
		}
		if !s.queue.Push(Item{SourceRef: path, Payload: data}) {
			continue
		}
		pushed++
		s.metrics.IntakeFile()
		slog.Debug("delivery: enqueued", "path", path, "bytes", len(data))
	}
	return pushed
}
