package delivery

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/relaystack/relayworker/worker/internal/metrics"
)

// MaxFrameSize caps a single length-prefixed intake frame.
const MaxFrameSize = 50_000_000

// Listener accepts length-prefixed frames over TCP: a 4-byte big-endian
// length followed by that many payload bytes. Each frame becomes a
// source-less Item.
type Listener struct {
	ln      net.Listener
	queue   *Queue
	metrics *metrics.Metrics

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// Listen binds addr.
func Listen(addr string, q *Queue, m *metrics.Metrics) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("delivery: listen %s: %w", addr, err)
	}
	return &Listener{ln: ln, queue: q, metrics: m, conns: make(map[net.Conn]struct{})}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Serve accepts connections until ctx is cancelled, then closes the listener
// and every open connection and waits for their readers to return.
func (l *Listener) Serve(ctx context.Context) {
	slog.Info("delivery: tcp intake listening", "addr", l.ln.Addr().String())

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		l.ln.Close()
		l.mu.Lock()
		for c := range l.conns {
			c.Close()
		}
		l.conns = nil
		l.mu.Unlock()
	}()
	defer func() {
		close(stop)
		l.wg.Wait()
		slog.Info("delivery: tcp intake stopped", "addr", l.ln.Addr().String())
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Warn("delivery: accept failed", "err", err)
			continue
		}
		if !l.track(conn) {
			conn.Close()
			return
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer l.untrack(conn)
			l.handle(conn)
		}()
	}
}

func (l *Listener) track(c net.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conns == nil {
		return false
	}
	l.conns[c] = struct{}{}
	return true
}

func (l *Listener) untrack(c net.Conn) {
	l.mu.Lock()
	delete(l.conns, c)
	l.mu.Unlock()
	c.Close()
}

func (l *Listener) handle(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	slog.Debug("delivery: tcp intake connection", "remote", remote)
	for {
		payload, err := readFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				slog.Warn("delivery: tcp intake read failed", "remote", remote, "err", err)
			}
			return
		}
		if !l.queue.Push(Item{Payload: payload}) {
			slog.Warn("delivery: queue closed, tcp frame refused", "remote", remote, "bytes", len(payload))
			return
		}
		l.metrics.IntakeFrame()
	}
}

// readFrame reads one length-prefixed frame. A clean end of stream before the
// header is io.EOF.
func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 || n > MaxFrameSize {
		return nil, fmt.Errorf("invalid frame length %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return buf, nil
}
