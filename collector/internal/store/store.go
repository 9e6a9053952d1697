package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Device is what the collector knows about one worker.
type Device struct {
	ID          string
	DeviceID    string
	UserAgent   string
	VersionName string
	VersionCode int32
	Origin      string
	RemoteIP    string

	DataConnected    bool
	ControlConnected bool

	Frames    uint64 // binary frames after the welcome
	Bytes     uint64
	Responses uint64 // frames that decoded as a set Response
	Raw       uint64 // everything else

	LastHeartbeat time.Time
	UpdatedAt     time.Time
}

// Store is a thread-safe device store keyed by worker id.
// A background goroutine (Run) evicts devices that have been idle for longer
// than the TTL and have no open channel.
type Store struct {
	mu   sync.RWMutex
	data map[string]*Device
	ttl  time.Duration
	now  func() time.Time // injectable for deterministic tests
}

// New creates a Store with the given TTL.
func New(ttl time.Duration) *Store {
	return &Store{
		data: make(map[string]*Device),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Update applies fn to the device with the given id, creating it if needed,
// and marks it as just seen.
func (s *Store) Update(id string, fn func(d *Device)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data[id]
	if !ok {
		d = &Device{ID: id}
		s.data[id] = d
	}
	fn(d)
	d.UpdatedAt = s.now()
}

// Get returns a copy of the device with the given id.
func (s *Store) Get(id string) (Device, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.data[id]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

// List returns copies of all live devices, ordered by id. A device is live
// while one of its channels is open or it was updated within the TTL.
func (s *Store) List() []Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := s.now().Add(-s.ttl)
	out := make([]Device, 0, len(s.data))
	for _, d := range s.data {
		if d.live(cutoff) {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of devices held, including stale ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Evict removes devices that are no longer live as of now and returns how
// many were removed.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.ttl)
	removed := 0
	for id, d := range s.data {
		if !d.live(cutoff) {
			delete(s.data, id)
			removed++
		}
	}
	return removed
}

func (d *Device) live(cutoff time.Time) bool {
	return d.DataConnected || d.ControlConnected || d.UpdatedAt.After(cutoff)
}

// Run starts the background eviction loop, ticking at half the TTL (minimum
// one second). Run blocks until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted idle devices", "count", n)
			}
		}
	}
}
