package datachan

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaystack/relayworker/pkg/envelope"
	"github.com/relaystack/relayworker/worker/internal/metrics"
)

// --- helpers ----------------------------------------------------------------

type peer struct {
	conn   *websocket.Conn
	header http.Header
}

// startServer runs a websocket endpoint that hands every accepted connection
// to the returned channel.
func startServer(t *testing.T, useTLS bool) (string, <-chan peer) {
	t.Helper()
	peers := make(chan peer, 8)
	var (
		mu    sync.Mutex
		conns []*websocket.Conn
	)
	up := websocket.Upgrader{}
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		conns = append(conns, c)
		mu.Unlock()
		peers <- peer{conn: c, header: r.Header.Clone()}
	})
	t.Cleanup(func() {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})

	var srv *httptest.Server
	if useTLS {
		srv = httptest.NewTLSServer(h)
	} else {
		srv = httptest.NewServer(h)
	}
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/", peers
}

func nextPeer(t *testing.T, peers <-chan peer) peer {
	t.Helper()
	select {
	case p := <-peers:
		return p
	case <-time.After(3 * time.Second):
		t.Fatal("no connection accepted")
		return peer{}
	}
}

func readBinary(t *testing.T, c *websocket.Conn) []byte {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(3 * time.Second))
	mt, data, err := c.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, mt)
	return data
}

// run starts m.Run and returns a stop function that cancels and waits.
func run(t *testing.T, m *Manager) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()
	stop := func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Fatal("Run did not return after cancel")
		}
	}
	t.Cleanup(stop)
	return stop
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want },
		3*time.Second, 5*time.Millisecond, "state never became %s", want)
}

// --- backoff ----------------------------------------------------------------

func TestBackoff_SequenceCapAndReset(t *testing.T) {
	bo := newBackoff(time.Second)

	var got []time.Duration
	for i := 0; i < 8; i++ {
		got = append(got, bo.next())
	}
	want := []time.Duration{1, 2, 4, 8, 16, 30, 30, 30}
	for i := range want {
		want[i] *= time.Second
	}
	assert.Equal(t, want, got)

	bo.reset()
	assert.Equal(t, time.Second, bo.next())
	assert.Equal(t, 2*time.Second, bo.next())
}

// --- certificate inspection ---------------------------------------------------

func TestInspectCert(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name     string
		notAfter time.Time
		status   string
		days     int
	}{
		{"valid", now.Add(90 * 24 * time.Hour), "valid", 90},
		{"expiring", now.Add(10 * 24 * time.Hour), "expiring", 10},
		{"expired", now.Add(-24 * time.Hour), "expired", -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cert := &x509.Certificate{
				NotAfter: tc.notAfter,
				Issuer:   pkix.Name{CommonName: "Relay Test CA"},
			}
			cs := inspectCert(tls.ConnectionState{PeerCertificates: []*x509.Certificate{cert}}, now)
			require.NotNil(t, cs)
			assert.Equal(t, tc.status, cs.Status)
			assert.Equal(t, tc.days, cs.DaysLeft)
			assert.Equal(t, "Relay Test CA", cs.Issuer)
		})
	}

	assert.Nil(t, inspectCert(tls.ConnectionState{}, now))
}

// --- manager ------------------------------------------------------------------

func TestSend_NotConnectedReturnsFalse(t *testing.T) {
	m := New(Options{URL: "ws://127.0.0.1:1/"})
	assert.Equal(t, Disconnected, m.State())
	assert.False(t, m.Send([]byte("payload")))
}

func TestRun_WelcomeThenSend(t *testing.T) {
	url, peers := startServer(t, false)
	reg := metrics.New()
	welcome := &envelope.Welcome{WorkerID: "pixel", DeviceID: "pixel-device", Origin: "lab"}
	m := New(Options{URL: url, Secret: "s3cret", Welcome: welcome, Metrics: reg})
	run(t, m)

	p := nextPeer(t, peers)
	assert.Equal(t, "Bearer s3cret", p.header.Get("Authorization"))

	got, err := envelope.UnmarshalWelcome(readBinary(t, p.conn))
	require.NoError(t, err)
	assert.Equal(t, "pixel", got.WorkerID)
	assert.Equal(t, "pixel-device", got.DeviceID)

	waitState(t, m, Connected)
	require.True(t, m.Send([]byte("frame-1")))
	assert.Equal(t, []byte("frame-1"), readBinary(t, p.conn))
	assert.Equal(t, float64(Connected), reg.Snapshot()["relay_data_state"])
}

func TestRun_NoSecretNoAuthHeader(t *testing.T) {
	url, peers := startServer(t, false)
	run(t, New(Options{URL: url}))

	p := nextPeer(t, peers)
	assert.Empty(t, p.header.Get("Authorization"))
}

func TestRun_InboundFramesReachHandler(t *testing.T) {
	url, peers := startServer(t, false)
	got := make(chan []byte, 1)
	m := New(Options{URL: url, Handler: func(frame []byte) { got <- frame }})
	run(t, m)

	p := nextPeer(t, peers)
	waitState(t, m, Connected)
	require.NoError(t, p.conn.WriteMessage(websocket.TextMessage, []byte("ignored")))
	require.NoError(t, p.conn.WriteMessage(websocket.BinaryMessage, []byte{0x08, 0x01}))

	select {
	case frame := <-got:
		assert.Equal(t, []byte{0x08, 0x01}, frame)
	case <-time.After(3 * time.Second):
		t.Fatal("handler not called")
	}
}

func TestRun_ReconnectsAfterDrop(t *testing.T) {
	url, peers := startServer(t, false)
	m := New(Options{
		URL:         url,
		Welcome:     &envelope.Welcome{WorkerID: "w"},
		BackoffUnit: 10 * time.Millisecond,
	})
	run(t, m)

	first := nextPeer(t, peers)
	readBinary(t, first.conn)
	waitState(t, m, Connected)
	first.conn.Close()

	second := nextPeer(t, peers)
	w, err := envelope.UnmarshalWelcome(readBinary(t, second.conn))
	require.NoError(t, err)
	assert.Equal(t, "w", w.WorkerID)
	waitState(t, m, Connected)
	assert.True(t, m.Send([]byte("after-reconnect")))
	assert.Equal(t, []byte("after-reconnect"), readBinary(t, second.conn))
}

func TestRun_DialFailuresKeepRetrying(t *testing.T) {
	var calls atomic.Int32
	m := New(Options{
		URL:         "ws://unreachable.invalid/",
		BackoffUnit: time.Millisecond,
		Dial: func(ctx context.Context, url string, h http.Header) (*websocket.Conn, error) {
			calls.Add(1)
			return nil, errors.New("connection refused")
		},
	})
	stop := run(t, m)

	require.Eventually(t, func() bool { return calls.Load() >= 4 }, 3*time.Second, 5*time.Millisecond)
	assert.NotEqual(t, Connected, m.State())
	assert.False(t, m.Send([]byte("x")))
	stop()
	assert.Equal(t, Disconnected, m.State())
}

func TestRun_CancelClosesConnection(t *testing.T) {
	url, peers := startServer(t, false)
	m := New(Options{URL: url})
	stop := run(t, m)

	p := nextPeer(t, peers)
	waitState(t, m, Connected)
	stop()

	assert.Equal(t, Disconnected, m.State())
	assert.False(t, m.Send([]byte("late")))
	p.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := p.conn.ReadMessage()
	assert.Error(t, err)
}

func TestRun_TLS(t *testing.T) {
	url, peers := startServer(t, true)
	m := New(Options{
		URL: url,
		Dial: func(ctx context.Context, url string, h http.Header) (*websocket.Conn, error) {
			d := websocket.Dialer{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}} //nolint:gosec // test server
			c, _, err := d.DialContext(ctx, url, h)
			return c, err
		},
	})
	run(t, m)

	p := nextPeer(t, peers)
	waitState(t, m, Connected)
	require.True(t, m.Send([]byte("over-tls")))
	assert.Equal(t, []byte("over-tls"), readBinary(t, p.conn))
}
