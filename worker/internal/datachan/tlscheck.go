package datachan

import (
	"crypto/tls"
	"log/slog"
	"math"
	"time"

	"github.com/gorilla/websocket"
)

// CertStatus describes the leaf certificate presented by a wss:// peer.
type CertStatus struct {
	NotAfter time.Time
	Issuer   string
	DaysLeft int
	Status   string // valid | expiring | expired | unknown
}

// inspectCert classifies the leaf certificate of state as of now.
// It returns nil when the peer presented no certificate.
func inspectCert(state tls.ConnectionState, now time.Time) *CertStatus {
	if len(state.PeerCertificates) == 0 {
		return nil
	}
	leaf := state.PeerCertificates[0]
	daysLeft := leaf.NotAfter.Sub(now).Hours() / 24

	cs := &CertStatus{
		NotAfter: leaf.NotAfter.UTC(),
		Issuer:   leaf.Issuer.CommonName,
		DaysLeft: int(math.Floor(daysLeft)),
	}
	switch {
	case daysLeft <= 0:
		cs.Status = "expired"
	case daysLeft <= 30:
		cs.Status = "expiring"
	default:
		cs.Status = "valid"
	}
	return cs
}

// logCert records the certificate state of conn when it runs over TLS.
// Plain ws:// connections are ignored.
func logCert(conn *websocket.Conn, connID string) {
	tc, ok := conn.UnderlyingConn().(*tls.Conn)
	if !ok {
		return
	}
	cs := inspectCert(tc.ConnectionState(), time.Now())
	if cs == nil {
		return
	}
	attrs := []any{
		"conn_id", connID,
		"issuer", cs.Issuer,
		"not_after", cs.NotAfter.Format(time.RFC3339),
		"days_left", cs.DaysLeft,
		"status", cs.Status,
	}
	if cs.Status != "valid" {
		slog.Warn("datachan: peer certificate "+cs.Status, attrs...)
		return
	}
	slog.Debug("datachan: peer certificate", attrs...)
}
