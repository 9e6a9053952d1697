package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/relaystack/relayworker/collector/internal/api"
	"github.com/relaystack/relayworker/collector/internal/store"
)

// --- test helpers -----------------------------------------------------------

type fakeCommander struct {
	ok   bool
	sent []string
}

func (f *fakeCommander) Command(device, cmd string) bool {
	f.sent = append(f.sent, device+":"+cmd)
	return f.ok
}

func newStore() *store.Store {
	st := store.New(5 * time.Minute)
	st.Update("pixel", func(d *store.Device) {
		d.DeviceID = "pixel-device"
		d.UserAgent = "relay-worker/dev"
		d.DataConnected = true
		d.ControlConnected = true
		d.Frames = 3
		d.LastHeartbeat = time.Unix(1700000000, 0)
	})
	st.Update("tablet", func(d *store.Device) {
		d.ControlConnected = true
	})
	st.Update("old", func(d *store.Device) {})
	return st
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

// --- /api/v1/health ---------------------------------------------------------

func TestHealth_EmptyStore(t *testing.T) {
	h := api.New(store.New(time.Minute), nil)
	rr := do(t, h, http.MethodGet, "/api/v1/health")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp api.HealthResponse
	decode(t, rr, &resp)
	if resp.Status != "ok" || resp.DeviceCount != 0 {
		t.Errorf("health: got %+v", resp)
	}
}

func TestHealth_Counts(t *testing.T) {
	h := api.New(newStore(), nil)
	var resp api.HealthResponse
	decode(t, do(t, h, http.MethodGet, "/api/v1/health"), &resp)

	want := api.HealthResponse{Status: "ok", DeviceCount: 3, DataConnected: 1, ControlOnly: 1, Disconnected: 1}
	if resp != want {
		t.Errorf("health: got %+v, want %+v", resp, want)
	}
}

func TestHealth_MethodNotAllowed(t *testing.T) {
	h := api.New(newStore(), nil)
	if rr := do(t, h, http.MethodPost, "/api/v1/health"); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", rr.Code)
	}
}

// --- /api/v1/devices --------------------------------------------------------

func TestDevices_List(t *testing.T) {
	h := api.New(newStore(), nil)
	rr := do(t, h, http.MethodGet, "/api/v1/devices")
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q", ct)
	}

	var out []api.DeviceResponse
	decode(t, rr, &out)
	if len(out) != 3 {
		t.Fatalf("devices: got %d, want 3", len(out))
	}
	// Ordered by id.
	if out[0].ID != "old" || out[1].ID != "pixel" || out[2].ID != "tablet" {
		t.Errorf("order: got %s, %s, %s", out[0].ID, out[1].ID, out[2].ID)
	}
}

func TestDevices_TrailingSlashLists(t *testing.T) {
	h := api.New(newStore(), nil)
	var out []api.DeviceResponse
	decode(t, do(t, h, http.MethodGet, "/api/v1/devices/"), &out)
	if len(out) != 3 {
		t.Errorf("devices: got %d, want 3", len(out))
	}
}

func TestDevice_Get(t *testing.T) {
	h := api.New(newStore(), nil)
	rr := do(t, h, http.MethodGet, "/api/v1/devices/pixel")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}

	var d api.DeviceResponse
	decode(t, rr, &d)
	if d.DeviceID != "pixel-device" || d.Frames != 3 || !d.DataConnected {
		t.Errorf("device: got %+v", d)
	}
	if d.LastHeartbeat != "2023-11-14T22:13:20Z" {
		t.Errorf("last_heartbeat: got %q", d.LastHeartbeat)
	}
	if d.LastSeen == "" {
		t.Error("last_seen is empty")
	}
}

func TestDevice_Unknown(t *testing.T) {
	h := api.New(newStore(), nil)
	if rr := do(t, h, http.MethodGet, "/api/v1/devices/nope"); rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rr.Code)
	}
}

func TestDevice_StaleIsNotFound(t *testing.T) {
	st := store.New(time.Millisecond)
	st.Update("gone", func(d *store.Device) {})
	time.Sleep(5 * time.Millisecond)

	h := api.New(st, nil)
	if rr := do(t, h, http.MethodGet, "/api/v1/devices/gone"); rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rr.Code)
	}
}

func TestDevice_MethodNotAllowed(t *testing.T) {
	h := api.New(newStore(), nil)
	if rr := do(t, h, http.MethodDelete, "/api/v1/devices/pixel"); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", rr.Code)
	}
}

// --- /api/v1/devices/{id}/status ----------------------------------------------

func TestStatus_Sent(t *testing.T) {
	cmd := &fakeCommander{ok: true}
	h := api.New(newStore(), cmd)
	rr := do(t, h, http.MethodPost, "/api/v1/devices/tablet/status")

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status: got %d, want 202 (body: %s)", rr.Code, rr.Body.String())
	}
	var resp api.CommandResponse
	decode(t, rr, &resp)
	if !resp.Sent || resp.Cmd != "status" || resp.Device != "tablet" {
		t.Errorf("response: got %+v", resp)
	}
	if len(cmd.sent) != 1 || cmd.sent[0] != "tablet:status" {
		t.Errorf("commands: got %v", cmd.sent)
	}
}

func TestStatus_NoControlChannel(t *testing.T) {
	cmd := &fakeCommander{ok: true}
	h := api.New(newStore(), cmd)
	if rr := do(t, h, http.MethodPost, "/api/v1/devices/old/status"); rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rr.Code)
	}
	if len(cmd.sent) != 0 {
		t.Errorf("commands: got %v, want none", cmd.sent)
	}
}

func TestStatus_NotDelivered(t *testing.T) {
	h := api.New(newStore(), &fakeCommander{ok: false})
	if rr := do(t, h, http.MethodPost, "/api/v1/devices/pixel/status"); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status: got %d, want 503", rr.Code)
	}
}

func TestStatus_NoCommander(t *testing.T) {
	h := api.New(newStore(), nil)
	if rr := do(t, h, http.MethodPost, "/api/v1/devices/pixel/status"); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status: got %d, want 503", rr.Code)
	}
}

func TestStatus_RequiresPost(t *testing.T) {
	h := api.New(newStore(), &fakeCommander{ok: true})
	if rr := do(t, h, http.MethodGet, "/api/v1/devices/pixel/status"); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", rr.Code)
	}
}
