package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/relaystack/relayworker/collector/internal/store"
)

// Commander delivers a control command to a connected worker.
type Commander interface {
	Command(device, cmd string) bool
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	store *store.Store
	cmd   Commander
	mux   *http.ServeMux
}

// New creates a Handler reading from st. cmd may be nil, in which case
// command routes answer 503.
func New(st *store.Store, cmd Commander) http.Handler {
	h := &Handler{store: st, cmd: cmd, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/devices", h.listDevices)
	h.mux.HandleFunc("/api/v1/devices/", h.device) // subtree: {id} and {id}/status

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	devices := h.store.List()
	resp := HealthResponse{Status: "ok", DeviceCount: len(devices)}
	for _, d := range devices {
		switch {
		case d.DataConnected:
			resp.DataConnected++
		case d.ControlConnected:
			resp.ControlOnly++
		default:
			resp.Disconnected++
		}
	}
	jsonResp(w, http.StatusOK, resp)
}

func (h *Handler) listDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	devices := h.store.List()
	out := make([]DeviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, toDeviceResponse(d))
	}
	jsonResp(w, http.StatusOK, out)
}

// device dispatches /api/v1/devices/{id} and /api/v1/devices/{id}/status.
func (h *Handler) device(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/devices/")
	if rest == "" {
		h.listDevices(w, r)
		return
	}
	if id, ok := strings.CutSuffix(rest, "/status"); ok && id != "" {
		h.requestStatus(w, r, id)
		return
	}
	if strings.Contains(rest, "/") {
		jsonErr(w, http.StatusNotFound, "not found")
		return
	}
	h.getDevice(w, r, rest)
}

func (h *Handler) getDevice(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	d, ok := h.live(id)
	if !ok {
		jsonErr(w, http.StatusNotFound, "device not found")
		return
	}
	jsonResp(w, http.StatusOK, toDeviceResponse(d))
}

func (h *Handler) requestStatus(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.cmd == nil {
		jsonErr(w, http.StatusServiceUnavailable, "commands unavailable")
		return
	}

	d, ok := h.live(id)
	if !ok || !d.ControlConnected {
		jsonErr(w, http.StatusNotFound, "device has no control channel")
		return
	}
	if !h.cmd.Command(id, "status") {
		slog.Warn("api: status command not delivered", "device", id)
		jsonErr(w, http.StatusServiceUnavailable, "command not delivered")
		return
	}
	jsonResp(w, http.StatusAccepted, CommandResponse{Device: id, Cmd: "status", Sent: true})
}

// --- helpers ----------------------------------------------------------------

// live returns the device with id if List would include it.
func (h *Handler) live(id string) (store.Device, bool) {
	for _, d := range h.store.List() {
		if d.ID == id {
			return d, true
		}
	}
	return store.Device{}, false
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func toDeviceResponse(d store.Device) DeviceResponse {
	resp := DeviceResponse{
		ID:               d.ID,
		DeviceID:         d.DeviceID,
		UserAgent:        d.UserAgent,
		VersionName:      d.VersionName,
		VersionCode:      d.VersionCode,
		Origin:           d.Origin,
		RemoteIP:         d.RemoteIP,
		DataConnected:    d.DataConnected,
		ControlConnected: d.ControlConnected,
		Frames:           d.Frames,
		Bytes:            d.Bytes,
		Responses:        d.Responses,
		Raw:              d.Raw,
		LastSeen:         d.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if !d.LastHeartbeat.IsZero() {
		resp.LastHeartbeat = d.LastHeartbeat.UTC().Format(time.RFC3339)
	}
	return resp
}
