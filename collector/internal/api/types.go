package api

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status        string `json:"status"`
	DeviceCount   int    `json:"device_count"`
	DataConnected int    `json:"data_connected"`
	ControlOnly   int    `json:"control_only"`
	Disconnected  int    `json:"disconnected"`
}

// DeviceResponse is one device in GET /api/v1/devices or
// GET /api/v1/devices/{id}.
type DeviceResponse struct {
	ID               string `json:"id"`
	DeviceID         string `json:"device_id,omitempty"`
	UserAgent        string `json:"user_agent,omitempty"`
	VersionName      string `json:"version_name,omitempty"`
	VersionCode      int32  `json:"version_code,omitempty"`
	Origin           string `json:"origin,omitempty"`
	RemoteIP         string `json:"remote_ip,omitempty"`
	DataConnected    bool   `json:"data_connected"`
	ControlConnected bool   `json:"control_connected"`
	Frames           uint64 `json:"frames"`
	Bytes            uint64 `json:"bytes"`
	Responses        uint64 `json:"responses"`
	Raw              uint64 `json:"raw"`
	LastHeartbeat    string `json:"last_heartbeat,omitempty"` // RFC3339
	LastSeen         string `json:"last_seen"`                // RFC3339
}

// CommandResponse is the payload for POST /api/v1/devices/{id}/status.
type CommandResponse struct {
	Device string `json:"device"`
	Cmd    string `json:"cmd"`
	Sent   bool   `json:"sent"`
}

type errorResponse struct {
	Error string `json:"error"`
}
