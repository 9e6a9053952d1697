// Package api implements the collector's HTTP API.
//
// New(store, commander) returns an http.Handler that serves:
//
//	GET  /api/v1/health: device counts
//	GET  /api/v1/devices: all live devices ([]DeviceResponse)
//	GET  /api/v1/devices/{id}: single device; 404 if unknown or stale
//	POST /api/v1/devices/{id}/status: ask the worker for a status report
//
// Responses are JSON. Read routes return 405 for non-GET methods.
package api
