// Package ws implements the collector's websocket endpoints.
//
// Endpoint.ServeData accepts a worker's data channel ("/"): the first binary
// frame must be a Welcome, after which frames are recorded by the receiver.
// With login_on_connect set, a LOGIN request is pushed to the worker right
// after its welcome. Endpoint.ServeControl accepts the control channel
// ("/control") and records intro and heartbeat messages.
//
// Each connection gets a write pump that owns every write (frames and pings)
// and a read pump that owns every read. Endpoint.Run closes all connections
// when its context ends.
package ws
