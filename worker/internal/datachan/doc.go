// Package datachan maintains the single websocket data channel to the
// collector.
//
// Manager.Run is the connector: it dials, writes the Welcome frame, marks the
// channel Connected and reads inbound frames until the connection fails, then
// backs off (1, 2, 4, 8, 16, 30, 30, ... units) and dials again. A successful
// connect resets the backoff. Send never blocks on reconnection: it reports
// false at once when the channel is not Connected.
package datachan
