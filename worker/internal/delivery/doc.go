// Package delivery moves intake payloads to the data channel with
// at-least-once semantics.
//
// A Scanner (and optionally a TCP Listener) pushes Items onto an unbounded
// Queue; a Pool of workers pops them and sends them. An item leaves the system
// only after a successful send, at which point its source file is removed.
// Every other outcome puts it back on the queue, or, once the queue is closed,
// leaves it on disk for the next run.
package delivery
