// Package store keeps the in-memory state of every worker device seen by the
// collector, with TTL eviction of devices that have gone silent.
package store
