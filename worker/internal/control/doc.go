// Package control keeps the liveness channel to the collector: an intro on
// connect, a heartbeat on a fixed period, and replies to a small set of text
// commands. It never carries payload data and reconnects on a fixed delay.
package control
