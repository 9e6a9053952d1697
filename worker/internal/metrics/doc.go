// Package metrics holds the worker's Prometheus collectors.
//
// Every component receives the same *Metrics; a nil *Metrics is valid and
// records nothing, which keeps unit tests free of registry plumbing.
//
// Handler() serves the private registry in the Prometheus text format.
// Snapshot() gathers the registry and folds each family into a single sum,
// the compact view the control channel returns for a "status" command.
package metrics
