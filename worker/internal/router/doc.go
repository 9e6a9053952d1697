// Package router decodes envelopes that no hook consumed and dispatches them
// to a handler chosen by method (requests) or status (responses).
//
// Handlers are registered in a Table before the Router is built. Anything
// without a handler is forwarded over the data channel unchanged, except
// unset responses, which are never forwarded.
//
// Frames received from the collector go through Dispatch instead, which runs
// the same handlers but never forwards what it does not handle.
package router
