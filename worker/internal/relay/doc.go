// Package relay assembles the worker: hook chain, router, data channel,
// delivery subsystem and control channel.
//
// Intercepted traffic takes the synchronous, best-effort path
// (InterceptRequest/InterceptResponse): hooks, then the router, then at most
// one Send, never waiting for a connection. Frames received from the
// collector run the response hooks and then Router.Dispatch; they are
// answered or dropped, never sent back unchanged. Intake files take the
// durable path through the delivery queue.
package relay
