// Package auth guards the collector's endpoints with the worker's shared
// secret.
//
// Bearer(mode, secret, next) wraps an http.Handler (the websocket endpoints);
// UnaryInterceptor(mode, secret) does the same for gRPC calls, reading the
// "authorization" metadata key. When mode != "bearer" or secret == "",
// everything passes through, which suits local development.
package auth
