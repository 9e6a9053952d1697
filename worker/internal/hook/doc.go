// Package hook runs intercepted request and response buffers through an
// ordered chain of interceptor modules before normal routing.
//
// A Module exposes up to three optional capabilities, discovered with type
// assertions: Initializer, RequestTransformer and ResponseTransformer. A
// module lacking one of them is simply not capable of it. How a module is
// located and bound into the process is the caller's business; the chain only
// sees the capability contract.
//
// The chain is built once by NewChain and never changes afterwards, so it is
// safe to call from any number of goroutines without locking.
package hook
