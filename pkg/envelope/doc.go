// Package envelope implements the structured message codec exchanged with the
// collection endpoint over the data channel.
//
// Envelopes use the protobuf wire format and are encoded by hand with
// protowire, so there is no generated code to keep in sync:
//
//   - Request{id, method, login_request, rpc_request}: carries a Method
//   - Response{id, status, login_response, rpc_response}: carries a Status
//   - Welcome: the handshake frame written once per data connection
//
// Decoding is strict about known fields (a wire-type mismatch or truncated
// value is ErrMalformed) and lenient about unknown ones: unknown top-level
// fields are kept and written back by Marshal, so a message that passes
// through the worker untouched is forwarded byte-for-byte.
package envelope
