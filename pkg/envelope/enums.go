package envelope

import "strconv"

// Method discriminates Request envelopes.
type Method int32

const (
	MethodUnset      Method = 0
	MethodLogin      Method = 1
	MethodRPCRequest Method = 2
)

var methodNames = map[Method]string{
	MethodUnset:      "UNSET",
	MethodLogin:      "LOGIN",
	MethodRPCRequest: "RPC_REQUEST",
}

// String returns the schema name of m, or METHOD_<n> for values the schema
// does not define.
func (m Method) String() string {
	if s, ok := methodNames[m]; ok {
		return s
	}
	return "METHOD_" + strconv.Itoa(int(m))
}

// Status discriminates Response envelopes.
type Status int32

const (
	StatusUnset   Status = 0
	StatusSuccess Status = 1
	StatusError   Status = 2
)

var statusNames = map[Status]string{
	StatusUnset:   "UNSET",
	StatusSuccess: "SUCCESS",
	StatusError:   "ERROR",
}

// String returns the schema name of s, or STATUS_<n>.
func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "STATUS_" + strconv.Itoa(int(s))
}

// AuthStatus is the outcome reported in a LoginResponse.
type AuthStatus int32

const (
	AuthStatusUnset        AuthStatus = 0
	AuthStatusGotAuthToken AuthStatus = 1
	AuthStatusError        AuthStatus = 2
)

// RPCStatus is the outcome reported in an RPCResponse.
type RPCStatus int32

const (
	RPCStatusUnset   RPCStatus = 0
	RPCStatusSuccess RPCStatus = 1
	RPCStatusError   RPCStatus = 2
)
