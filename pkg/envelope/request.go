package envelope

import (
	"bytes"
	"fmt"
)

// Request is an envelope carrying a Method. The payload field that matters
// depends on the method: Login for LOGIN, RPC for RPC_REQUEST.
type Request struct {
	ID     uint32
	Method Method
	Login  *LoginRequest
	RPC    *RPCRequest

	unknown []byte
}

// LoginRequest is the payload of a LOGIN request.
type LoginRequest struct {
	WorkerID string
	DeviceID string

	unknown []byte
}

// RPCRequest is the payload of an RPC_REQUEST request.
type RPCRequest struct {
	Requests []SingleRPCRequest
	Lat      float64
	Lon      float64

	unknown []byte
}

// SingleRPCRequest is one call inside an RPCRequest batch.
type SingleRPCRequest struct {
	Method       int32
	Payload      []byte
	IsCompressed bool

	unknown []byte
}

// HasPayload reports whether r carries the payload its method defines.
// Methods without a payload, including values outside the enum, report false.
func (r *Request) HasPayload() bool {
	switch r.Method {
	case MethodLogin:
		return r.Login != nil
	case MethodRPCRequest:
		return r.RPC != nil
	}
	return false
}

// Marshal encodes r, including any unknown fields it was decoded with, at
// every level.
func (r *Request) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(r.ID))
	b = appendInt32(b, 2, int32(r.Method))
	if r.Login != nil {
		b = appendMessage(b, 3, r.Login.marshal())
	}
	if r.RPC != nil {
		b = appendMessage(b, 4, r.RPC.marshal())
	}
	return append(b, r.unknown...)
}

// UnmarshalRequest decodes a Request envelope.
func UnmarshalRequest(raw []byte) (*Request, error) {
	r := &Request{}
	err := walk(raw, func(f field) error {
		var err error
		switch f.num {
		case 1:
			r.ID, err = f.uint32()
		case 2:
			var v int32
			v, err = f.int32()
			r.Method = Method(v)
		case 3:
			var msg []byte
			if msg, err = f.message(); err == nil {
				r.Login, err = unmarshalLoginRequest(msg)
			}
		case 4:
			var msg []byte
			if msg, err = f.message(); err == nil {
				r.RPC, err = unmarshalRPCRequest(msg)
			}
		default:
			r.unknown = append(r.unknown, f.raw...)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	return r, nil
}

func (l *LoginRequest) marshal() []byte {
	var b []byte
	b = appendString(b, 1, l.WorkerID)
	b = appendString(b, 2, l.DeviceID)
	return append(b, l.unknown...)
}

func unmarshalLoginRequest(raw []byte) (*LoginRequest, error) {
	l := &LoginRequest{}
	err := walk(raw, func(f field) error {
		var err error
		switch f.num {
		case 1:
			l.WorkerID, err = f.string()
		case 2:
			l.DeviceID, err = f.string()
		default:
			l.unknown = append(l.unknown, f.raw...)
		}
		return err
	})
	return l, err
}

func (r *RPCRequest) marshal() []byte {
	var b []byte
	for i := range r.Requests {
		b = appendMessage(b, 1, r.Requests[i].marshal())
	}
	b = appendDouble(b, 2, r.Lat)
	b = appendDouble(b, 3, r.Lon)
	return append(b, r.unknown...)
}

func unmarshalRPCRequest(raw []byte) (*RPCRequest, error) {
	r := &RPCRequest{}
	err := walk(raw, func(f field) error {
		var err error
		switch f.num {
		case 1:
			var msg []byte
			if msg, err = f.message(); err != nil {
				return err
			}
			var s *SingleRPCRequest
			if s, err = unmarshalSingleRPCRequest(msg); err == nil {
				r.Requests = append(r.Requests, *s)
			}
		case 2:
			r.Lat, err = f.double()
		case 3:
			r.Lon, err = f.double()
		default:
			r.unknown = append(r.unknown, f.raw...)
		}
		return err
	})
	return r, err
}

func (s *SingleRPCRequest) marshal() []byte {
	var b []byte
	b = appendInt32(b, 1, s.Method)
	b = appendBytes(b, 2, s.Payload)
	b = appendBool(b, 3, s.IsCompressed)
	return append(b, s.unknown...)
}

func unmarshalSingleRPCRequest(raw []byte) (*SingleRPCRequest, error) {
	s := &SingleRPCRequest{}
	err := walk(raw, func(f field) error {
		var err error
		switch f.num {
		case 1:
			s.Method, err = f.int32()
		case 2:
			s.Payload, err = f.bytes()
		case 3:
			s.IsCompressed, err = f.bool()
		default:
			s.unknown = append(s.unknown, f.raw...)
		}
		return err
	})
	return s, err
}

// Equal reports whether r and o encode to the same bytes.
func (r *Request) Equal(o *Request) bool {
	if r == nil || o == nil {
		return r == o
	}
	return bytes.Equal(r.Marshal(), o.Marshal())
}
