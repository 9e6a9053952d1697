package envelope

import (
	"bytes"
	"fmt"
)

// Response is an envelope carrying a Status. A Response whose Status is
// StatusUnset is not considered set and is never forwarded.
type Response struct {
	ID     uint32
	Status Status
	Login  *LoginResponse
	RPC    *RPCResponse

	unknown []byte
}

// LoginResponse answers a LOGIN request.
type LoginResponse struct {
	WorkerID            string
	Status              AuthStatus
	SupportsCompression bool
	UserAgent           string

	unknown []byte
}

// RPCResponse answers an RPC_REQUEST request.
type RPCResponse struct {
	RPCStatus RPCStatus
	Responses []SingleRPCResponse

	unknown []byte
}

// SingleRPCResponse is one result inside an RPCResponse batch.
type SingleRPCResponse struct {
	Method  int32
	Payload []byte

	unknown []byte
}

// IsSet reports whether a handler populated the response.
func (r *Response) IsSet() bool {
	return r != nil && r.Status != StatusUnset
}

// Marshal encodes r, including any unknown fields it was decoded with, at
// every level.
func (r *Response) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(r.ID))
	b = appendInt32(b, 2, int32(r.Status))
	if r.Login != nil {
		b = appendMessage(b, 3, r.Login.marshal())
	}
	if r.RPC != nil {
		b = appendMessage(b, 4, r.RPC.marshal())
	}
	return append(b, r.unknown...)
}

// UnmarshalResponse decodes a Response envelope.
func UnmarshalResponse(raw []byte) (*Response, error) {
	r := &Response{}
	err := walk(raw, func(f field) error {
		var err error
		switch f.num {
		case 1:
			r.ID, err = f.uint32()
		case 2:
			var v int32
			v, err = f.int32()
			r.Status = Status(v)
		case 3:
			var msg []byte
			if msg, err = f.message(); err == nil {
				r.Login, err = unmarshalLoginResponse(msg)
			}
		case 4:
			var msg []byte
			if msg, err = f.message(); err == nil {
				r.RPC, err = unmarshalRPCResponse(msg)
			}
		default:
			r.unknown = append(r.unknown, f.raw...)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("response: %w", err)
	}
	return r, nil
}

func (l *LoginResponse) marshal() []byte {
	var b []byte
	b = appendString(b, 1, l.WorkerID)
	b = appendInt32(b, 2, int32(l.Status))
	b = appendBool(b, 3, l.SupportsCompression)
	b = appendString(b, 4, l.UserAgent)
	return append(b, l.unknown...)
}

func unmarshalLoginResponse(raw []byte) (*LoginResponse, error) {
	l := &LoginResponse{}
	err := walk(raw, func(f field) error {
		var err error
		switch f.num {
		case 1:
			l.WorkerID, err = f.string()
		case 2:
			var v int32
			v, err = f.int32()
			l.Status = AuthStatus(v)
		case 3:
			l.SupportsCompression, err = f.bool()
		case 4:
			l.UserAgent, err = f.string()
		default:
			l.unknown = append(l.unknown, f.raw...)
		}
		return err
	})
	return l, err
}

func (r *RPCResponse) marshal() []byte {
	var b []byte
	b = appendInt32(b, 1, int32(r.RPCStatus))
	for i := range r.Responses {
		b = appendMessage(b, 2, r.Responses[i].marshal())
	}
	return append(b, r.unknown...)
}

func unmarshalRPCResponse(raw []byte) (*RPCResponse, error) {
	r := &RPCResponse{}
	err := walk(raw, func(f field) error {
		var err error
		switch f.num {
		case 1:
			var v int32
			v, err = f.int32()
			r.RPCStatus = RPCStatus(v)
		case 2:
			var msg []byte
			if msg, err = f.message(); err != nil {
				return err
			}
			var s *SingleRPCResponse
			if s, err = unmarshalSingleRPCResponse(msg); err == nil {
				r.Responses = append(r.Responses, *s)
			}
		default:
			r.unknown = append(r.unknown, f.raw...)
		}
		return err
	})
	return r, err
}

func (s *SingleRPCResponse) marshal() []byte {
	var b []byte
	b = appendInt32(b, 1, s.Method)
	b = appendBytes(b, 2, s.Payload)
	return append(b, s.unknown...)
}

func unmarshalSingleRPCResponse(raw []byte) (*SingleRPCResponse, error) {
	s := &SingleRPCResponse{}
	err := walk(raw, func(f field) error {
		var err error
		switch f.num {
		case 1:
			s.Method, err = f.int32()
		case 2:
			s.Payload, err = f.bytes()
		default:
			s.unknown = append(s.unknown, f.raw...)
		}
		return err
	})
	return s, err
}

// Equal reports whether r and o encode to the same bytes.
func (r *Response) Equal(o *Response) bool {
	if r == nil || o == nil {
		return r == o
	}
	return bytes.Equal(r.Marshal(), o.Marshal())
}
