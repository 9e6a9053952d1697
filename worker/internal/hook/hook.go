package hook

// Module is an interceptor. Name identifies it in logs and metrics.
type Module interface {
	Name() string
}

// Initializer is implemented by modules that need one-time setup.
// It is called once, by NewChain.
type Initializer interface {
	Init() error
}

// RequestTransformer may consume an intercepted request buffer.
//
// ok=false means the module declined or failed and the next module is tried.
// ok=true with a non-empty out replaces the buffer and is forwarded as-is;
// ok=true with an empty out means handled, nothing to forward.
type RequestTransformer interface {
	TransformRequest(in []byte) (out []byte, ok bool)
}

// ResponseTransformer is the response-side counterpart of RequestTransformer.
type ResponseTransformer interface {
	TransformResponse(in []byte) (out []byte, ok bool)
}

// TransformFunc is the function form of a transform capability.
type TransformFunc func(in []byte) ([]byte, bool)

// Funcs builds a Module from plain functions. Nil fields are absent
// capabilities.
type Funcs struct {
	ID       string
	OnInit   func() error
	Request  TransformFunc
	Response TransformFunc
}

func (f *Funcs) Name() string { return f.ID }

// Descriptor describes one loaded module.
type Descriptor struct {
	Name            string `json:"name"`
	RequestCapable  bool   `json:"request_capable"`
	ResponseCapable bool   `json:"response_capable"`

	request  TransformFunc
	response TransformFunc
}

// describe resolves the capabilities of m.
func describe(m Module) (Descriptor, func() error) {
	d := Descriptor{Name: m.Name()}
	var init func() error

	// Funcs carries its capabilities as possibly-nil fields rather than as
	// methods, so it is resolved directly.
	if f, ok := m.(*Funcs); ok {
		d.request, d.response, init = f.Request, f.Response, f.OnInit
	} else {
		if t, ok := m.(RequestTransformer); ok {
			d.request = t.TransformRequest
		}
		if t, ok := m.(ResponseTransformer); ok {
			d.response = t.TransformResponse
		}
		if i, ok := m.(Initializer); ok {
			init = i.Init
		}
	}
	d.RequestCapable = d.request != nil
	d.ResponseCapable = d.response != nil
	return d, init
}
