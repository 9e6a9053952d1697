package envelope

import "fmt"

// Welcome is the handshake written by the worker as the first frame of every
// data channel connection.
type Welcome struct {
	WorkerID    string
	Origin      string
	VersionCode int32
	VersionName string
	UserAgent   string
	DeviceID    string
}

// Marshal encodes w.
func (w *Welcome) Marshal() []byte {
	var b []byte
	b = appendString(b, 1, w.WorkerID)
	b = appendString(b, 2, w.Origin)
	b = appendInt32(b, 3, w.VersionCode)
	b = appendString(b, 4, w.VersionName)
	b = appendString(b, 5, w.UserAgent)
	return appendString(b, 6, w.DeviceID)
}

// UnmarshalWelcome decodes a Welcome frame. A frame without a worker id is
// rejected, since every worker announces one.
func UnmarshalWelcome(raw []byte) (*Welcome, error) {
	w := &Welcome{}
	err := walk(raw, func(f field) error {
		var err error
		switch f.num {
		case 1:
			w.WorkerID, err = f.string()
		case 2:
			w.Origin, err = f.string()
		case 3:
			w.VersionCode, err = f.int32()
		case 4:
			w.VersionName, err = f.string()
		case 5:
			w.UserAgent, err = f.string()
		case 6:
			w.DeviceID, err = f.string()
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("welcome: %w", err)
	}
	if w.WorkerID == "" {
		return nil, fmt.Errorf("welcome: %w: missing worker id", ErrMalformed)
	}
	return w, nil
}
