package propval

import "github.com/vmihailenco/msgpack/v5"

// wireEntry is the on-the-wire shape of one key's scalar array. Only
// int, float and data kinds survive serialization — frame/node/function
// values are process-local handles with no wire form.
type wireEntry struct {
	Key    string    `msgpack:"key"`
	Kind   ValueKind `msgpack:"kind"`
	Ints   []int64   `msgpack:"ints,omitempty"`
	Floats []float64 `msgpack:"floats,omitempty"`
	Data   [][]byte  `msgpack:"data,omitempty"`
}

type wireMap struct {
	HasError bool        `msgpack:"has_error"`
	ErrMsg   string      `msgpack:"err_msg,omitempty"`
	Entries  []wireEntry `msgpack:"entries"`
}

// MarshalBinary encodes m's scalar keys (int, float, data) as msgpack.
// It is intended for diagnostic snapshots of a request's property map,
// not as a general persistence format. Returns ErrMapNotSerializable
// if any key holds a frame, node, or function handle.
func (m *Map) MarshalBinary() ([]byte, error) {
	w := wireMap{HasError: m.data.hasError, ErrMsg: m.data.errMsg}
	for _, k := range m.data.keys {
		a := m.data.values[k]
		switch a.kind {
		case KindInt:
			w.Entries = append(w.Entries, wireEntry{Key: k, Kind: KindInt, Ints: a.ints})
		case KindFloat:
			w.Entries = append(w.Entries, wireEntry{Key: k, Kind: KindFloat, Floats: a.floats})
		case KindData:
			w.Entries = append(w.Entries, wireEntry{Key: k, Kind: KindData, Data: a.data})
		default:
			return nil, ErrMapNotSerializable
		}
	}
	return msgpack.Marshal(&w)
}

// UnmarshalBinary replaces m's contents with the scalar keys encoded
// by a prior MarshalBinary call.
func (m *Map) UnmarshalBinary(b []byte) error {
	var w wireMap
	if err := msgpack.Unmarshal(b, &w); err != nil {
		return err
	}
	m.ensureOwned()
	m.data.keys = nil
	m.data.values = make(map[string]*array)
	m.data.hasError = w.HasError
	m.data.errMsg = w.ErrMsg
	for _, e := range w.Entries {
		a := &array{kind: e.Kind}
		switch e.Kind {
		case KindInt:
			a.ints = e.Ints
		case KindFloat:
			a.floats = e.Floats
		case KindData:
			a.data = e.Data
		}
		m.data.keys = append(m.data.keys, e.Key)
		m.data.values[e.Key] = a
	}
	return nil
}
