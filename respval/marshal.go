package respval

import (
	"bytes"
	"encoding/json"
)

// MarshalJSON renders o preserving key insertion order, so a response
// built by Response Projection encodes with fields in the order the
// client's operation named them rather than encoding/json's default
// alphabetical map-key order.
func (o *Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(o.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON renders a in order.
func (a *Array) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, item := range a.Items {
		if i > 0 {
			buf.WriteByte(',')
		}
		ib, err := json.Marshal(item)
		if err != nil {
			return nil, err
		}
		buf.Write(ib)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}
