package serialization

import (
	"encoding/json"
	"io"
)

// JSON wraps json.Encoder and json.Decoder behind the package interfaces.
type JSON struct {
	dec *json.Decoder
	enc *json.Encoder
}

// Encode serializes v as JSON.
func (j *JSON) Encode(v interface{}) error {
	return j.enc.Encode(v)
}

// Decode reads a JSON value into v.
func (j *JSON) Decode(v interface{}) error {
	return j.dec.Decode(v)
}

// JSONEncoder returns an Encoder writing JSON to w.
func JSONEncoder(w io.Writer) Encoder {
	return &JSON{enc: json.NewEncoder(w)}
}

// JSONDecoder returns a Decoder reading JSON from r.
func JSONDecoder(r io.Reader) Decoder {
	return &JSON{dec: json.NewDecoder(r)}
}
