package serialization

import (
	"encoding/gob"
	"io"
)

// Gob wraps gob.Encoder and gob.Decoder behind the package interfaces.
type Gob struct {
	dec *gob.Decoder
	enc *gob.Encoder
}

// Encode serializes v in gob format.
func (g *Gob) Encode(v interface{}) error {
	return g.enc.Encode(v)
}

// Decode reads a gob-encoded value into v.
func (g *Gob) Decode(v interface{}) error {
	return g.dec.Decode(v)
}

// GobEncoder returns an Encoder writing gob-encoded data to w.
func GobEncoder(w io.Writer) Encoder {
	return &Gob{enc: gob.NewEncoder(w)}
}

// GobDecoder returns a Decoder reading gob-encoded data from r.
func GobDecoder(r io.Reader) Decoder {
	return &Gob{dec: gob.NewDecoder(r)}
}
