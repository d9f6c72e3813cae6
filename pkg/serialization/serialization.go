// Package serialization abstracts the encoding used for persisted state
// (cache snapshots, metrics snapshots) behind small Encoder/Decoder
// interfaces so the on-disk format can be swapped without touching callers.
package serialization

import "io"

const (
	// JSONType selects the JSON serialization format.
	JSONType = "json"

	// GobType selects the gob serialization format.
	GobType = "gob"
)

// Encoder writes a value to an underlying stream.
type Encoder interface {
	Encode(v interface{}) error
}

// Decoder reads a value from an underlying stream.
type Decoder interface {
	Decode(v interface{}) error
}

// EncoderFunc constructs an Encoder over w.
type EncoderFunc func(w io.Writer) Encoder

// DecoderFunc constructs a Decoder over r.
type DecoderFunc func(r io.Reader) Decoder
