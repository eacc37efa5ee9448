// Package codec frames every mesh and voting-plane message as a
// self-describing JSON record carrying a "type" discriminant (see
// frames.go), on top of a small versioned marshal/unmarshal layer.
package codec

import (
	"encoding/json"
	"fmt"
)

// CodecVersion represents the codec version
type CodecVersion uint16

const (
	// CurrentVersion is the current codec version
	CurrentVersion CodecVersion = 0
)

// Codec provides marshaling/unmarshaling
var Codec = &JSONCodec{}

// JSONCodec implements JSON encoding/decoding
type JSONCodec struct{}

// Marshal marshals an object to bytes
func (c *JSONCodec) Marshal(version CodecVersion, v interface{}) ([]byte, error) {
	if version != CurrentVersion {
		return nil, fmt.Errorf("unsupported codec version: %d", version)
	}
	return json.Marshal(v)
}

// Unmarshal unmarshals bytes to an object
func (c *JSONCodec) Unmarshal(data []byte, v interface{}) (CodecVersion, error) {
	err := json.Unmarshal(data, v)
	return CurrentVersion, err
}

// PeekType reports a frame's MessageType without decoding it fully,
// the step meshlink takes to pick which concrete struct to Unmarshal
// into. It is part of the codec's envelope handling, alongside
// Marshal/Unmarshal, rather than a standalone helper.
func (c *JSONCodec) PeekType(raw []byte) (MessageType, error) {
	return PeekType(raw)
}