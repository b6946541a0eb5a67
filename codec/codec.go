// Package codec provides the payload serialization layer used to encode and
// decode RTO call arguments, return values, and handle-exchange lists.
//
// It defines a pluggable Codec interface with two implementations:
//   - CBORCodec: compact self-describing binary format, the default for
//     wire payloads (named explicitly as the example codec for this core).
//   - JSONCodec: human-readable alternative, selected with CodecTypeJSON.
//     No package in this module uses it by default (the app descriptor
//     is parsed as TOML).
//
// Unlike a fixed envelope codec, this Codec is generic: it encodes and
// decodes whatever argument/reply value a trait's method signature declares,
// rather than one specific message shape.
package codec

// CodecType identifies the serialization format.
type CodecType byte

const (
	CodecTypeCBOR CodecType = 0
	CodecTypeJSON CodecType = 1
)

// Codec is the interface for serialization/deserialization of RTO payloads.
type Codec interface {
	Encode(v any) ([]byte, error)    // Serialize a value to bytes
	Decode(data []byte, v any) error // Deserialize bytes back into v
	Type() CodecType                 // Return the codec type identifier
}

// GetCodec is a factory function that returns the appropriate codec by type.
func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}
	return &CBORCodec{}
}
