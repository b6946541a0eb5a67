package codec

import (
	"github.com/fxamacker/cbor/v2"
)

// CBORCodec serializes RTO payloads with a compact, self-describing binary
// encoding. Chosen over the teacher's hand-rolled length-prefixed binary
// format because CBOR payloads are self-describing: a dispatcher can decode
// an argument tuple without the sender and receiver agreeing on a bespoke
// byte layout ahead of time, which is what lets the module runtime's
// method-id-to-dispatcher table stay purely numeric.
type CBORCodec struct{}

func (c *CBORCodec) Encode(v any) ([]byte, error) {
	return cbor.Marshal(v)
}

func (c *CBORCodec) Decode(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}

func (c *CBORCodec) Type() CodecType {
	return CodecTypeCBOR
}
