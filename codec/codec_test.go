package codec

import "testing"

type sample struct {
	Name  string
	Value int
}

func TestJSONCodecRoundTrip(t *testing.T) {
	c := &JSONCodec{}
	original := &sample{Name: "a", Value: 1}

	data, err := c.Encode(original)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var decoded sample
	if err := c.Decode(data, &decoded); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded != *original {
		t.Fatalf("decoded = %+v, want %+v", decoded, original)
	}
	if c.Type() != CodecTypeJSON {
		t.Fatalf("Type() = %v, want CodecTypeJSON", c.Type())
	}
}

func TestCBORCodecRoundTrip(t *testing.T) {
	c := &CBORCodec{}
	original := &sample{Name: "b", Value: 2}

	data, err := c.Encode(original)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var decoded sample
	if err := c.Decode(data, &decoded); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded != *original {
		t.Fatalf("decoded = %+v, want %+v", decoded, original)
	}
	if c.Type() != CodecTypeCBOR {
		t.Fatalf("Type() = %v, want CodecTypeCBOR", c.Type())
	}
}

func TestGetCodecDefaultsToCBOR(t *testing.T) {
	if _, ok := GetCodec(CodecTypeCBOR).(*CBORCodec); !ok {
		t.Fatalf("GetCodec(CodecTypeCBOR) did not return *CBORCodec")
	}
	if _, ok := GetCodec(CodecTypeJSON).(*JSONCodec); !ok {
		t.Fatalf("GetCodec(CodecTypeJSON) did not return *JSONCodec")
	}
}
