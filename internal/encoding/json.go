package encoding

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// jsonCodec implements Codec for JSON encoding.
type jsonCodec struct {
	pretty bool
}

// NewJSONCodec creates a new JSON codec.
func NewJSONCodec(pretty bool) Codec {
	return &jsonCodec{pretty: pretty}
}

// Encode encodes the value to JSON bytes.
func (c *jsonCodec) Encode(v any) ([]byte, error) {
	if v == nil {
		return nil, ErrNilValue
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	if c.pretty {
		encoder.SetIndent("", "  ")
	}

	if err := encoder.Encode(v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncodingFailed, err)
	}

	// Remove trailing newline added by encoder
	result := buf.Bytes()
	if len(result) > 0 && result[len(result)-1] == '\n' {
		result = result[:len(result)-1]
	}

	return result, nil
}

// Decode decodes JSON bytes into the value.
func (c *jsonCodec) Decode(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}

	decoder := json.NewDecoder(bytes.NewReader(data))

	// Use number type for better precision
	decoder.UseNumber()

	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrDecodingFailed, err)
	}

	return nil
}

// ContentType returns the JSON content type.
func (c *jsonCodec) ContentType() string {
	return ContentTypeJSON
}
