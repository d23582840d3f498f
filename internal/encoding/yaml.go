package encoding

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// yamlCodec implements Codec for YAML encoding.
type yamlCodec struct{}

// NewYAMLCodec creates a new YAML codec.
func NewYAMLCodec() Codec {
	return &yamlCodec{}
}

// Encode encodes the value to YAML bytes.
func (c *yamlCodec) Encode(v any) ([]byte, error) {
	if v == nil {
		return nil, ErrNilValue
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)

	if err := encoder.Encode(v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncodingFailed, err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncodingFailed, err)
	}

	return buf.Bytes(), nil
}

// Decode decodes the first YAML document into the value.
func (c *yamlCodec) Decode(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	if err := decoder.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %w", ErrDecodingFailed, err)
	}

	return nil
}

// ContentType returns the YAML content type.
func (c *yamlCodec) ContentType() string {
	return ContentTypeYAML
}
