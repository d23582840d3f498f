package encoding

import (
	"bytes"
	"encoding/xml"
	"fmt"
)

// xmlCodec implements Codec for XML encoding.
type xmlCodec struct{}

// NewXMLCodec creates a new XML codec.
func NewXMLCodec() Codec {
	return &xmlCodec{}
}

// Encode encodes the value to XML bytes.
func (c *xmlCodec) Encode(v any) ([]byte, error) {
	if v == nil {
		return nil, ErrNilValue
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)

	encoder := xml.NewEncoder(&buf)
	encoder.Indent("", "  ")

	if err := encoder.Encode(v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncodingFailed, err)
	}

	return buf.Bytes(), nil
}

// Decode decodes XML bytes into the value. Decoding into *any produces a
// generic map built from the element tree.
func (c *xmlCodec) Decode(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}

	if target, ok := v.(*any); ok {
		m, err := XMLToMap(data)
		if err != nil {
			return err
		}
		*target = m
		return nil
	}

	decoder := xml.NewDecoder(bytes.NewReader(data))
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("%w: %w", ErrDecodingFailed, err)
	}

	return nil
}

// ContentType returns the XML content type.
func (c *xmlCodec) ContentType() string {
	return ContentTypeXML
}

// XMLElement represents a generic XML element for dynamic XML handling.
type XMLElement struct {
	XMLName  xml.Name
	Attrs    []xml.Attr   `xml:",any,attr"`
	Content  string       `xml:",chardata"`
	Children []XMLElement `xml:",any"`
}

// XMLToMap converts XML bytes to a map.
func XMLToMap(data []byte) (map[string]any, error) {
	var elem XMLElement
	if err := xml.Unmarshal(data, &elem); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodingFailed, err)
	}
	return xmlElementToMap(&elem), nil
}

// xmlElementToMap converts an XMLElement to a map.
func xmlElementToMap(elem *XMLElement) map[string]any {
	result := make(map[string]any)

	if content := string(bytes.TrimSpace([]byte(elem.Content))); content != "" {
		result["_content"] = content
	}

	for _, attr := range elem.Attrs {
		result["@"+attr.Name.Local] = attr.Value
	}

	for i := range elem.Children {
		child := &elem.Children[i]
		childMap := xmlElementToMap(child)
		name := child.XMLName.Local

		// Handle multiple children with same name
		if existing, ok := result[name]; ok {
			switch v := existing.(type) {
			case []any:
				result[name] = append(v, childMap)
			default:
				result[name] = []any{v, childMap}
			}
		} else {
			result[name] = childMap
		}
	}

	return result
}
