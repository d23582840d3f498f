package encoding

import (
	"errors"
	"strings"
	"sync"

	"github.com/vyrodovalexey/avapiclient/internal/observability"
)

// Content types handled by the default codecs.
const (
	ContentTypeJSON = "application/json"
	ContentTypeXML  = "application/xml"
	ContentTypeYAML = "application/yaml"
)

// Common encoding errors.
var (
	// ErrUnsupportedContentType indicates that the content type is not supported.
	ErrUnsupportedContentType = errors.New("unsupported content type")

	// ErrEncodingFailed indicates that encoding failed.
	ErrEncodingFailed = errors.New("encoding failed")

	// ErrDecodingFailed indicates that decoding failed.
	ErrDecodingFailed = errors.New("decoding failed")

	// ErrNilValue indicates that the value to encode is nil.
	ErrNilValue = errors.New("nil value")
)

// Encoder encodes data to bytes.
type Encoder interface {
	// Encode encodes the value to bytes.
	Encode(v any) ([]byte, error)

	// ContentType returns the content type for this encoder.
	ContentType() string
}

// Decoder decodes bytes to data.
type Decoder interface {
	// Decode decodes the data into the value.
	Decode(data []byte, v any) error
}

// Codec combines Encoder and Decoder.
type Codec interface {
	Encoder
	Decoder
}

// CodecFactory creates codecs based on content type.
type CodecFactory interface {
	// GetCodec returns a codec for the given content type.
	GetCodec(contentType string) (Codec, error)

	// RegisterCodec registers a codec for a content type.
	RegisterCodec(contentType string, codec Codec)

	// SupportedTypes returns the list of supported content types.
	SupportedTypes() []string
}

// codecFactory implements CodecFactory.
type codecFactory struct {
	logger observability.Logger

	mu     sync.RWMutex
	codecs map[string]Codec
}

// NewCodecFactory creates a new CodecFactory with default codecs.
func NewCodecFactory(logger observability.Logger) CodecFactory {
	if logger == nil {
		logger = observability.NopLogger()
	}

	factory := &codecFactory{
		logger: logger,
		codecs: make(map[string]Codec),
	}

	jsonCodec := NewJSONCodec(false)
	factory.codecs[ContentTypeJSON] = jsonCodec
	factory.codecs["text/json"] = jsonCodec

	xmlCodec := NewXMLCodec()
	factory.codecs[ContentTypeXML] = xmlCodec
	factory.codecs["text/xml"] = xmlCodec

	yamlCodec := NewYAMLCodec()
	factory.codecs[ContentTypeYAML] = yamlCodec
	factory.codecs["application/x-yaml"] = yamlCodec
	factory.codecs["text/yaml"] = yamlCodec

	return factory
}

// GetCodec returns a codec for the given content type. Structured syntax
// suffixes such as application/problem+json resolve to their base codec.
func (f *codecFactory) GetCodec(contentType string) (Codec, error) {
	ct := normalizeContentType(contentType)

	f.mu.RLock()
	defer f.mu.RUnlock()

	if codec, ok := f.codecs[ct]; ok {
		return codec, nil
	}
	if i := strings.LastIndexByte(ct, '+'); i >= 0 {
		if codec, ok := f.codecs["application/"+ct[i+1:]]; ok {
			return codec, nil
		}
	}

	f.logger.Debug("unsupported content type",
		observability.String("contentType", contentType))
	return nil, ErrUnsupportedContentType
}

// SupportedTypes returns the list of supported content types.
func (f *codecFactory) SupportedTypes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	types := make([]string, 0, len(f.codecs))
	for ct := range f.codecs {
		types = append(types, ct)
	}
	return types
}

// RegisterCodec registers a codec for a content type.
func (f *codecFactory) RegisterCodec(contentType string, codec Codec) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codecs[normalizeContentType(contentType)] = codec
}

// normalizeContentType removes parameters and lowercases a content type.
func normalizeContentType(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}
