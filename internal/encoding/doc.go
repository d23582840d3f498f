// Package encoding provides request and response body codecs.
//
// The encoding package implements codecs for:
//
//   - JSON (application/json)
//   - XML (application/xml)
//   - YAML (application/yaml)
//
// # Example Usage
//
//	factory := encoding.NewCodecFactory(logger)
//	codec, err := factory.GetCodec(resp.Header.Get("Content-Type"))
//
//	var data any
//	err = codec.Decode(body, &data)
//
// # Thread Safety
//
// All codecs and factories are safe for concurrent use.
package encoding
