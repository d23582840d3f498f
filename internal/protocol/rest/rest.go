// Package rest implements the HTTP request/response protocol. Every call
// goes through the merged plugin chain before it reaches net/http.
package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/vyrodovalexey/avapiclient/internal/encoding"
	"github.com/vyrodovalexey/avapiclient/internal/observability"
	"github.com/vyrodovalexey/avapiclient/internal/plugin"
	"github.com/vyrodovalexey/avapiclient/internal/protocol"
	"github.com/vyrodovalexey/avapiclient/internal/util"
)

// Name is the protocol kind reported by Protocol.Name.
const Name = "rest"

// maxResponseBody caps how much of a response body is read.
const maxResponseBody = 32 << 20

// Class identifies the REST protocol in the global plugin registry.
var Class = plugin.ClassFor[*Protocol]()

// Protocol is a REST client bound to one service.
type Protocol struct {
	*protocol.Base

	client    *http.Client
	transport *http.Transport
	codecs    encoding.CodecFactory
}

// New creates a REST protocol. It must be initialized before use.
func New(src protocol.Sources, opts ...protocol.Option) *Protocol {
	p := &Protocol{}
	p.Base = protocol.NewBase(Name, Class, src, opts...)
	p.client, p.transport = newPooledClient(DefaultPoolConfig())
	p.codecs = encoding.NewCodecFactory(p.Logger())
	return p
}

// Codecs returns the codec factory used for request and response bodies.
// Custom content types can be registered on it.
func (p *Protocol) Codecs() encoding.CodecFactory {
	return p.codecs
}

// RequestOption adjusts a single request before it enters the chain.
type RequestOption func(*plugin.RequestContext)

// WithHeader sets a request header.
func WithHeader(key, value string) RequestOption {
	return func(r *plugin.RequestContext) {
		r.Headers[key] = value
	}
}

// WithQuery appends a query parameter to the request URL.
func WithQuery(key, value string) RequestOption {
	return func(r *plugin.RequestContext) {
		sep := "?"
		if strings.Contains(r.URL, "?") {
			sep = "&"
		}
		r.URL += sep + url.QueryEscape(key) + "=" + url.QueryEscape(value)
	}
}

// Get issues a GET request.
func (p *Protocol) Get(ctx context.Context, path string, opts ...RequestOption) (plugin.ResponseContext, error) {
	return p.Request(ctx, http.MethodGet, path, nil, opts...)
}

// Post issues a POST request with body.
func (p *Protocol) Post(ctx context.Context, path string, body any, opts ...RequestOption) (plugin.ResponseContext, error) {
	return p.Request(ctx, http.MethodPost, path, body, opts...)
}

// Put issues a PUT request with body.
func (p *Protocol) Put(ctx context.Context, path string, body any, opts ...RequestOption) (plugin.ResponseContext, error) {
	return p.Request(ctx, http.MethodPut, path, body, opts...)
}

// Patch issues a PATCH request with body.
func (p *Protocol) Patch(ctx context.Context, path string, body any, opts ...RequestOption) (plugin.ResponseContext, error) {
	return p.Request(ctx, http.MethodPatch, path, body, opts...)
}

// Delete issues a DELETE request.
func (p *Protocol) Delete(ctx context.Context, path string, opts ...RequestOption) (plugin.ResponseContext, error) {
	return p.Request(ctx, http.MethodDelete, path, nil, opts...)
}

// Request issues a request with an arbitrary method. Base headers from the
// configuration are merged under request headers so plugins see the full
// header set.
func (p *Protocol) Request(
	ctx context.Context,
	method, path string,
	body any,
	opts ...RequestOption,
) (plugin.ResponseContext, error) {
	cfg, err := p.Config()
	if err != nil {
		return plugin.ResponseContext{}, err
	}

	method = strings.ToUpper(method)
	if err := util.ValidateHTTPMethod(method); err != nil || method == "*" {
		return plugin.ResponseContext{}, fmt.Errorf("%w: method %q", util.ErrInvalidInput, method)
	}

	req := plugin.RequestContext{
		Method:  method,
		URL:     p.ResolveURL(cfg, path),
		Headers: cfg.Headers,
		Body:    body,
	}
	for _, opt := range opts {
		opt(&req)
	}

	return p.Execute(ctx, req, p.roundTrip)
}

// Cleanup destroys instance plugins and closes idle connections.
func (p *Protocol) Cleanup() {
	p.Base.Cleanup()
	p.transport.CloseIdleConnections()
}

// roundTrip is the chain transport. It runs only when no request hook
// short-circuited.
func (p *Protocol) roundTrip(ctx context.Context, req plugin.RequestContext) (plugin.ResponseContext, error) {
	cfg, err := p.Config()
	if err != nil {
		return plugin.ResponseContext{}, err
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	bodyReader, contentType, err := p.encodeBody(req)
	if err != nil {
		return plugin.ResponseContext{}, util.NewTransportError(req.Method, req.URL, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bodyReader)
	if err != nil {
		return plugin.ResponseContext{}, util.NewTransportError(req.Method, req.URL, err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", encoding.ContentTypeJSON)
	}
	observability.InjectTraceContext(ctx, httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return plugin.ResponseContext{}, util.NewTransportError(req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return plugin.ResponseContext{}, util.NewTransportError(req.Method, req.URL, err)
	}

	headers := flattenHeaders(resp.Header)
	data := p.decodeBody(resp.Header.Get("Content-Type"), raw)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return plugin.ResponseContext{}, util.NewStatusError(req.Method, req.URL, resp.StatusCode, headers, data)
	}

	return plugin.ResponseContext{
		Status:  resp.StatusCode,
		Headers: headers,
		Data:    data,
	}, nil
}

func (p *Protocol) encodeBody(req plugin.RequestContext) (io.Reader, string, error) {
	switch b := req.Body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return bytes.NewReader(b), "", nil
	case string:
		return strings.NewReader(b), "", nil
	case io.Reader:
		return b, "", nil
	}

	contentType := req.Header("Content-Type")
	if contentType == "" {
		contentType = encoding.ContentTypeJSON
	}
	codec, err := p.codecs.GetCodec(contentType)
	if err != nil {
		return nil, "", err
	}
	data, err := codec.Encode(req.Body)
	if err != nil {
		return nil, "", err
	}
	return bytes.NewReader(data), codec.ContentType(), nil
}

// decodeBody returns the structured body when a codec matches the content
// type, the text for text/* responses and the raw bytes otherwise.
func (p *Protocol) decodeBody(contentType string, raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	if codec, err := p.codecs.GetCodec(contentType); err == nil {
		var data any
		if err := codec.Decode(raw, &data); err == nil {
			return data
		}
		p.Logger().Debug("response body did not decode",
			observability.String("content_type", contentType))
	}
	if strings.HasPrefix(strings.ToLower(contentType), "text/") {
		return string(raw)
	}
	return raw
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[strings.ToLower(k)] = strings.Join(v, ", ")
	}
	return out
}
