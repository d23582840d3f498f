// Package sse implements a Server-Sent Events client protocol. Connections
// run the connect chain, so a plugin can answer with scripted events.
package sse

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/vyrodovalexey/avapiclient/internal/observability"
	"github.com/vyrodovalexey/avapiclient/internal/plugin"
	"github.com/vyrodovalexey/avapiclient/internal/protocol"
	"github.com/vyrodovalexey/avapiclient/internal/util"
)

// Name is the protocol kind reported by Protocol.Name.
const Name = "sse"

// Class identifies the SSE protocol in the global plugin registry.
var Class = plugin.ClassFor[*Protocol]()

// ErrSendNotSupported is returned by Send on an SSE connection.
var ErrSendNotSupported = errors.New("sse: send is not supported")

// Protocol opens event streams for one service.
type Protocol struct {
	*protocol.Base

	client *http.Client
}

// New creates an SSE protocol. It must be initialized before use.
func New(src protocol.Sources, opts ...protocol.Option) *Protocol {
	p := &Protocol{client: &http.Client{}}
	p.Base = protocol.NewBase(Name, Class, src, opts...)
	return p
}

// Connect opens the event stream at path. Extra headers are merged over the
// configured base headers.
func (p *Protocol) Connect(ctx context.Context, path string, headers map[string]string) (*protocol.Stream, error) {
	cfg, err := p.Config()
	if err != nil {
		return nil, err
	}

	for k, v := range headers {
		cfg.Headers[k] = v
	}

	return p.OpenStream(ctx, plugin.ConnectContext{
		URL:     p.ResolveURL(cfg, path),
		Headers: cfg.Headers,
	}, p.dial)
}

// dial issues the streaming GET. The stream outlives ctx and ends when the
// connection is closed.
func (p *Protocol) dial(ctx context.Context, c plugin.ConnectContext) (plugin.Connection, error) {
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.URL, nil)
	if err != nil {
		cancel()
		return nil, util.NewTransportError(http.MethodGet, c.URL, err)
	}
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	observability.InjectTraceContext(ctx, req)

	// The handshake still honors the caller's deadline.
	stop := context.AfterFunc(ctx, cancel)
	resp, err := p.client.Do(req)
	stop()
	if err != nil {
		cancel()
		return nil, util.NewTransportError(http.MethodGet, c.URL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		cancel()
		return nil, util.NewStatusError(http.MethodGet, c.URL, resp.StatusCode, nil, string(body))
	}

	p.Logger().WithContext(ctx).Debug("event stream opened",
		observability.String("connection_id", c.ConnectionID),
		observability.String("url", c.URL),
	)
	return newConnection(c.ConnectionID, resp.Body, cancel), nil
}
