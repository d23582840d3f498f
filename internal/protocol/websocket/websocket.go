// Package websocket implements a WebSocket client protocol on top of
// gorilla/websocket. Connections run the connect chain, so a plugin can
// answer with a scripted connection.
package websocket

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vyrodovalexey/avapiclient/internal/observability"
	"github.com/vyrodovalexey/avapiclient/internal/plugin"
	"github.com/vyrodovalexey/avapiclient/internal/protocol"
	"github.com/vyrodovalexey/avapiclient/internal/util"
)

// Name is the protocol kind reported by Protocol.Name.
const Name = "websocket"

// Message kinds carried in plugin.Message.Event.
const (
	EventText   = "text"
	EventBinary = "binary"
)

// closeGracePeriod bounds the close handshake.
const closeGracePeriod = time.Second

// Class identifies the WebSocket protocol in the global plugin registry.
var Class = plugin.ClassFor[*Protocol]()

// Protocol opens WebSocket connections for one service.
type Protocol struct {
	*protocol.Base

	dialer *websocket.Dialer
}

// New creates a WebSocket protocol. It must be initialized before use.
func New(src protocol.Sources, opts ...protocol.Option) *Protocol {
	p := &Protocol{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 45 * time.Second,
		},
	}
	p.Base = protocol.NewBase(Name, Class, src, opts...)
	return p
}

// Connect opens a WebSocket at path. http and https base URLs are mapped
// to ws and wss.
func (p *Protocol) Connect(ctx context.Context, path string, headers map[string]string) (*protocol.Stream, error) {
	cfg, err := p.Config()
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		cfg.Headers[k] = v
	}

	return p.OpenStream(ctx, plugin.ConnectContext{
		URL:     toWebSocketURL(p.ResolveURL(cfg, path)),
		Headers: cfg.Headers,
	}, p.dial)
}

func (p *Protocol) dial(ctx context.Context, c plugin.ConnectContext) (plugin.Connection, error) {
	header := make(http.Header, len(c.Headers))
	for k, v := range c.Headers {
		header.Set(k, v)
	}
	observability.InjectTraceContext(ctx, &http.Request{Header: header})

	dialer := *p.dialer
	if cfg, err := p.Config(); err == nil && cfg.Timeout > 0 {
		dialer.HandshakeTimeout = cfg.Timeout
	}

	conn, resp, err := dialer.DialContext(ctx, c.URL, header)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			return nil, util.NewStatusError(http.MethodGet, c.URL, resp.StatusCode, nil, err.Error())
		}
		return nil, util.NewTransportError(http.MethodGet, c.URL, err)
	}

	p.Logger().WithContext(ctx).Debug("websocket opened",
		observability.String("connection_id", c.ConnectionID),
		observability.String("url", c.URL),
	)
	return newConnection(c.ConnectionID, conn), nil
}

func toWebSocketURL(u string) string {
	switch {
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	default:
		return u
	}
}

type result struct {
	msg plugin.Message
	err error
}

// connection reads frames in a background pump and serializes writes.
type connection struct {
	id   string
	conn *websocket.Conn

	writeMu sync.Mutex
	frames  chan result
	done    chan struct{}

	closeOnce sync.Once
	closeErr  error
}

func newConnection(id string, conn *websocket.Conn) *connection {
	c := &connection{
		id:     id,
		conn:   conn,
		frames: make(chan result),
		done:   make(chan struct{}),
	}
	go c.pump()
	return c
}

func (c *connection) ID() string {
	return c.id
}

// Receive returns the next data frame, or io.EOF after a normal close.
func (c *connection) Receive(ctx context.Context) (plugin.Message, error) {
	select {
	case <-ctx.Done():
		return plugin.Message{}, ctx.Err()
	case r, ok := <-c.frames:
		if !ok {
			return plugin.Message{}, io.EOF
		}
		return r.msg, r.err
	}
}

// Send writes msg as a binary frame when Event is "binary" and as a text
// frame otherwise.
func (c *connection) Send(ctx context.Context, msg plugin.Message) error {
	messageType := websocket.TextMessage
	if msg.Event == EventBinary {
		messageType = websocket.BinaryMessage
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer func() { _ = c.conn.SetWriteDeadline(time.Time{}) }()
	}
	return c.conn.WriteMessage(messageType, msg.Data)
}

// Close sends a close frame and closes the socket.
func (c *connection) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGracePeriod),
		)
		c.writeMu.Unlock()

		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *connection) pump() {
	defer close(c.frames)

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if !isNormalClose(err) {
				c.deliver(result{err: err})
			}
			return
		}

		event := EventText
		if messageType == websocket.BinaryMessage {
			event = EventBinary
		}
		if !c.deliver(result{msg: plugin.Message{Event: event, Data: data}}) {
			return
		}
	}
}

func (c *connection) deliver(r result) bool {
	select {
	case c.frames <- r:
		return true
	case <-c.done:
		return false
	}
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		errors.Is(err, io.EOF)
}
