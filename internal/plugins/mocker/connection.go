package mocker

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/vyrodovalexey/avapiclient/internal/plugin"
)

// ErrConnectionClosed is returned by a closed scripted connection.
var ErrConnectionClosed = errors.New("connection closed")

// ScriptedConnection replays events in order and records sent messages.
type ScriptedConnection struct {
	id     string
	events []Event

	mu     sync.Mutex
	next   int
	sent   []plugin.Message
	closed bool
	done   chan struct{}
}

// NewScriptedConnection creates a connection that replays events.
func NewScriptedConnection(id string, events []Event) *ScriptedConnection {
	return &ScriptedConnection{id: id, events: events, done: make(chan struct{})}
}

// ID implements plugin.Connection.
func (c *ScriptedConnection) ID() string {
	return c.id
}

// Receive returns the next scripted event after its delay, then io.EOF.
func (c *ScriptedConnection) Receive(ctx context.Context) (plugin.Message, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return plugin.Message{}, ErrConnectionClosed
	}
	if c.next >= len(c.events) {
		c.mu.Unlock()
		return plugin.Message{}, io.EOF
	}
	ev := c.events[c.next]
	c.next++
	c.mu.Unlock()

	if ev.Delay > 0 {
		sctx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-c.done:
				cancel()
			case <-sctx.Done():
			}
		}()
		if err := sleep(sctx, ev.Delay); err != nil {
			if ctx.Err() == nil {
				return plugin.Message{}, ErrConnectionClosed
			}
			return plugin.Message{}, err
		}
	}

	return plugin.Message{Event: ev.Event, ID: ev.ID, Data: []byte(ev.Data)}, nil
}

// Send records msg.
func (c *ScriptedConnection) Send(_ context.Context, msg plugin.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	c.sent = append(c.sent, msg)
	return nil
}

// Sent returns the messages sent so far.
func (c *ScriptedConnection) Sent() []plugin.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]plugin.Message, len(c.sent))
	copy(out, c.sent)
	return out
}

// Close ends the connection. It is safe to call more than once.
func (c *ScriptedConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}
