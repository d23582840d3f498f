package plugin

import "context"

// Message is a single frame received from or sent to a stream connection.
type Message struct {
	// Event is the SSE event name or the WebSocket message kind.
	Event string
	// ID is the SSE event ID. Empty for WebSocket frames.
	ID   string
	Data []byte
}

// Connection is an established stream, either dialed by a protocol or
// supplied by a plugin that short-circuited the connect phase.
// Receive returns io.EOF once the stream has ended.
type Connection interface {
	ID() string
	Receive(ctx context.Context) (Message, error)
	Send(ctx context.Context, msg Message) error
	Close() error
}
