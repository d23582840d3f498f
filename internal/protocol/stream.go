package protocol

import (
	"context"
	"errors"
	"sync"

	"github.com/vyrodovalexey/avapiclient/internal/chain"
	"github.com/vyrodovalexey/avapiclient/internal/plugin"
)

// Stream is an established connection bound to the plugin snapshot it was
// opened with. Closing it runs the disconnect hooks of that snapshot once.
type Stream struct {
	plugin.Connection

	base    *Base
	plugins []plugin.Plugin
	once    sync.Once
	err     error
}

// OpenStream runs the connect chain around dial and wraps the resulting
// connection, whether it was dialed or supplied by a plugin.
func (b *Base) OpenStream(ctx context.Context, c plugin.ConnectContext, dial chain.Dialer) (*Stream, error) {
	conn, plugins, err := b.Connect(ctx, c, dial)
	if err != nil {
		return nil, err
	}
	return &Stream{Connection: conn, base: b, plugins: plugins}, nil
}

// Close closes the connection and runs the disconnect hooks. Later calls
// return the first result.
func (s *Stream) Close() error {
	s.once.Do(func() {
		closeErr := s.Connection.Close()
		hookErr := s.base.Disconnect(context.Background(), s.plugins, s.Connection.ID())
		s.err = errors.Join(closeErr, hookErr)
	})
	return s.err
}
