package sse

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/vyrodovalexey/avapiclient/internal/plugin"
)

type result struct {
	msg plugin.Message
	err error
}

// connection reads events from the response body in a background pump.
type connection struct {
	id     string
	body   io.ReadCloser
	cancel context.CancelFunc
	events chan result
	done   chan struct{}

	closeOnce sync.Once
}

func newConnection(id string, body io.ReadCloser, cancel context.CancelFunc) *connection {
	c := &connection{
		id:     id,
		body:   body,
		cancel: cancel,
		events: make(chan result),
		done:   make(chan struct{}),
	}
	go c.pump()
	return c
}

func (c *connection) ID() string {
	return c.id
}

// Receive returns the next event, or io.EOF once the server ends the stream.
func (c *connection) Receive(ctx context.Context) (plugin.Message, error) {
	select {
	case <-ctx.Done():
		return plugin.Message{}, ctx.Err()
	case r, ok := <-c.events:
		if !ok {
			return plugin.Message{}, io.EOF
		}
		return r.msg, r.err
	}
}

func (c *connection) Send(context.Context, plugin.Message) error {
	return ErrSendNotSupported
}

func (c *connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
		err = c.body.Close()
	})
	return err
}

func (c *connection) pump() {
	defer close(c.events)

	reader := bufio.NewReader(c.body)
	for {
		msg, err := readEvent(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.deliver(result{err: err})
			}
			return
		}
		if !c.deliver(result{msg: msg}) {
			return
		}
	}
}

func (c *connection) deliver(r result) bool {
	select {
	case c.events <- r:
		return true
	case <-c.done:
		return false
	}
}

// readEvent parses one event per the text/event-stream format. Comments and
// retry fields are skipped; events without data are not dispatched.
func readEvent(r *bufio.Reader) (plugin.Message, error) {
	var (
		msg     plugin.Message
		data    bytes.Buffer
		hasData bool
	)

	for {
		line, err := r.ReadString('\n')
		if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
			return plugin.Message{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if hasData {
				return dispatch(msg, data.Bytes()), nil
			}
			msg = plugin.Message{}
			if err != nil {
				return plugin.Message{}, err
			}
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			msg.Event = value
		case "id":
			msg.ID = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		}

		if err != nil {
			if hasData {
				return dispatch(msg, data.Bytes()), nil
			}
			return plugin.Message{}, err
		}
	}
}

func dispatch(msg plugin.Message, data []byte) plugin.Message {
	if msg.Event == "" {
		msg.Event = "message"
	}
	msg.Data = data
	return msg
}
