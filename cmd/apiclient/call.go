package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/vyrodovalexey/avapiclient/internal/encoding"
	"github.com/vyrodovalexey/avapiclient/internal/plugin"
	"github.com/vyrodovalexey/avapiclient/internal/protocol"
	"github.com/vyrodovalexey/avapiclient/internal/protocol/rest"
	"github.com/vyrodovalexey/avapiclient/internal/protocol/sse"
	"github.com/vyrodovalexey/avapiclient/internal/protocol/websocket"
)

// callOutput is printed for a REST call.
type callOutput struct {
	Status         int               `json:"status"`
	Headers        map[string]string `json:"headers,omitempty"`
	Data           any               `json:"data,omitempty"`
	ShortCircuited bool              `json:"shortCircuited,omitempty"`
}

// messageOutput is printed for every stream message.
type messageOutput struct {
	Event string `json:"event,omitempty"`
	ID    string `json:"id,omitempty"`
	Data  string `json:"data"`
}

// lookupEndpoints returns the endpoints of the named service. An empty
// name selects the only configured service.
func (a *application) lookupEndpoints(name string) (*endpoints, error) {
	if name == "" {
		if len(a.endpoints) != 1 {
			names := make([]string, 0, len(a.endpoints))
			for n := range a.endpoints {
				names = append(names, n)
			}
			sort.Strings(names)
			return nil, fmt.Errorf("%w: -service is required, configured services: %v", errUsage, names)
		}
		for _, eps := range a.endpoints {
			return eps, nil
		}
	}
	eps, ok := a.endpoints[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown service %q", errUsage, name)
	}
	return eps, nil
}

// runCall issues one REST request and prints the response as JSON.
func runCall(ctx context.Context, app *application, flags cliFlags, stdout io.Writer) error {
	if len(flags.args) < 2 || len(flags.args) > 3 {
		return fmt.Errorf("%w: expected METHOD PATH [BODY]", errUsage)
	}
	eps, err := app.lookupEndpoints(flags.service)
	if err != nil {
		return err
	}
	if eps.rest == nil {
		return fmt.Errorf("%w: service has no rest endpoint", errUsage)
	}

	method, path := flags.args[0], flags.args[1]
	var body any
	var opts []rest.RequestOption
	if len(flags.args) == 3 {
		raw := []byte(flags.args[2])
		body = raw
		if json.Valid(raw) {
			opts = append(opts, rest.WithHeader("Content-Type", encoding.ContentTypeJSON))
		}
	}

	resp, err := eps.rest.Request(ctx, method, path, body, opts...)
	if err != nil {
		return err
	}
	return writeJSON(stdout, callOutput{
		Status:         resp.Status,
		Headers:        resp.Headers,
		Data:           printable(resp.Data),
		ShortCircuited: resp.ShortCircuited(),
	})
}

// runStream opens an SSE or WebSocket stream and prints each message as a
// JSON line until the stream ends or ctx is cancelled.
func runStream(ctx context.Context, app *application, flags cliFlags, stdout io.Writer) error {
	if len(flags.args) != 1 {
		return fmt.Errorf("%w: expected PATH", errUsage)
	}
	eps, err := app.lookupEndpoints(flags.service)
	if err != nil {
		return err
	}

	var stream *protocol.Stream
	switch flags.stream {
	case sse.Name:
		if eps.sse == nil {
			return fmt.Errorf("%w: service has no sse endpoint", errUsage)
		}
		stream, err = eps.sse.Connect(ctx, flags.args[0], nil)
	case websocket.Name:
		if eps.websocket == nil {
			return fmt.Errorf("%w: service has no websocket endpoint", errUsage)
		}
		stream, err = eps.websocket.Connect(ctx, flags.args[0], nil)
	default:
		return fmt.Errorf("%w: unknown stream kind %q", errUsage, flags.stream)
	}
	if err != nil {
		return err
	}
	defer func() { _ = stream.Close() }()

	if flags.send != "" {
		if err := stream.Send(ctx, plugin.Message{Data: []byte(flags.send)}); err != nil {
			return err
		}
	}

	codec := encoding.NewJSONCodec(false)
	for {
		msg, err := stream.Receive(ctx)
		if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			return err
		}
		line, err := codec.Encode(messageOutput{Event: msg.Event, ID: msg.ID, Data: string(msg.Data)})
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(stdout, "%s\n", line); err != nil {
			return err
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	data, err := encoding.NewJSONCodec(true).Encode(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

// printable keeps raw bodies readable in JSON output.
func printable(data any) any {
	if b, ok := data.([]byte); ok {
		return string(b)
	}
	return data
}
