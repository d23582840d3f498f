package sse

import (
	"bufio"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avapiclient/internal/plugin"
)

func TestReadEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  []plugin.Message
	}{
		{
			name:  "single event",
			input: "event: a\nid: 7\ndata: x\n\n",
			want:  []plugin.Message{{Event: "a", ID: "7", Data: []byte("x")}},
		},
		{
			name:  "crlf and no space",
			input: "data:x\r\n\r\n",
			want:  []plugin.Message{{Event: "message", Data: []byte("x")}},
		},
		{
			name:  "event without data is dropped",
			input: "event: empty\n\ndata: y\n\n",
			want:  []plugin.Message{{Event: "message", Data: []byte("y")}},
		},
		{
			name:  "unterminated final event",
			input: "data: tail",
			want:  []plugin.Message{{Event: "message", Data: []byte("tail")}},
		},
		{
			name:  "comments only",
			input: ": a\n: b\n\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := bufio.NewReader(strings.NewReader(tt.input))
			var got []plugin.Message
			for {
				msg, err := readEvent(r)
				if err != nil {
					require.ErrorIs(t, err, io.EOF)
					break
				}
				got = append(got, msg)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
