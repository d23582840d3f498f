package chain

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avapiclient/internal/observability"
	"github.com/vyrodovalexey/avapiclient/internal/plugin"
	"github.com/vyrodovalexey/avapiclient/internal/plugin/plugintest"
	"github.com/vyrodovalexey/avapiclient/internal/util"
)

func okTransport(calls *int) Transport {
	return func(_ context.Context, req plugin.RequestContext) (plugin.ResponseContext, error) {
		*calls++
		return plugin.ResponseContext{Status: 200, Data: req.URL}, nil
	}
}

func failingTransport(err error) Transport {
	return func(context.Context, plugin.RequestContext) (plugin.ResponseContext, error) {
		return plugin.ResponseContext{}, err
	}
}

func TestExecute_OnionOrder(t *testing.T) {
	t.Parallel()

	journal := &plugintest.Journal{}
	plugins := []plugin.Plugin{
		plugintest.NewRecorder("A", journal),
		&plugintest.Passive{Name: "P"},
		plugintest.NewRecorder("B", journal),
		plugintest.NewRecorder("C", journal),
	}

	calls := 0
	resp, err := New().Execute(context.Background(), plugins,
		plugin.RequestContext{Method: "GET", URL: "/users"}, okTransport(&calls))

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, []string{
		"A:request", "B:request", "C:request",
		"C:response", "B:response", "A:response",
	}, journal.Entries())
}

func TestExecute_RequestHooksReplaceContext(t *testing.T) {
	t.Parallel()

	a := plugintest.NewRecorder("A", nil)
	a.Request = func(_ context.Context, req plugin.RequestContext) (plugin.RequestResult, error) {
		req.URL += "?page=2"
		return plugin.Continue(req.WithHeader("X-A", "1")), nil
	}
	b := plugintest.NewRecorder("B", nil)
	var seen plugin.RequestContext
	b.Request = func(_ context.Context, req plugin.RequestContext) (plugin.RequestResult, error) {
		seen = req
		return plugin.Continue(req), nil
	}

	var sent plugin.RequestContext
	transport := func(_ context.Context, req plugin.RequestContext) (plugin.ResponseContext, error) {
		sent = req
		return plugin.ResponseContext{Status: 204}, nil
	}

	_, err := New().Execute(context.Background(), []plugin.Plugin{a, b},
		plugin.RequestContext{Method: "GET", URL: "/users"}, transport)

	require.NoError(t, err)
	assert.Equal(t, "/users?page=2", seen.URL)
	assert.Equal(t, "1", seen.Headers["X-A"])
	assert.Equal(t, "/users?page=2", sent.URL)
}

func TestExecute_InPlaceHeaderMutationDoesNotLeak(t *testing.T) {
	t.Parallel()

	callerHeaders := map[string]string{"Accept": "application/json"}

	a := plugintest.NewRecorder("A", nil)
	a.Request = func(_ context.Context, req plugin.RequestContext) (plugin.RequestResult, error) {
		req.Headers["Accept"] = "text/plain"
		return plugin.Continue(plugin.RequestContext{Method: req.Method, URL: req.URL}), nil
	}

	var sent plugin.RequestContext
	transport := func(_ context.Context, req plugin.RequestContext) (plugin.ResponseContext, error) {
		sent = req
		return plugin.ResponseContext{Status: 200}, nil
	}

	_, err := New().Execute(context.Background(), []plugin.Plugin{a},
		plugin.RequestContext{Method: "GET", URL: "/users", Headers: callerHeaders}, transport)

	require.NoError(t, err)
	assert.Equal(t, "application/json", callerHeaders["Accept"])
	assert.Empty(t, sent.Headers["Accept"])
}

func TestExecute_ShortCircuit(t *testing.T) {
	t.Parallel()

	journal := &plugintest.Journal{}
	a := plugintest.NewRecorder("A", journal)
	b := plugintest.NewRecorder("B", journal)
	b.Request = func(context.Context, plugin.RequestContext) (plugin.RequestResult, error) {
		return plugin.ShortCircuit(plugin.ResponseContext{Status: 200, Data: "from-B"}), nil
	}
	c := plugintest.NewRecorder("C", journal)

	var seenByA plugin.ResponseContext
	a.Response = func(_ context.Context, resp plugin.ResponseContext) (plugin.ResponseContext, error) {
		seenByA = resp
		return resp, nil
	}

	calls := 0
	resp, err := New().Execute(
		context.Background(), []plugin.Plugin{a, b, c},
		plugin.RequestContext{Method: "GET", URL: "/users"}, okTransport(&calls))

	require.NoError(t, err)
	assert.Zero(t, calls, "transport must not be called")
	assert.Equal(t, "from-B", resp.Data)
	assert.Equal(t, "from-B", seenByA.Data)
	assert.NotContains(t, journal.Entries(), "C:request")
	assert.Equal(t, []string{"A:request", "B:request"}, journal.Entries()[:2])
	assert.Equal(t, []string{"C:response", "B:response", "A:response"}, journal.Entries()[2:])
}

func TestExecute_ErrorRecovered(t *testing.T) {
	t.Parallel()

	journal := &plugintest.Journal{}
	a := plugintest.NewRecorder("A", journal)
	a.Error = func(_ context.Context, err error, req plugin.RequestContext) (*plugin.ResponseContext, error) {
		return &plugin.ResponseContext{Status: 200, Data: "fallback:" + req.URL}, nil
	}
	b := plugintest.NewRecorder("B", journal)

	resp, err := New().Execute(context.Background(), []plugin.Plugin{a, b},
		plugin.RequestContext{Method: "GET", URL: "/users"},
		failingTransport(util.NewTransportError("GET", "/users", io.ErrUnexpectedEOF)))

	require.NoError(t, err)
	assert.Equal(t, "fallback:/users", resp.Data)
	assert.Equal(t, []string{"A:request", "B:request", "B:error", "A:error"}, journal.Entries())
}

func TestExecute_ErrorTransformedAndRethrown(t *testing.T) {
	t.Parallel()

	errMapped := errors.New("users service unavailable")

	journal := &plugintest.Journal{}
	a := plugintest.NewRecorder("A", journal)
	var seenByA error
	a.Error = func(_ context.Context, err error, _ plugin.RequestContext) (*plugin.ResponseContext, error) {
		seenByA = err
		return nil, nil
	}
	b := plugintest.NewRecorder("B", journal)
	b.Error = func(context.Context, error, plugin.RequestContext) (*plugin.ResponseContext, error) {
		return nil, errMapped
	}

	_, err := New().Execute(context.Background(), []plugin.Plugin{a, b},
		plugin.RequestContext{Method: "GET", URL: "/users"}, failingTransport(util.ErrTransport))

	assert.ErrorIs(t, err, errMapped)
	assert.Equal(t, errMapped, seenByA)
}

func TestExecute_ErrorHooksReceiveOriginalRequest(t *testing.T) {
	t.Parallel()

	a := plugintest.NewRecorder("A", nil)
	var seen plugin.RequestContext
	a.Error = func(_ context.Context, _ error, req plugin.RequestContext) (*plugin.ResponseContext, error) {
		seen = req
		return nil, nil
	}
	b := plugintest.NewRecorder("B", nil)
	b.Request = func(_ context.Context, req plugin.RequestContext) (plugin.RequestResult, error) {
		return plugin.Continue(req.WithHeader("Authorization", "Bearer x")), nil
	}

	_, err := New().Execute(context.Background(), []plugin.Plugin{a, b},
		plugin.RequestContext{Method: "GET", URL: "/users"}, failingTransport(util.ErrTransport))

	assert.ErrorIs(t, err, util.ErrTransport)
	assert.Equal(t, "/users", seen.URL)
	assert.Empty(t, seen.Headers["Authorization"])
}

func TestExecute_RequestHookFailureEntersErrorPhase(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")

	journal := &plugintest.Journal{}
	a := plugintest.NewRecorder("A", journal)
	b := plugintest.NewRecorder("B", journal)
	b.Request = func(context.Context, plugin.RequestContext) (plugin.RequestResult, error) {
		return plugin.RequestResult{}, errBoom
	}
	c := plugintest.NewRecorder("C", journal)

	calls := 0
	_, err := New().Execute(context.Background(), []plugin.Plugin{a, b, c},
		plugin.RequestContext{Method: "GET", URL: "/users"}, okTransport(&calls))

	require.Error(t, err)
	assert.Zero(t, calls)
	assert.ErrorIs(t, err, errBoom)

	var pluginErr *util.PluginError
	require.ErrorAs(t, err, &pluginErr)
	assert.Equal(t, "B", pluginErr.Plugin)
	assert.Equal(t, PhaseRequest, pluginErr.Phase)

	assert.Equal(t, []string{"A:request", "B:request", "C:error", "B:error", "A:error"}, journal.Entries())
}

func TestExecute_ResponseHookFailureEntersErrorPhase(t *testing.T) {
	t.Parallel()

	journal := &plugintest.Journal{}
	a := plugintest.NewRecorder("A", journal)
	a.Error = func(_ context.Context, err error, _ plugin.RequestContext) (*plugin.ResponseContext, error) {
		return &plugin.ResponseContext{Status: 200, Data: "recovered"}, nil
	}
	b := plugintest.NewRecorder("B", journal)
	b.Response = func(context.Context, plugin.ResponseContext) (plugin.ResponseContext, error) {
		return plugin.ResponseContext{}, errors.New("decode failed")
	}

	calls := 0
	resp, err := New().Execute(context.Background(), []plugin.Plugin{a, b},
		plugin.RequestContext{Method: "GET", URL: "/users"}, okTransport(&calls))

	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Data)
	assert.Equal(t, []string{"A:request", "B:request", "B:response", "B:error", "A:error"}, journal.Entries())
}

func TestExecute_RecoveryDoesNotRerunResponseHooks(t *testing.T) {
	t.Parallel()

	journal := &plugintest.Journal{}
	a := plugintest.NewRecorder("A", journal)
	b := plugintest.NewRecorder("B", journal)
	b.Error = func(context.Context, error, plugin.RequestContext) (*plugin.ResponseContext, error) {
		return &plugin.ResponseContext{Status: 200}, nil
	}

	_, err := New().Execute(context.Background(), []plugin.Plugin{a, b},
		plugin.RequestContext{Method: "GET", URL: "/users"}, failingTransport(util.ErrTransport))

	require.NoError(t, err)
	assert.Equal(t, []string{"A:request", "B:request", "B:error"}, journal.Entries())
}

func TestExecute_NoPlugins(t *testing.T) {
	t.Parallel()

	calls := 0
	resp, err := New().Execute(context.Background(), nil,
		plugin.RequestContext{Method: "GET", URL: "/ping"}, okTransport(&calls))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "/ping", resp.Data)

	_, err = New().Execute(context.Background(), nil,
		plugin.RequestContext{Method: "GET", URL: "/ping"}, failingTransport(util.ErrTransport))
	assert.ErrorIs(t, err, util.ErrTransport)
}

func TestExecute_CallScopeSharedAcrossHooks(t *testing.T) {
	t.Parallel()

	type startKey struct{}

	a := plugintest.NewRecorder("A", nil)
	a.Request = func(ctx context.Context, req plugin.RequestContext) (plugin.RequestResult, error) {
		plugin.ScopeFromContext(ctx).Set(startKey{}, req.URL)
		return plugin.Continue(req), nil
	}
	var fromScope any
	var callID string
	a.Response = func(ctx context.Context, resp plugin.ResponseContext) (plugin.ResponseContext, error) {
		fromScope, _ = plugin.ScopeFromContext(ctx).Get(startKey{})
		callID = util.CallIDFromContext(ctx)
		return resp, nil
	}

	calls := 0
	_, err := New(WithLabels("users", "rest")).Execute(context.Background(), []plugin.Plugin{a},
		plugin.RequestContext{Method: "GET", URL: "/users"}, okTransport(&calls))

	require.NoError(t, err)
	assert.Equal(t, "/users", fromScope)
	assert.NotEmpty(t, callID)
}

func TestExecute_Metrics(t *testing.T) {
	t.Parallel()

	metrics := observability.NewMetrics("test")
	exec := New(WithMetrics(metrics), WithLabels("users", "rest"))

	mocker := plugintest.NewRecorder("mocker", nil)
	mocker.Request = func(context.Context, plugin.RequestContext) (plugin.RequestResult, error) {
		return plugin.ShortCircuit(plugin.ResponseContext{Status: 200}), nil
	}

	_, err := exec.Execute(context.Background(), []plugin.Plugin{mocker},
		plugin.RequestContext{Method: "GET", URL: "/users"}, failingTransport(util.ErrTransport))
	require.NoError(t, err)

	_, err = exec.Execute(context.Background(), nil,
		plugin.RequestContext{Method: "GET", URL: "/users"}, failingTransport(util.ErrTransport))
	require.Error(t, err)

	expected := `
# HELP test_short_circuits_total Total number of calls answered by a plugin without reaching the transport
# TYPE test_short_circuits_total counter
test_short_circuits_total{plugin="mocker",protocol="rest",service="users"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(metrics.Registry(),
		strings.NewReader(expected), "test_short_circuits_total"))

	count, err := testutil.GatherAndCount(metrics.Registry(), "test_calls_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestConnect_ShortCircuit(t *testing.T) {
	t.Parallel()

	journal := &plugintest.Journal{}
	scripted := &stubConnection{id: "scripted"}

	a := plugintest.NewRecorder("A", journal)
	a.Connect = func(_ context.Context, c plugin.ConnectContext) (plugin.ConnectResult, error) {
		return plugin.ContinueConnect(c.WithHeader("X-A", "1")), nil
	}
	b := plugintest.NewRecorder("B", journal)
	b.Connect = func(_ context.Context, c plugin.ConnectContext) (plugin.ConnectResult, error) {
		assert.Equal(t, "1", c.Headers["X-A"])
		return plugin.ShortCircuitConnect(scripted), nil
	}
	c := plugintest.NewRecorder("C", journal)

	dialed := false
	conn, err := New().Connect(context.Background(), []plugin.Plugin{a, b, c},
		plugin.ConnectContext{URL: "wss://feed"},
		func(context.Context, plugin.ConnectContext) (plugin.Connection, error) {
			dialed = true
			return nil, nil
		})

	require.NoError(t, err)
	assert.False(t, dialed)
	assert.Same(t, scripted, conn)
	assert.Equal(t, []string{"A:connect", "B:connect"}, journal.Entries())
}

func TestConnect_DialsWithConnectionID(t *testing.T) {
	t.Parallel()

	var dialedWith plugin.ConnectContext
	conn, err := New().Connect(context.Background(), []plugin.Plugin{plugintest.NewRecorder("A", nil)},
		plugin.ConnectContext{URL: "wss://feed"},
		func(_ context.Context, c plugin.ConnectContext) (plugin.Connection, error) {
			dialedWith = c
			return &stubConnection{id: c.ConnectionID}, nil
		})

	require.NoError(t, err)
	assert.NotEmpty(t, dialedWith.ConnectionID)
	assert.Equal(t, dialedWith.ConnectionID, conn.ID())
}

func TestConnect_HookFailure(t *testing.T) {
	t.Parallel()

	a := plugintest.NewRecorder("A", nil)
	a.Connect = func(context.Context, plugin.ConnectContext) (plugin.ConnectResult, error) {
		return plugin.ConnectResult{}, errors.New("denied")
	}

	_, err := New().Connect(context.Background(), []plugin.Plugin{a},
		plugin.ConnectContext{URL: "wss://feed"},
		func(context.Context, plugin.ConnectContext) (plugin.Connection, error) {
			return nil, errors.New("must not dial")
		})

	var pluginErr *util.PluginError
	require.ErrorAs(t, err, &pluginErr)
	assert.Equal(t, PhaseConnect, pluginErr.Phase)
}

func TestDisconnect_ReverseAndJoined(t *testing.T) {
	t.Parallel()

	journal := &plugintest.Journal{}
	a := plugintest.NewRecorder("A", journal)
	a.Disconnect = func(context.Context, string) error { return errors.New("a failed") }
	b := plugintest.NewRecorder("B", journal)
	b.Disconnect = func(context.Context, string) error { return errors.New("b failed") }

	err := New().Disconnect(context.Background(), []plugin.Plugin{a, b}, "conn-1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "a failed")
	assert.Contains(t, err.Error(), "b failed")
	assert.Equal(t, []string{"B:disconnect", "A:disconnect"}, journal.Entries())
}

type stubConnection struct {
	id string
}

func (c *stubConnection) ID() string { return c.id }

func (c *stubConnection) Receive(context.Context) (plugin.Message, error) {
	return plugin.Message{}, io.EOF
}

func (c *stubConnection) Send(context.Context, plugin.Message) error { return nil }

func (c *stubConnection) Close() error { return nil }
