package protocol

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avapiclient/internal/plugin"
	"github.com/vyrodovalexey/avapiclient/internal/plugin/plugintest"
	"github.com/vyrodovalexey/avapiclient/internal/registry"
	"github.com/vyrodovalexey/avapiclient/internal/util"
)

type fakeProtocol struct {
	*Base
}

func newFake(src Sources) *fakeProtocol {
	p := &fakeProtocol{}
	p.Base = NewBase("fake", plugin.ClassOf(p), src)
	return p
}

func echo(_ context.Context, req plugin.RequestContext) (plugin.ResponseContext, error) {
	return plugin.ResponseContext{Status: 200, Data: req.URL}, nil
}

func sourcesFor(reg *registry.Registry, excluded map[plugin.Class]bool, local []plugin.Plugin) Sources {
	return Sources{
		Service:  "users",
		Globals:  reg.GetAll,
		Excluded: func(c plugin.Class) bool { return excluded[c] },
		Local:    func() []plugin.Plugin { return local },
	}
}

func TestPluginsInOrder_MergeOrder(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	g1 := plugintest.NewRecorder("g1", nil)
	g2 := plugintest.NewOther("g2", nil)
	l1 := plugintest.NewRecorder("l1", nil)
	i1 := plugintest.NewRecorder("i1", nil)
	i2 := &plugintest.Passive{Name: "i2"}

	p := newFake(sourcesFor(reg, nil, []plugin.Plugin{l1}))
	require.NoError(t, reg.Add(p.Class(), g1))
	require.NoError(t, reg.Add(p.Class(), g2))
	p.Plugins().Add(i1)
	p.Plugins().Add(i2)

	assert.Equal(t, []plugin.Plugin{g1, g2, l1, i1, i2}, p.PluginsInOrder())

	// Re-registering the same references changes nothing.
	require.NoError(t, reg.Add(p.Class(), g1))
	p.Plugins().Add(i1)
	assert.Equal(t, []plugin.Plugin{g1, g2, l1, i1, i2}, p.PluginsInOrder())
}

func TestPluginsInOrder_ExcludesEveryGlobalInstanceOfClass(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	x1 := plugintest.NewOther("x1", nil)
	x2 := plugintest.NewOther("x2", nil)
	keep := plugintest.NewRecorder("keep", nil)
	instanceX := plugintest.NewOther("instance-x", nil)

	excluded := map[plugin.Class]bool{plugin.ClassFor[*plugintest.Other](): true}
	p := newFake(sourcesFor(reg, excluded, nil))
	require.NoError(t, reg.Add(p.Class(), x1))
	require.NoError(t, reg.Add(p.Class(), keep))
	require.NoError(t, reg.Add(p.Class(), x2))
	p.Plugins().Add(instanceX)

	assert.Equal(t, []plugin.Plugin{keep, instanceX}, p.PluginsInOrder())
}

func TestPluginsInOrder_GlobalsScopedToProtocolClass(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	p := newFake(sourcesFor(reg, nil, nil))

	type otherProtocol struct{}
	require.NoError(t, reg.Add(plugin.ClassFor[*otherProtocol](), plugintest.NewRecorder("elsewhere", nil)))

	assert.Empty(t, p.PluginsInOrder())
}

func TestPluginsInOrder_RecomputedEveryCall(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	p := newFake(sourcesFor(reg, nil, nil))

	first := p.PluginsInOrder()
	require.NoError(t, reg.Add(p.Class(), plugintest.NewRecorder("late", nil)))

	assert.Empty(t, first)
	assert.Len(t, p.PluginsInOrder(), 1)
}

func TestExecute_NotInitialized(t *testing.T) {
	t.Parallel()

	journal := &plugintest.Journal{}
	p := newFake(Sources{})
	p.Plugins().Add(plugintest.NewRecorder("A", journal))

	_, err := p.Execute(context.Background(), plugin.RequestContext{Method: "GET", URL: "/users"}, echo)

	require.Error(t, err)
	assert.True(t, util.IsConfigurationError(err))
	assert.ErrorIs(t, err, util.ErrNotInitialized)
	assert.Empty(t, journal.Entries())
}

func TestInitialize(t *testing.T) {
	t.Parallel()

	p := newFake(Sources{})
	headers := map[string]string{"Accept": "application/json"}

	require.NoError(t, p.Initialize(Config{BaseURL: "https://api.example.com/", Headers: headers, Timeout: time.Second}))
	headers["Accept"] = "text/plain"

	cfg, err := p.Config()
	require.NoError(t, err)
	assert.True(t, p.Initialized())
	assert.Equal(t, "https://api.example.com", cfg.BaseURL)
	assert.Equal(t, "application/json", cfg.Headers["Accept"])

	err = p.Initialize(Config{})
	assert.ErrorIs(t, err, util.ErrAlreadyInitialized)
}

func TestResolveURL(t *testing.T) {
	t.Parallel()

	p := newFake(Sources{})
	cfg := Config{BaseURL: "https://api.example.com"}

	tests := []struct {
		path string
		want string
	}{
		{path: "/users", want: "https://api.example.com/users"},
		{path: "users", want: "https://api.example.com/users"},
		{path: "", want: "https://api.example.com"},
		{path: "https://other.example.com/x", want: "https://other.example.com/x"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.ResolveURL(cfg, tt.path), tt.path)
	}
	assert.Equal(t, "/users", p.ResolveURL(Config{}, "/users"))
}

func TestExecute_SnapshotIsolatedFromMidCallMutation(t *testing.T) {
	t.Parallel()

	journal := &plugintest.Journal{}
	p := newFake(Sources{})
	require.NoError(t, p.Initialize(Config{}))

	late := plugintest.NewRecorder("late", journal)
	a := plugintest.NewRecorder("A", journal)
	a.Request = func(_ context.Context, req plugin.RequestContext) (plugin.RequestResult, error) {
		p.Plugins().Add(late)
		return plugin.Continue(req), nil
	}
	p.Plugins().Add(a)

	_, err := p.Execute(context.Background(), plugin.RequestContext{Method: "GET", URL: "/users"}, echo)
	require.NoError(t, err)
	assert.Equal(t, []string{"A:request", "A:response"}, journal.Entries())

	journal.Reset()
	_, err = p.Execute(context.Background(), plugin.RequestContext{Method: "GET", URL: "/users"}, echo)
	require.NoError(t, err)
	assert.Equal(t, []string{"A:request", "late:request", "late:response", "A:response"}, journal.Entries())
}

func TestConnectAndDisconnect(t *testing.T) {
	t.Parallel()

	journal := &plugintest.Journal{}
	p := newFake(Sources{})

	_, _, err := p.Connect(context.Background(), plugin.ConnectContext{URL: "wss://x"}, nil)
	assert.ErrorIs(t, err, util.ErrNotInitialized)

	require.NoError(t, p.Initialize(Config{}))
	p.Plugins().Add(plugintest.NewRecorder("A", journal))

	errDial := errors.New("dial failed")
	_, plugins, err := p.Connect(context.Background(), plugin.ConnectContext{URL: "wss://x"},
		func(context.Context, plugin.ConnectContext) (plugin.Connection, error) {
			return nil, errDial
		})
	assert.ErrorIs(t, err, errDial)
	require.Len(t, plugins, 1)

	require.NoError(t, p.Disconnect(context.Background(), plugins, "c1"))
	assert.Equal(t, []string{"A:connect", "A:disconnect"}, journal.Entries())
}

func TestCleanup(t *testing.T) {
	t.Parallel()

	p := newFake(Sources{})
	a := plugintest.NewRecorder("A", nil)
	p.Plugins().Add(a)

	p.Cleanup()

	assert.Equal(t, 1, a.Destroyed())
	assert.Zero(t, p.Plugins().Len())
	assert.Equal(t, "fake", p.Name())
}
