package plugin_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avapiclient/internal/plugin"
	"github.com/vyrodovalexey/avapiclient/internal/plugin/plugintest"
	"github.com/vyrodovalexey/avapiclient/internal/util"
)

func TestClassOf(t *testing.T) {
	t.Parallel()

	a := plugintest.NewRecorder("a", nil)
	b := plugintest.NewRecorder("b", nil)
	o := plugintest.NewOther("o", nil)

	assert.Equal(t, plugin.ClassOf(a), plugin.ClassOf(b))
	assert.Equal(t, plugin.ClassFor[*plugintest.Recorder](), plugin.ClassOf(a))
	assert.NotEqual(t, plugin.ClassOf(a), plugin.ClassOf(o))
}

func TestIsMock(t *testing.T) {
	t.Parallel()

	mock := &plugintest.Recorder{Name: "fixtures", Mock: true}
	regular := plugintest.NewRecorder("logger", nil)

	assert.True(t, plugin.IsMock(mock))
	assert.False(t, plugin.IsMock(regular))
	assert.False(t, plugin.IsMock(nil))
}

func TestName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "logger", plugin.Name(plugintest.NewRecorder("logger", nil)))
	assert.Equal(t, "Passive", plugin.Name(&plugintest.Passive{}))
	assert.Empty(t, plugin.Name(nil))
}

func TestSame(t *testing.T) {
	t.Parallel()

	a := plugintest.NewRecorder("a", nil)
	twin := plugintest.NewRecorder("a", nil)

	assert.True(t, plugin.Same(a, a))
	assert.False(t, plugin.Same(a, twin))
	assert.False(t, plugin.Same(a, nil))
	assert.True(t, plugin.Same(nil, nil))
}

type marker struct{}

func (*marker) Descriptor() plugin.Descriptor { return plugin.Descriptor{Name: "marker"} }

type valuePlugin struct{ tags []string }

func (valuePlugin) Descriptor() plugin.Descriptor { return plugin.Descriptor{Name: "value"} }

func TestCheckIdentity(t *testing.T) {
	t.Parallel()

	var nilRecorder *plugintest.Recorder

	tests := []struct {
		name    string
		plugin  plugin.Plugin
		wantErr error
	}{
		{name: "pointer with fields", plugin: plugintest.NewRecorder("a", nil)},
		{name: "nil interface", plugin: nil, wantErr: util.ErrNilPlugin},
		{name: "nil pointer", plugin: nilRecorder, wantErr: util.ErrInvalidInput},
		{name: "zero-size pointer", plugin: &marker{}, wantErr: util.ErrInvalidInput},
		{name: "value type", plugin: valuePlugin{tags: []string{"x"}}, wantErr: util.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := plugin.CheckIdentity(tt.plugin)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSet_RejectsPluginsWithoutIdentity(t *testing.T) {
	t.Parallel()

	s := plugin.NewSet()

	assert.False(t, s.Add(&marker{}))
	assert.False(t, s.Add(&marker{}))
	assert.False(t, s.Add(valuePlugin{tags: []string{"x"}}))
	assert.Zero(t, s.Len())
	assert.False(t, plugin.Same(&marker{}, &marker{}))
}

func TestSet_AddIsIdempotent(t *testing.T) {
	t.Parallel()

	a := plugintest.NewRecorder("a", nil)
	b := plugintest.NewRecorder("b", nil)
	s := plugin.NewSet(a, b)

	assert.False(t, s.Add(a))
	assert.False(t, s.Add(nil))
	assert.Equal(t, []plugin.Plugin{a, b}, s.GetAll())
	assert.Equal(t, 2, s.Len())
}

func TestSet_GetAllIsSnapshot(t *testing.T) {
	t.Parallel()

	a := plugintest.NewRecorder("a", nil)
	s := plugin.NewSet(a)

	snapshot := s.GetAll()
	s.Add(plugintest.NewRecorder("b", nil))

	assert.Len(t, snapshot, 1)
	assert.Equal(t, 2, s.Len())
}

func TestSet_RemoveDestroysFirstOfClass(t *testing.T) {
	t.Parallel()

	a := plugintest.NewRecorder("a", nil)
	o := plugintest.NewOther("o", nil)
	b := plugintest.NewRecorder("b", nil)
	s := plugin.NewSet(a, o, b)

	require.True(t, s.Remove(plugin.ClassFor[*plugintest.Recorder]()))

	assert.Equal(t, 1, a.Destroyed())
	assert.Equal(t, 0, b.Destroyed())
	assert.Equal(t, []plugin.Plugin{o, b}, s.GetAll())

	assert.False(t, s.Remove(plugin.ClassFor[*plugintest.Passive]()))
}

func TestSet_DetachDoesNotDestroy(t *testing.T) {
	t.Parallel()

	a := plugintest.NewRecorder("a", nil)
	s := plugin.NewSet(a)

	assert.True(t, s.Detach(a))
	assert.False(t, s.Detach(a))
	assert.Equal(t, 0, a.Destroyed())
	assert.False(t, s.Has(a))
}

func TestSet_ClearAndDrain(t *testing.T) {
	t.Parallel()

	a := plugintest.NewRecorder("a", nil)
	p := &plugintest.Passive{Name: "p"}
	s := plugin.NewSet(a, p)

	assert.True(t, s.HasClass(plugin.ClassOf(p)))
	s.Clear()
	assert.Equal(t, 1, a.Destroyed())
	assert.Equal(t, 1, p.Destroyed())
	assert.Zero(t, s.Len())

	s.Add(a)
	drained := s.Drain()
	assert.Equal(t, []plugin.Plugin{a}, drained)
	assert.Equal(t, 1, a.Destroyed())
}

func TestSet_ConcurrentAddDeduplicates(t *testing.T) {
	t.Parallel()

	a := plugintest.NewRecorder("a", nil)
	s := plugin.NewSet()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Add(a)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, s.Len())
}

func TestRequestContext_CloneIsolatesHeaders(t *testing.T) {
	t.Parallel()

	req := plugin.RequestContext{
		Method:  "GET",
		URL:     "https://api.example.com/users?limit=1",
		Headers: map[string]string{"Accept": "application/json"},
	}

	next := req.WithHeader("X-Request-ID", "abc")

	assert.Empty(t, req.Headers["X-Request-ID"])
	assert.Equal(t, "abc", next.Header("x-request-id"))
	assert.Equal(t, "/users", req.Path())
	assert.Equal(t, "/users", plugin.RequestContext{URL: "/users#top"}.Path())
	assert.Equal(t, "/", plugin.RequestContext{URL: "https://api.example.com"}.Path())
}

func TestResponseContext_ShortCircuited(t *testing.T) {
	t.Parallel()

	resp := plugin.ResponseContext{Status: 200}
	assert.False(t, resp.ShortCircuited())
	assert.True(t, resp.WithHeader(plugin.HeaderShortCircuit, "true").ShortCircuited())
	assert.Nil(t, resp.Headers)
}

func TestRequestResult(t *testing.T) {
	t.Parallel()

	req := plugin.RequestContext{Method: "GET", URL: "/users"}
	cont := plugin.Continue(req)
	assert.False(t, cont.IsShortCircuit())
	assert.Equal(t, req, cont.Request())
	assert.Zero(t, cont.Response())

	sc := plugin.ShortCircuit(plugin.ResponseContext{Status: 204})
	assert.True(t, sc.IsShortCircuit())
	assert.Equal(t, 204, sc.Response().Status)
}

func TestScope(t *testing.T) {
	t.Parallel()

	type key struct{}

	assert.Nil(t, plugin.ScopeFromContext(context.Background()))

	scope := plugin.NewScope("call-1")
	ctx := plugin.ContextWithScope(context.Background(), scope)

	got := plugin.ScopeFromContext(ctx)
	require.NotNil(t, got)
	assert.Equal(t, "call-1", got.ID())

	got.Set(key{}, 42)
	v, ok := scope.Get(key{})
	assert.True(t, ok)
	assert.Equal(t, 42, v)
}
