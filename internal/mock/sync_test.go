package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avapiclient/internal/event"
	"github.com/vyrodovalexey/avapiclient/internal/observability"
	"github.com/vyrodovalexey/avapiclient/internal/plugin"
	"github.com/vyrodovalexey/avapiclient/internal/plugin/plugintest"
	"github.com/vyrodovalexey/avapiclient/internal/protocol"
	"github.com/vyrodovalexey/avapiclient/internal/registry"
	"github.com/vyrodovalexey/avapiclient/internal/service"
	"github.com/vyrodovalexey/avapiclient/internal/util"
)

type testProtocol struct {
	*protocol.Base
}

func newTestProtocol(src protocol.Sources, opts ...protocol.Option) *testProtocol {
	p := &testProtocol{}
	p.Base = protocol.NewBase("test", plugin.ClassOf(p), src, opts...)
	return p
}

type fixture struct {
	services *service.Registry
	bus      *event.Bus
	users    *testProtocol
	orders   *testProtocol
	mockA    *plugintest.Recorder
	mockB    *plugintest.Recorder
	regular  *plugintest.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		services: service.NewRegistry(),
		bus:      event.NewBus(),
		mockA:    &plugintest.Recorder{Name: "mock-a", Mock: true},
		mockB:    &plugintest.Recorder{Name: "mock-b", Mock: true},
		regular:  plugintest.NewRecorder("regular", nil),
	}

	reg := registry.New()
	users := service.New("users", reg)
	orders := service.New("orders", reg)
	require.NoError(t, f.services.Register(users))
	require.NoError(t, f.services.Register(orders))

	f.users = service.Mount(users, newTestProtocol)
	f.orders = service.Mount(orders, newTestProtocol)

	require.NoError(t, users.RegisterPlugin(f.users, f.mockA))
	require.NoError(t, users.RegisterPlugin(f.users, f.regular))
	require.NoError(t, orders.RegisterPlugin(f.orders, f.mockB))
	require.NoError(t, orders.RegisterPlugin(f.orders, f.mockA))

	return f
}

func TestSync_EnableActivatesOnlyMocks(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := NewSync(f.services, f.bus)
	require.NoError(t, s.Init(context.Background()))
	defer func() { _ = s.Close() }()

	assert.Zero(t, f.users.Plugins().Len(), "nothing active before the first toggle")

	require.NoError(t, Emit(context.Background(), f.bus, true))

	assert.True(t, s.Enabled())
	assert.Equal(t, []plugin.Plugin{f.mockA}, f.users.Plugins().GetAll())
	assert.Equal(t, []plugin.Plugin{f.mockB, f.mockA}, f.orders.Plugins().GetAll())
	assert.False(t, f.users.Plugins().Has(f.regular))
}

func TestSync_EnableTwiceIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := NewSync(f.services, f.bus)
	require.NoError(t, s.Init(context.Background()))
	defer func() { _ = s.Close() }()

	require.NoError(t, Emit(context.Background(), f.bus, true))
	require.NoError(t, Emit(context.Background(), f.bus, true))

	assert.Equal(t, 1, f.users.Plugins().Len())
	assert.Equal(t, 2, f.orders.Plugins().Len())
}

func TestSync_DisableWhenNeverEnabledIsNoop(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.users.Plugins().Add(f.regular)

	s := NewSync(f.services, f.bus)
	require.NoError(t, s.Init(context.Background()))
	defer func() { _ = s.Close() }()

	require.NoError(t, Emit(context.Background(), f.bus, false))

	assert.Equal(t, []plugin.Plugin{f.regular}, f.users.Plugins().GetAll())
	assert.Zero(t, f.orders.Plugins().Len())
}

func TestSync_DisableDetachesWithoutDestroying(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.users.Plugins().Add(f.regular)

	s := NewSync(f.services, f.bus)
	require.NoError(t, s.Init(context.Background()))
	defer func() { _ = s.Close() }()

	require.NoError(t, Emit(context.Background(), f.bus, true))
	require.NoError(t, Emit(context.Background(), f.bus, false))

	assert.Equal(t, []plugin.Plugin{f.regular}, f.users.Plugins().GetAll())
	assert.Zero(t, f.orders.Plugins().Len())
	assert.Zero(t, f.mockA.Destroyed())
	assert.Zero(t, f.mockB.Destroyed())
}

func TestSync_InitRestoresPersistedState(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	store := NewMemoryStore(true)
	metrics := observability.NewMetrics("test")

	s := NewSync(f.services, f.bus, WithStore(store), WithMetrics(metrics))
	require.NoError(t, s.Init(context.Background()))
	defer func() { _ = s.Close() }()

	assert.True(t, s.Enabled())
	assert.True(t, f.users.Plugins().Has(f.mockA))
	assert.True(t, f.orders.Plugins().Has(f.mockB))

	err := s.Init(context.Background())
	assert.ErrorIs(t, err, util.ErrAlreadyInitialized)

	count, err := testutil.GatherAndCount(metrics.Registry(), "test_mock_mode")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSync_TogglePersists(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	store := NewMemoryStore(false)
	s := NewSync(f.services, f.bus, WithStore(store))
	require.NoError(t, s.Init(context.Background()))
	defer func() { _ = s.Close() }()

	require.NoError(t, f.bus.Emit(context.Background(), ToggleEvent, &Toggle{Enabled: true}))

	enabled, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, enabled)
}

type failingStore struct {
	MemoryStore
}

func (f *failingStore) Save(context.Context, bool) error {
	return errors.New("disk full")
}

func TestSync_PersistFailureStillSweeps(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := NewSync(f.services, f.bus, WithStore(&failingStore{}))
	require.NoError(t, s.Init(context.Background()))
	defer func() { _ = s.Close() }()

	err := Emit(context.Background(), f.bus, true)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.True(t, f.users.Plugins().Has(f.mockA))
}

func TestSync_InvalidPayload(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := NewSync(f.services, f.bus)
	require.NoError(t, s.Init(context.Background()))
	defer func() { _ = s.Close() }()

	err := f.bus.Emit(context.Background(), ToggleEvent, "yes")
	assert.ErrorIs(t, err, util.ErrInvalidInput)

	require.NoError(t, f.bus.Emit(context.Background(), ToggleEvent, true))
	assert.True(t, s.Enabled())
}

func TestSync_CloseUnsubscribes(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	s := NewSync(f.services, f.bus)
	require.NoError(t, s.Init(context.Background()))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	require.NoError(t, Emit(context.Background(), f.bus, true))

	assert.False(t, s.Enabled())
	assert.Zero(t, f.users.Plugins().Len())
	assert.Zero(t, f.bus.Subscribers(ToggleEvent))
}

func TestSync_MockPluginShortCircuitsOnlyWhenActive(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mockA.Request = func(context.Context, plugin.RequestContext) (plugin.RequestResult, error) {
		return plugin.ShortCircuit(plugin.ResponseContext{Status: 200, Data: "mocked"}), nil
	}
	require.NoError(t, f.users.Initialize(protocol.Config{}))

	s := NewSync(f.services, f.bus)
	require.NoError(t, s.Init(context.Background()))
	defer func() { _ = s.Close() }()

	transport := func(context.Context, plugin.RequestContext) (plugin.ResponseContext, error) {
		return plugin.ResponseContext{Status: 200, Data: "live"}, nil
	}
	req := plugin.RequestContext{Method: "GET", URL: "/users"}

	resp, err := f.users.Execute(context.Background(), req, transport)
	require.NoError(t, err)
	assert.Equal(t, "live", resp.Data)

	require.NoError(t, Emit(context.Background(), f.bus, true))
	resp, err = f.users.Execute(context.Background(), req, transport)
	require.NoError(t, err)
	assert.Equal(t, "mocked", resp.Data)

	require.NoError(t, Emit(context.Background(), f.bus, false))
	resp, err = f.users.Execute(context.Background(), req, transport)
	require.NoError(t, err)
	assert.Equal(t, "live", resp.Data)
}
