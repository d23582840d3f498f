package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avapiclient/internal/mock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func failing(msg string) func(context.Context) error {
	return func(context.Context) error { return errors.New(msg) }
}

func passing(context.Context) error { return nil }

func TestChecker_Readiness(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		checks []*DependencyCheck
		want   Status
	}{
		{name: "no checks", want: StatusHealthy},
		{
			name:   "all passing",
			checks: []*DependencyCheck{CustomHealthCheck("a", passing), CustomHealthCheck("b", passing)},
			want:   StatusHealthy,
		},
		{
			name: "non-critical failure degrades",
			checks: []*DependencyCheck{
				CustomHealthCheck("a", passing),
				CustomHealthCheck("b", failing("down"), WithCritical(false)),
			},
			want: StatusDegraded,
		},
		{
			name: "critical failure wins",
			checks: []*DependencyCheck{
				CustomHealthCheck("a", failing("down")),
				CustomHealthCheck("b", failing("down"), WithCritical(false)),
			},
			want: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			checker := NewChecker("test")
			for _, c := range tt.checks {
				checker.Register(c)
			}

			resp := checker.Readiness(context.Background())
			assert.Equal(t, tt.want, resp.Status)
			assert.Len(t, resp.Checks, len(tt.checks))
		})
	}
}

func TestChecker_RegisterReplacesAndUnregister(t *testing.T) {
	t.Parallel()

	checker := NewChecker("test")
	checker.Register(CustomHealthCheck("store", failing("down")))
	checker.Register(CustomHealthCheck("store", passing))
	checker.Register(CustomHealthCheck("api", passing))

	assert.Equal(t, []string{"api", "store"}, checker.Names())
	assert.Equal(t, StatusHealthy, checker.Readiness(context.Background()).Status)

	checker.Unregister("api")
	assert.Equal(t, []string{"store"}, checker.Names())
}

func TestChecker_ReadinessTimeout(t *testing.T) {
	t.Parallel()

	checker := NewChecker("test", WithTimeout(20*time.Millisecond))
	checker.Register(CustomHealthCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	resp := checker.Readiness(context.Background())
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Contains(t, resp.Checks["slow"].Message, "deadline")
}

func TestChecker_Handlers(t *testing.T) {
	t.Parallel()

	checker := NewChecker("1.2.3")
	checker.Register(CustomHealthCheck("store", failing("down")))

	engine := gin.New()
	checker.RegisterRoutes(engine)

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, StatusHealthy, health.Status)
	assert.Equal(t, "1.2.3", health.Version)

	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var ready ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ready))
	assert.Equal(t, StatusUnhealthy, ready.Status)
	assert.Equal(t, "down", ready.Checks["store"].Message)
	assert.True(t, ready.Checks["store"].Critical)
}

func TestRedisHealthCheck(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	cfg := mock.DefaultRedisConfig()
	cfg.Address = mr.Addr()
	store, err := mock.NewRedisStore(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	check := RedisHealthCheck("mock-store", store)
	assert.Equal(t, DependencyTypeCache, check.Type())
	assert.NoError(t, check.Check(context.Background()))

	mr.Close()
	assert.Error(t, check.Check(context.Background()))

	assert.Error(t, RedisHealthCheck("nil", nil).Check(context.Background()))
}

func TestEndpointHealthCheck(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	check := EndpointHealthCheck("users", srv.URL, time.Second, WithCritical(false))
	assert.False(t, check.IsCritical())
	assert.NoError(t, check.Check(context.Background()))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	closedAddr := ln.Addr().String()
	require.NoError(t, ln.Close())

	assert.Error(t, EndpointHealthCheck("gone", "http://"+closedAddr, time.Second).Check(context.Background()))
	assert.Error(t, EndpointHealthCheck("bad", "://nohost", time.Second).Check(context.Background()))
}

func TestHostPort(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "http://api.local", want: "api.local:80"},
		{in: "https://api.local/v1", want: "api.local:443"},
		{in: "wss://chat.local", want: "chat.local:443"},
		{in: "ws://chat.local:8080", want: "chat.local:8080"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := hostPort(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCached(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	check := Cached(CustomHealthCheck("api", func(context.Context) error {
		calls.Add(1)
		return nil
	}, WithCritical(false)), time.Hour)

	for range 3 {
		require.NoError(t, check.Check(context.Background()))
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, check.IsCritical())
	assert.Equal(t, "api", check.Name())
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	checker := NewChecker("test", WithMetrics(NewMetrics(reg, "apiclient")))
	checker.Register(CustomHealthCheck("ok", passing))
	checker.Register(CustomHealthCheck("bad", failing("x")))

	checker.Readiness(context.Background())

	m := checker.metrics
	assert.Equal(t, 1.0, testutil.ToFloat64(m.checkStatus.WithLabelValues("ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.checkStatus.WithLabelValues("bad")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.checksTotal.WithLabelValues("bad", "failure")))
}
