package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avapiclient/internal/util"
)

const fullConfigYAML = `
log:
  level: debug
  format: console
tracing:
  enabled: true
  otlpEndpoint: localhost:4317
mock:
  enabled: true
  store: redis
  redis:
    address: redis:6379
plugins:
  - type: logging
  - type: requestid
    protocols: [rest]
    requestID:
      header: X-Correlation-ID
services:
  - name: users
    rest:
      baseURL: https://users.example.com/api
      headers:
        X-Tenant: acme
      timeout: 5s
      plugins:
        - type: ratelimit
          rateLimit:
            rps: 10
            burst: 5
    sse:
      baseURL: https://users.example.com/events
    plugins:
      - type: circuitbreaker
        circuitBreaker:
          threshold: 5
          timeout: 30s
      - type: mocker
        mocker:
          name: users-mock
          fixtures:
            - method: GET
              path: /users
              status: 200
              delay: 50ms
              body:
                - id: "1"
    exclude: [requestid]
  - name: chat
    websocket:
      baseURL: wss://chat.example.com
`

func TestLoadConfigFromReader_Full(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfigFromReader(strings.NewReader(fullConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, DefaultServiceName, cfg.Tracing.ServiceName)
	assert.Equal(t, DefaultNamespace, cfg.Metrics.Namespace)
	assert.Equal(t, DefaultAdminAddress, cfg.Admin.Address)

	assert.True(t, cfg.Mock.Enabled)
	assert.Equal(t, StoreRedis, cfg.Mock.Store)
	assert.Equal(t, "redis:6379", cfg.Mock.Redis.Address)
	assert.Equal(t, DefaultRedisKey, cfg.Mock.Redis.Key)

	require.Len(t, cfg.Plugins, 2)
	assert.Equal(t, PluginLogging, cfg.Plugins[0].Type)
	assert.Empty(t, cfg.Plugins[0].Protocols)
	assert.Equal(t, []string{"rest"}, cfg.Plugins[1].Protocols)
	assert.Equal(t, "X-Correlation-ID", cfg.Plugins[1].RequestID.Header)

	users, ok := cfg.Service("users")
	require.True(t, ok)
	assert.Equal(t, "https://users.example.com/api", users.REST.BaseURL)
	assert.Equal(t, map[string]string{"X-Tenant": "acme"}, users.REST.Headers)
	assert.Equal(t, 5*time.Second, users.REST.Timeout.Duration())
	assert.Equal(t, DefaultTimeout, users.SSE.Timeout.Duration())
	require.Len(t, users.REST.Plugins, 1)
	assert.Equal(t, 10.0, users.REST.Plugins[0].RateLimit.RPS)
	assert.Equal(t, []string{PluginRequestID}, users.Exclude)

	require.Len(t, users.Plugins, 2)
	assert.Equal(t, 30*time.Second, users.Plugins[0].CircuitBreaker.Timeout.Duration())
	mockCfg := users.Plugins[1].Mocker
	require.NotNil(t, mockCfg)
	require.Len(t, mockCfg.Fixtures, 1)
	assert.Equal(t, 50*time.Millisecond, mockCfg.Fixtures[0].Delay)
	assert.Equal(t, []any{map[string]any{"id": "1"}}, mockCfg.Fixtures[0].Body)

	chat, ok := cfg.Service("chat")
	require.True(t, ok)
	assert.Len(t, chat.Endpoints(), 1)

	_, ok = cfg.Service("missing")
	assert.False(t, ok)
}

func TestLoadConfigFromReader_Empty(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfigFromReader(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigFromReader_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		content   string
		wantField string
	}{
		{name: "malformed yaml", content: "log: [\n"},
		{name: "unknown field", content: "logging: {}\n"},
		{name: "bad duration", content: "services:\n  - name: a\n    rest:\n      baseURL: http://a\n      timeout: soon\n"},
		{name: "invalid level", content: "log:\n  level: loud\n", wantField: "log.level"},
		{name: "missing endpoint", content: "services:\n  - name: a\n", wantField: "services[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := LoadConfigFromReader(strings.NewReader(tt.content))
			require.Error(t, err)
			if tt.wantField != "" {
				var verr *util.ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Contains(t, verr.Fields, tt.wantField)
			}
		})
	}
}

func TestLoader_SubstituteEnvVars(t *testing.T) {
	t.Parallel()

	env := map[string]string{"HOST": "api.local", "EMPTY": ""}
	loader := &Loader{lookup: func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}}

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "set", input: "${HOST}", want: "api.local"},
		{name: "unset", input: "${MISSING}", want: ""},
		{name: "default", input: "${MISSING:-fallback}", want: "fallback"},
		{name: "set wins over default", input: "${HOST:-fallback}", want: "api.local"},
		{name: "empty value is kept", input: "${EMPTY:-fallback}", want: ""},
		{name: "escaped dollar", input: "$${HOST}", want: "${HOST}"},
		{name: "embedded", input: "https://${HOST}/v1", want: "https://api.local/v1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, loader.substituteEnvVars(tt.input))
		})
	}
}

func TestLoadConfig_EnvAndFixturesFile(t *testing.T) {
	t.Setenv("AVAPICLIENT_TEST_MOCK", "true")

	dir := t.TempDir()
	fixtures := "- method: GET\n  path: /orders/:id\n  body: {id: \"7\"}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fixtures.yaml"), []byte(fixtures), 0o600))

	content := `
mock:
  enabled: ${AVAPICLIENT_TEST_MOCK:-false}
services:
  - name: orders
    rest:
      baseURL: http://localhost:9000
    plugins:
      - type: mocker
        mocker:
          fixturesFile: fixtures.yaml
`
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.True(t, cfg.Mock.Enabled)

	orders, ok := cfg.Service("orders")
	require.True(t, ok)
	fx := orders.Plugins[0].Mocker.Fixtures
	require.Len(t, fx, 1)
	assert.Equal(t, "/orders/:id", fx[0].Path)
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestResolveConfigPath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))

	got, err := ResolveConfigPath(path)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	_, err = ResolveConfigPath(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	_, err = ResolveConfigPath("definitely-missing-apiclient.yaml")
	assert.Error(t, err)
}

func TestDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		json    string
		want    time.Duration
		wantErr bool
	}{
		{name: "string", json: `"1m30s"`, want: 90 * time.Second},
		{name: "seconds", json: `15`, want: 15 * time.Second},
		{name: "null", json: `null`},
		{name: "empty", json: `""`},
		{name: "invalid", json: `"later"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var d Duration
			err := d.UnmarshalJSON([]byte(tt.json))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Duration())
		})
	}

	out, err := Duration(2 * time.Second).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"2s"`, string(out))
}
