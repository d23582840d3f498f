package config

import (
	"time"

	"github.com/vyrodovalexey/avapiclient/internal/plugins/mocker"
)

// Plugin types accepted in PluginConfig.Type.
const (
	PluginLogging        = "logging"
	PluginRequestID      = "requestid"
	PluginMetrics        = "metrics"
	PluginTracing        = "tracing"
	PluginAuth           = "auth"
	PluginCircuitBreaker = "circuitbreaker"
	PluginRateLimit      = "ratelimit"
	PluginMocker         = "mocker"
)

// Mock state stores.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config is the root client configuration.
type Config struct {
	Log     LogConfig     `yaml:"log" json:"log"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Admin   AdminConfig   `yaml:"admin" json:"admin"`
	Mock    MockConfig    `yaml:"mock" json:"mock"`

	// Plugins are registered globally for every protocol kind they list.
	Plugins []GlobalPluginConfig `yaml:"plugins,omitempty" json:"plugins,omitempty"`

	Services []ServiceConfig `yaml:"services" json:"services"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// TracingConfig configures the OpenTelemetry tracer.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	ServiceName  string  `yaml:"serviceName,omitempty" json:"serviceName,omitempty"`
	OTLPEndpoint string  `yaml:"otlpEndpoint,omitempty" json:"otlpEndpoint,omitempty"`
	SamplingRate float64 `yaml:"samplingRate,omitempty" json:"samplingRate,omitempty"`
}

// MetricsConfig configures the Prometheus metrics.
type MetricsConfig struct {
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`
}

// AdminConfig configures the admin HTTP server started with -serve.
type AdminConfig struct {
	Address string `yaml:"address,omitempty" json:"address,omitempty"`
}

// MockConfig configures mock mode.
type MockConfig struct {
	// Enabled is the startup state. The config watcher toggles mock mode
	// when this value changes on disk.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Store is "memory" or "redis".
	Store string      `yaml:"store,omitempty" json:"store,omitempty"`
	Redis RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty"`
}

// RedisConfig configures the Redis mock state store.
type RedisConfig struct {
	Address     string   `yaml:"address,omitempty" json:"address,omitempty"`
	Password    string   `yaml:"password,omitempty" json:"password,omitempty"`
	DB          int      `yaml:"db,omitempty" json:"db,omitempty"`
	Key         string   `yaml:"key,omitempty" json:"key,omitempty"`
	DialTimeout Duration `yaml:"dialTimeout,omitempty" json:"dialTimeout,omitempty"`
}

// ServiceConfig describes one API service and the protocols it mounts.
type ServiceConfig struct {
	Name string `yaml:"name" json:"name"`

	REST      *EndpointConfig `yaml:"rest,omitempty" json:"rest,omitempty"`
	SSE       *EndpointConfig `yaml:"sse,omitempty" json:"sse,omitempty"`
	WebSocket *EndpointConfig `yaml:"websocket,omitempty" json:"websocket,omitempty"`

	// Plugins apply to every protocol of the service.
	Plugins []PluginConfig `yaml:"plugins,omitempty" json:"plugins,omitempty"`
	// Exclude lists global plugin types the service opts out of.
	Exclude []string `yaml:"exclude,omitempty" json:"exclude,omitempty"`
}

// EndpointConfig is the transport configuration of one protocol.
type EndpointConfig struct {
	BaseURL string            `yaml:"baseURL" json:"baseURL"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Plugins are instance plugins of this protocol only.
	Plugins []PluginConfig `yaml:"plugins,omitempty" json:"plugins,omitempty"`
}

// GlobalPluginConfig is a plugin registered for one or more protocol kinds.
type GlobalPluginConfig struct {
	PluginConfig `yaml:",inline"`

	// Protocols lists the protocol kinds (rest, sse, websocket). Empty
	// means all of them.
	Protocols []string `yaml:"protocols,omitempty" json:"protocols,omitempty"`
}

// PluginConfig selects a built-in plugin and carries its settings. Only the
// block matching Type is read.
type PluginConfig struct {
	Type string `yaml:"type" json:"type"`

	RequestID      *RequestIDConfig      `yaml:"requestID,omitempty" json:"requestID,omitempty"`
	Auth           *AuthConfig           `yaml:"auth,omitempty" json:"auth,omitempty"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuitBreaker,omitempty" json:"circuitBreaker,omitempty"`
	RateLimit      *RateLimitConfig      `yaml:"rateLimit,omitempty" json:"rateLimit,omitempty"`
	Mocker         *MockerConfig         `yaml:"mocker,omitempty" json:"mocker,omitempty"`
}

// RequestIDConfig configures the request ID plugin.
type RequestIDConfig struct {
	Header string `yaml:"header,omitempty" json:"header,omitempty"`
}

// AuthConfig configures the JWT bearer plugin.
type AuthConfig struct {
	Secret   string   `yaml:"secret" json:"secret"`
	KeyID    string   `yaml:"keyID,omitempty" json:"keyID,omitempty"`
	Issuer   string   `yaml:"issuer,omitempty" json:"issuer,omitempty"`
	Subject  string   `yaml:"subject,omitempty" json:"subject,omitempty"`
	Audience []string `yaml:"audience,omitempty" json:"audience,omitempty"`
	TTL      Duration `yaml:"ttl,omitempty" json:"ttl,omitempty"`
}

// CircuitBreakerConfig configures the circuit breaker plugin.
type CircuitBreakerConfig struct {
	Name         string   `yaml:"name,omitempty" json:"name,omitempty"`
	Threshold    int      `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	FailureRatio float64  `yaml:"failureRatio,omitempty" json:"failureRatio,omitempty"`
	Timeout      Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Interval     Duration `yaml:"interval,omitempty" json:"interval,omitempty"`
}

// RateLimitConfig configures the rate limit plugin.
type RateLimitConfig struct {
	RPS     float64 `yaml:"rps" json:"rps"`
	Burst   int     `yaml:"burst,omitempty" json:"burst,omitempty"`
	Wait    bool    `yaml:"wait,omitempty" json:"wait,omitempty"`
	PerHost bool    `yaml:"perHost,omitempty" json:"perHost,omitempty"`
}

// MockerConfig configures a mock plugin.
type MockerConfig struct {
	Name     string           `yaml:"name,omitempty" json:"name,omitempty"`
	Fixtures []mocker.Fixture `yaml:"fixtures" json:"fixtures"`
	// FixturesFile is read relative to the config file and appended to
	// Fixtures.
	FixturesFile string `yaml:"fixturesFile,omitempty" json:"fixturesFile,omitempty"`
}

// Defaults.
const (
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"
	DefaultNamespace      = "apiclient"
	DefaultAdminAddress   = ":9090"
	DefaultTimeout        = 30 * time.Second
	DefaultServiceName    = "apiclient"
	DefaultRedisKey       = "apiclient:mock:enabled"
	DefaultRedisAddress   = "localhost:6379"
	DefaultSamplingRate   = 1.0
	DefaultRedisDialLimit = 5 * time.Second
)

// DefaultConfig returns a configuration with default values and no services.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills the zero values the loader leaves behind.
func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = DefaultServiceName
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = DefaultSamplingRate
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultNamespace
	}
	if cfg.Admin.Address == "" {
		cfg.Admin.Address = DefaultAdminAddress
	}
	if cfg.Mock.Store == "" {
		cfg.Mock.Store = StoreMemory
	}
	if cfg.Mock.Store == StoreRedis {
		if cfg.Mock.Redis.Address == "" {
			cfg.Mock.Redis.Address = DefaultRedisAddress
		}
		if cfg.Mock.Redis.Key == "" {
			cfg.Mock.Redis.Key = DefaultRedisKey
		}
		if cfg.Mock.Redis.DialTimeout == 0 {
			cfg.Mock.Redis.DialTimeout = Duration(DefaultRedisDialLimit)
		}
	}
	for i := range cfg.Services {
		for _, ep := range cfg.Services[i].Endpoints() {
			if ep.Timeout == 0 {
				ep.Timeout = Duration(DefaultTimeout)
			}
		}
	}
}

// Endpoints returns the configured endpoints keyed by protocol kind.
func (s *ServiceConfig) Endpoints() map[string]*EndpointConfig {
	out := make(map[string]*EndpointConfig, 3)
	if s.REST != nil {
		out["rest"] = s.REST
	}
	if s.SSE != nil {
		out["sse"] = s.SSE
	}
	if s.WebSocket != nil {
		out["websocket"] = s.WebSocket
	}
	return out
}

// Service returns the service with the given name.
func (c *Config) Service(name string) (*ServiceConfig, bool) {
	for i := range c.Services {
		if c.Services[i].Name == name {
			return &c.Services[i], true
		}
	}
	return nil, false
}
