package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/vyrodovalexey/avapiclient/internal/util"
)

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"json", "console"}
	validProtocols  = []string{"rest", "sse", "websocket"}
	validPlugins    = []string{
		PluginLogging, PluginRequestID, PluginMetrics, PluginTracing,
		PluginAuth, PluginCircuitBreaker, PluginRateLimit, PluginMocker,
	}
)

// Validator validates client configuration. Field errors are collected
// under their dotted path.
type Validator struct {
	errors *util.ValidationError
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateConfig validates a configuration.
func ValidateConfig(config *Config) error {
	return NewValidator().Validate(config)
}

// Validate validates the configuration. The returned error is a
// *util.ValidationError listing every invalid field.
func (v *Validator) Validate(config *Config) error {
	v.errors = util.NewValidationError("invalid configuration")

	if config == nil {
		v.errors.Message = "configuration is nil"
		return v.errors
	}

	v.validateLog(&config.Log)
	v.validateTracing(&config.Tracing)
	v.validateMock(&config.Mock)
	v.validateGlobalPlugins(config.Plugins)
	v.validateServices(config.Services)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) addError(path, message string) {
	v.errors.AddField(path, message)
}

func (v *Validator) validateLog(cfg *LogConfig) {
	if !slices.Contains(validLogLevels, strings.ToLower(cfg.Level)) {
		v.addError("log.level", fmt.Sprintf("must be one of %s", strings.Join(validLogLevels, ", ")))
	}
	if !slices.Contains(validLogFormats, cfg.Format) {
		v.addError("log.format", fmt.Sprintf("must be one of %s", strings.Join(validLogFormats, ", ")))
	}
}

func (v *Validator) validateTracing(cfg *TracingConfig) {
	if cfg.SamplingRate < 0 || cfg.SamplingRate > 1 {
		v.addError("tracing.samplingRate", "must be between 0 and 1")
	}
}

func (v *Validator) validateMock(cfg *MockConfig) {
	switch cfg.Store {
	case StoreMemory:
	case StoreRedis:
		if cfg.Redis.Address == "" {
			v.addError("mock.redis.address", "address is required for the redis store")
		}
		if cfg.Redis.DB < 0 {
			v.addError("mock.redis.db", "db cannot be negative")
		}
	default:
		v.addError("mock.store", "store must be memory or redis")
	}
}

func (v *Validator) validateGlobalPlugins(plugins []GlobalPluginConfig) {
	for i := range plugins {
		path := fmt.Sprintf("plugins[%d]", i)
		v.validatePlugin(&plugins[i].PluginConfig, path)
		for j, p := range plugins[i].Protocols {
			if !slices.Contains(validProtocols, p) {
				v.addError(fmt.Sprintf("%s.protocols[%d]", path, j),
					fmt.Sprintf("unknown protocol %q", p))
			}
		}
	}
}

func (v *Validator) validateServices(services []ServiceConfig) {
	names := make(map[string]bool, len(services))

	for i := range services {
		svc := &services[i]
		path := fmt.Sprintf("services[%d]", i)

		switch {
		case strings.TrimSpace(svc.Name) == "":
			v.addError(path+".name", "service name is required")
		case names[svc.Name]:
			v.addError(path+".name", fmt.Sprintf("duplicate service name: %s", svc.Name))
		default:
			names[svc.Name] = true
		}

		endpoints := svc.Endpoints()
		if len(endpoints) == 0 {
			v.addError(path, "at least one of rest, sse or websocket is required")
		}
		for kind, ep := range endpoints {
			v.validateEndpoint(kind, ep, path+"."+kind)
		}

		for j := range svc.Plugins {
			v.validatePlugin(&svc.Plugins[j], fmt.Sprintf("%s.plugins[%d]", path, j))
		}
		for j, t := range svc.Exclude {
			if !slices.Contains(validPlugins, t) {
				v.addError(fmt.Sprintf("%s.exclude[%d]", path, j), fmt.Sprintf("unknown plugin type %q", t))
			}
		}
	}
}

func (v *Validator) validateEndpoint(kind string, ep *EndpointConfig, path string) {
	schemes := []string{"http", "https"}
	if kind == "websocket" {
		schemes = append(schemes, "ws", "wss")
	}
	if err := util.ValidateURL(ep.BaseURL, schemes...); err != nil {
		v.addError(path+".baseURL", err.Error())
	}
	for name := range ep.Headers {
		if err := util.ValidateHeaderName(name); err != nil {
			v.addError(path+".headers", err.Error())
		}
	}
	if err := util.ValidateDuration(ep.Timeout.Duration()); err != nil {
		v.addError(path+".timeout", err.Error())
	}
	for j := range ep.Plugins {
		v.validatePlugin(&ep.Plugins[j], fmt.Sprintf("%s.plugins[%d]", path, j))
	}
}

func (v *Validator) validatePlugin(pc *PluginConfig, path string) {
	if !slices.Contains(validPlugins, pc.Type) {
		v.addError(path+".type", fmt.Sprintf("unknown plugin type %q", pc.Type))
		return
	}

	switch pc.Type {
	case PluginRequestID:
		if pc.RequestID != nil && pc.RequestID.Header != "" {
			if err := util.ValidateHeaderName(pc.RequestID.Header); err != nil {
				v.addError(path+".requestID.header", err.Error())
			}
		}
	case PluginAuth:
		if pc.Auth == nil || pc.Auth.Secret == "" {
			v.addError(path+".auth.secret", "secret is required")
		} else if pc.Auth.TTL < 0 {
			v.addError(path+".auth.ttl", "ttl cannot be negative")
		}
	case PluginCircuitBreaker:
		if cb := pc.CircuitBreaker; cb != nil {
			if cb.Threshold < 0 {
				v.addError(path+".circuitBreaker.threshold", "threshold cannot be negative")
			}
			if cb.FailureRatio < 0 || cb.FailureRatio > 1 {
				v.addError(path+".circuitBreaker.failureRatio", "must be between 0 and 1")
			}
		}
	case PluginRateLimit:
		if pc.RateLimit == nil || pc.RateLimit.RPS <= 0 {
			v.addError(path+".rateLimit.rps", "rps must be positive")
		} else if pc.RateLimit.Burst < 0 {
			v.addError(path+".rateLimit.burst", "burst cannot be negative")
		}
	case PluginMocker:
		v.validateMocker(pc.Mocker, path+".mocker")
	}
}

func (v *Validator) validateMocker(cfg *MockerConfig, path string) {
	if cfg == nil {
		v.addError(path, "mocker settings are required")
		return
	}
	for i, f := range cfg.Fixtures {
		fpath := fmt.Sprintf("%s.fixtures[%d]", path, i)
		if f.Method != "" {
			if err := util.ValidateHTTPMethod(f.Method); err != nil {
				v.addError(fpath+".method", err.Error())
			}
		}
		if f.Status != 0 {
			if err := util.ValidateHTTPStatusCode(f.Status); err != nil {
				v.addError(fpath+".status", err.Error())
			}
		}
		if f.Delay < 0 {
			v.addError(fpath+".delay", "delay cannot be negative")
		}
	}
}
