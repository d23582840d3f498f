// Package util provides utility functions and types for the API client.
//
// # Error Conventions
//
// This project follows a standardized error pattern across all packages:
//
//   - Sentinel errors (errors.New) for well-known, stable conditions
//     that callers check with errors.Is(). Example: ErrNotInitialized.
//   - Structured error types for context-rich errors that carry
//     additional fields (e.g., ConfigurationError, TransportError). Each type
//     implements Error(), Unwrap() (if wrapping), and Is().
//   - fmt.Errorf with %w for ad-hoc wrapping that adds context to an
//     existing error without introducing a new type.
//
// All custom error types must implement:
//
//	Error() string           – human-readable message
//	Unwrap() error           – if the type wraps another error
//	Is(target error) bool    – for errors.Is() compatibility
package util

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Common sentinel errors.
var (
	ErrNotInitialized        = errors.New("protocol not initialized")
	ErrAlreadyInitialized    = errors.New("protocol already initialized")
	ErrProtocolNotRegistered = errors.New("protocol not registered on service")
	ErrServiceExists         = errors.New("service already registered")
	ErrNilPlugin             = errors.New("plugin cannot be nil")
	ErrTransport             = errors.New("transport failure")
	ErrCircuitOpen           = errors.New("circuit breaker open")
	ErrRateLimited           = errors.New("rate limit exceeded")
	ErrConfigInvalid         = errors.New("invalid configuration")
	ErrInvalidInput          = errors.New("invalid input")
)

// ConfigurationError reports misuse of the plugin framework that is detected
// synchronously, before any plugin hook runs.
type ConfigurationError struct {
	Component string
	Message   string
	Cause     error
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Message)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigurationError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *ConfigurationError) Is(target error) bool {
	if target == ErrConfigInvalid {
		return true
	}
	_, ok := target.(*ConfigurationError)
	return ok || errors.Is(e.Cause, target)
}

// NewConfigurationError creates a new ConfigurationError.
func NewConfigurationError(component, message string) *ConfigurationError {
	return &ConfigurationError{Component: component, Message: message}
}

// NewConfigurationErrorWithCause creates a new ConfigurationError with a cause.
func NewConfigurationErrorWithCause(component, message string, cause error) *ConfigurationError {
	return &ConfigurationError{Component: component, Message: message, Cause: cause}
}

// ValidationError represents a validation failure.
type ValidationError struct {
	Fields  map[string]string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("validation error: %s", e.Message)
	}
	return fmt.Sprintf("validation error: %s (fields: %v)", e.Message, e.Fields)
}

// Is checks if the error matches the target.
func (e *ValidationError) Is(target error) bool {
	if target == ErrConfigInvalid {
		return true
	}
	_, ok := target.(*ValidationError)
	return ok
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message, Fields: make(map[string]string)}
}

// AddField adds a field error.
func (e *ValidationError) AddField(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = message
}

// HasErrors reports whether any field error was recorded.
func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

// TransportError represents a failed transport call. StatusCode is zero when
// the call never produced a response (connection refused, DNS, cancellation).
type TransportError struct {
	Method     string
	URL        string
	StatusCode int
	Headers    map[string]string
	Data       any
	Cause      error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s %s: unexpected status %d %s",
			e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	case e.Cause != nil:
		return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Cause)
	default:
		return fmt.Sprintf("%s %s: transport failure", e.Method, e.URL)
	}
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *TransportError) Is(target error) bool {
	if target == ErrTransport {
		return true
	}
	_, ok := target.(*TransportError)
	return ok || errors.Is(e.Cause, target)
}

// IsServerError reports whether the transport returned a 5xx status.
func (e *TransportError) IsServerError() bool {
	return e.StatusCode >= http.StatusInternalServerError
}

// NewTransportError creates a TransportError for a call that failed before a
// response was received.
func NewTransportError(method, url string, cause error) *TransportError {
	return &TransportError{Method: method, URL: url, Cause: cause}
}

// NewStatusError creates a TransportError for a non-2xx response.
func NewStatusError(method, url string, status int, headers map[string]string, data any) *TransportError {
	return &TransportError{Method: method, URL: url, StatusCode: status, Headers: headers, Data: data}
}

// PluginError wraps a failure raised by a plugin hook itself.
type PluginError struct {
	Plugin string
	Phase  string
	Cause  error
}

// Error implements the error interface.
func (e *PluginError) Error() string {
	return fmt.Sprintf("plugin %s failed in %s: %v", e.Plugin, e.Phase, e.Cause)
}

// Unwrap returns the underlying error.
func (e *PluginError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *PluginError) Is(target error) bool {
	_, ok := target.(*PluginError)
	return ok || errors.Is(e.Cause, target)
}

// NewPluginError creates a new PluginError.
func NewPluginError(plugin, phase string, cause error) *PluginError {
	return &PluginError{Plugin: plugin, Phase: phase, Cause: cause}
}

// RateLimitError represents a client-side rate limit rejection.
type RateLimitError struct {
	Limit      float64
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (limit: %g/s, retry after: %v)", e.Limit, e.RetryAfter)
}

// Is checks if the error matches the target.
func (e *RateLimitError) Is(target error) bool {
	if target == ErrRateLimited {
		return true
	}
	_, ok := target.(*RateLimitError)
	return ok
}

// NewRateLimitError creates a new RateLimitError.
func NewRateLimitError(limit float64, retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{Limit: limit, RetryAfter: retryAfter}
}

// CircuitOpenError represents a circuit breaker rejection.
type CircuitOpenError struct {
	Name  string
	State string
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %s is %s", e.Name, e.State)
}

// Is checks if the error matches the target.
func (e *CircuitOpenError) Is(target error) bool {
	if target == ErrCircuitOpen {
		return true
	}
	_, ok := target.(*CircuitOpenError)
	return ok
}

// NewCircuitOpenError creates a new CircuitOpenError.
func NewCircuitOpenError(name, state string) *CircuitOpenError {
	return &CircuitOpenError{Name: name, State: state}
}

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsConfigurationError reports whether err is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

// StatusCode returns the HTTP status carried by a TransportError in err's
// chain, or zero.
func StatusCode(err error) int {
	var tErr *TransportError
	if errors.As(err, &tErr) {
		return tErr.StatusCode
	}
	return 0
}
