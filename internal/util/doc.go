// Package util provides utility functions and types for the API client.
//
// This package contains shared utilities used across the client
// including context helpers, error types, and validation functions.
//
// # Context Helpers
//
// Context utilities for call-scoped data:
//
//	ctx = util.ContextWithCallID(ctx, id)
//	callID := util.CallIDFromContext(ctx)
//
// # Error Types
//
// Structured error types for consistent error handling:
//
//   - ConfigurationError: framework misuse detected before a chain runs
//   - TransportError: failed transport calls and non-2xx responses
//   - PluginError: failures raised by plugin hooks
//   - Common sentinel errors: ErrNotInitialized, ErrTransport, etc.
//
// # Validation
//
// Input validation helpers for URLs, durations, and headers:
//
//	err := util.ValidateURL("https://example.com")
//	err := util.ValidateHeaderName("X-Custom-Header")
package util
