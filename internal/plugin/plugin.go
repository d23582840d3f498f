// Package plugin defines the plugin contract shared by every protocol:
// the descriptor, the optional lifecycle hooks, the immutable call
// contexts and the identity-based plugin set.
package plugin

import (
	"context"
	"fmt"
	"reflect"

	"github.com/vyrodovalexey/avapiclient/internal/util"
)

// Descriptor describes a plugin. It is fixed when the plugin is constructed.
type Descriptor struct {
	// Name is a human readable plugin name used in logs and metrics.
	Name string

	// Mock marks the plugin as a fixture provider. Mock plugins are
	// activated and deactivated by the mock sync sweep only.
	Mock bool
}

// Plugin is a unit interposed on a protocol call. Hooks are optional and
// detected through the single-method interfaces below. Plugins are compared
// by reference, so implementations must satisfy CheckIdentity.
type Plugin interface {
	Descriptor() Descriptor
}

// RequestHook intercepts the request phase.
type RequestHook interface {
	OnRequest(ctx context.Context, req RequestContext) (RequestResult, error)
}

// ResponseHook intercepts the response phase.
type ResponseHook interface {
	OnResponse(ctx context.Context, resp ResponseContext) (ResponseContext, error)
}

// ErrorHook intercepts the error phase. Returning a non-nil response
// recovers the call. Returning a non-nil error replaces the current error.
// Returning nil for both leaves the current error in place.
type ErrorHook interface {
	OnError(ctx context.Context, err error, req RequestContext) (*ResponseContext, error)
}

// ConnectHook intercepts connection establishment on stream protocols.
type ConnectHook interface {
	OnConnect(ctx context.Context, conn ConnectContext) (ConnectResult, error)
}

// DisconnectHook observes connection teardown on stream protocols.
type DisconnectHook interface {
	OnDisconnect(ctx context.Context, connectionID string) error
}

// Destroyer releases plugin resources.
type Destroyer interface {
	Destroy()
}

// Class identifies a plugin or protocol type.
type Class = reflect.Type

// ClassOf returns the runtime class of v.
func ClassOf(v any) Class {
	return reflect.TypeOf(v)
}

// ClassFor returns the class of T. ClassFor[*Logger]() equals
// ClassOf(&Logger{}).
func ClassFor[T any]() Class {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// IsMock reports whether p is classified as a mock plugin.
func IsMock(p Plugin) bool {
	return p != nil && p.Descriptor().Mock
}

// Name returns the descriptor name of p, falling back to its type name.
func Name(p Plugin) string {
	if p == nil {
		return ""
	}
	if name := p.Descriptor().Name; name != "" {
		return name
	}
	t := reflect.TypeOf(p)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

// Destroy invokes p's Destroy hook when it has one.
func Destroy(p Plugin) {
	if d, ok := p.(Destroyer); ok {
		d.Destroy()
	}
}

// CheckIdentity reports whether p can be tracked by reference. A plugin
// must be a non-nil pointer to a type of non-zero size: Go may give every
// zero-size allocation the same address, so a stateless plugin type needs
// at least one field.
func CheckIdentity(p Plugin) error {
	if p == nil {
		return util.ErrNilPlugin
	}
	v := reflect.ValueOf(p)
	if v.Kind() != reflect.Pointer {
		return fmt.Errorf("%w: plugin %T is not a pointer", util.ErrInvalidInput, p)
	}
	if v.IsNil() {
		return fmt.Errorf("%w: plugin %T is a nil pointer", util.ErrInvalidInput, p)
	}
	if v.Type().Elem().Size() == 0 {
		return fmt.Errorf("%w: plugin %T points to a zero-size type", util.ErrInvalidInput, p)
	}
	return nil
}

// Same reports whether a and b are the same plugin reference. Non-nil values
// that fail CheckIdentity never match.
func Same(a, b Plugin) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if CheckIdentity(a) != nil || CheckIdentity(b) != nil {
		return false
	}
	return reflect.TypeOf(a) == reflect.TypeOf(b) &&
		reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}
