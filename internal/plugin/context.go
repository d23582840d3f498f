package plugin

import (
	"maps"
	"net/http"
	"strings"
)

// HeaderShortCircuit tags responses produced without reaching the transport.
const HeaderShortCircuit = "x-hai3-short-circuit"

// RequestContext is an immutable snapshot of an outgoing request. Hooks
// receive a copy and return a new value.
type RequestContext struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    any
}

// Clone returns a copy with an independent header map.
func (r RequestContext) Clone() RequestContext {
	r.Headers = cloneHeaders(r.Headers)
	return r
}

// WithHeader returns a copy with the header set.
func (r RequestContext) WithHeader(key, value string) RequestContext {
	r = r.Clone()
	r.Headers[key] = value
	return r
}

// Header returns a header value using case-insensitive lookup.
func (r RequestContext) Header(key string) string {
	return lookupHeader(r.Headers, key)
}

// Path returns the path portion of the URL without query or fragment.
func (r RequestContext) Path() string {
	u := r.URL
	if i := strings.Index(u, "://"); i >= 0 {
		u = u[i+3:]
		if j := strings.IndexByte(u, '/'); j >= 0 {
			u = u[j:]
		} else {
			u = "/"
		}
	}
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return u
}

// ResponseContext is an immutable snapshot of a response.
type ResponseContext struct {
	Status  int
	Headers map[string]string
	Data    any
}

// Clone returns a copy with an independent header map.
func (r ResponseContext) Clone() ResponseContext {
	r.Headers = cloneHeaders(r.Headers)
	return r
}

// WithHeader returns a copy with the header set.
func (r ResponseContext) WithHeader(key, value string) ResponseContext {
	r = r.Clone()
	r.Headers[key] = value
	return r
}

// Header returns a header value using case-insensitive lookup.
func (r ResponseContext) Header(key string) string {
	return lookupHeader(r.Headers, key)
}

// ShortCircuited reports whether the response was supplied by a plugin.
func (r ResponseContext) ShortCircuited() bool {
	return r.Header(HeaderShortCircuit) == "true"
}

// RequestResult is the outcome of a request hook: either the request to
// continue with or a final response.
type RequestResult struct {
	request  RequestContext
	response *ResponseContext
}

// Continue passes req on to the next hook or the transport.
func Continue(req RequestContext) RequestResult {
	return RequestResult{request: req}
}

// ShortCircuit ends the request phase with resp. The transport is skipped.
func ShortCircuit(resp ResponseContext) RequestResult {
	return RequestResult{response: &resp}
}

// IsShortCircuit reports whether the result ends the request phase.
func (r RequestResult) IsShortCircuit() bool {
	return r.response != nil
}

// Request returns the request to continue with.
func (r RequestResult) Request() RequestContext {
	return r.request
}

// Response returns the short-circuit response. It is the zero value when
// the result is not a short-circuit.
func (r RequestResult) Response() ResponseContext {
	if r.response == nil {
		return ResponseContext{}
	}
	return *r.response
}

// ConnectContext describes a stream connection about to be established.
type ConnectContext struct {
	ConnectionID string
	URL          string
	Headers      map[string]string
}

// Clone returns a copy with an independent header map.
func (c ConnectContext) Clone() ConnectContext {
	c.Headers = cloneHeaders(c.Headers)
	return c
}

// WithHeader returns a copy with the header set.
func (c ConnectContext) WithHeader(key, value string) ConnectContext {
	c = c.Clone()
	c.Headers[key] = value
	return c
}

// ConnectResult is the outcome of a connect hook.
type ConnectResult struct {
	connect ConnectContext
	conn    Connection
}

// ContinueConnect passes c on to the next hook or the dialer.
func ContinueConnect(c ConnectContext) ConnectResult {
	return ConnectResult{connect: c}
}

// ShortCircuitConnect ends the connect phase with an already established
// connection.
func ShortCircuitConnect(conn Connection) ConnectResult {
	return ConnectResult{conn: conn}
}

// IsShortCircuit reports whether the result supplies a connection.
func (r ConnectResult) IsShortCircuit() bool {
	return r.conn != nil
}

// Context returns the connect context to continue with.
func (r ConnectResult) Context() ConnectContext {
	return r.connect
}

// Connection returns the short-circuit connection.
func (r ConnectResult) Connection() Connection {
	return r.conn
}

func cloneHeaders(h map[string]string) map[string]string {
	if h == nil {
		return make(map[string]string)
	}
	return maps.Clone(h)
}

func lookupHeader(h map[string]string, key string) string {
	if v, ok := h[key]; ok {
		return v
	}
	canonical := http.CanonicalHeaderKey(key)
	for k, v := range h {
		if http.CanonicalHeaderKey(k) == canonical {
			return v
		}
	}
	return ""
}
