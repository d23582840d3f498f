// Package plugintest provides recording plugins for tests of the plugin
// pipeline.
package plugintest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/vyrodovalexey/avapiclient/internal/plugin"
)

// Journal records hook invocations across plugins in call order.
type Journal struct {
	mu      sync.Mutex
	entries []string
}

// Record appends an entry.
func (j *Journal) Record(entry string) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

// Entries returns a copy of the recorded entries.
func (j *Journal) Entries() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.entries))
	copy(out, j.entries)
	return out
}

// Reset forgets every entry.
func (j *Journal) Reset() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = nil
}

// Recorder implements every hook, journals "<name>:<phase>" for each
// invocation and delegates to the optional funcs. Without a func, the
// request and response hooks pass through and the error hook keeps the
// current error.
type Recorder struct {
	Name    string
	Mock    bool
	Journal *Journal

	Request    func(ctx context.Context, req plugin.RequestContext) (plugin.RequestResult, error)
	Response   func(ctx context.Context, resp plugin.ResponseContext) (plugin.ResponseContext, error)
	Error      func(ctx context.Context, err error, req plugin.RequestContext) (*plugin.ResponseContext, error)
	Connect    func(ctx context.Context, c plugin.ConnectContext) (plugin.ConnectResult, error)
	Disconnect func(ctx context.Context, connectionID string) error

	destroyed atomic.Int32
}

// NewRecorder creates a pass-through recorder.
func NewRecorder(name string, journal *Journal) *Recorder {
	return &Recorder{Name: name, Journal: journal}
}

// Descriptor implements plugin.Plugin.
func (r *Recorder) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{Name: r.Name, Mock: r.Mock}
}

// OnRequest implements plugin.RequestHook.
func (r *Recorder) OnRequest(ctx context.Context, req plugin.RequestContext) (plugin.RequestResult, error) {
	r.Journal.Record(r.Name + ":request")
	if r.Request != nil {
		return r.Request(ctx, req)
	}
	return plugin.Continue(req), nil
}

// OnResponse implements plugin.ResponseHook.
func (r *Recorder) OnResponse(ctx context.Context, resp plugin.ResponseContext) (plugin.ResponseContext, error) {
	r.Journal.Record(r.Name + ":response")
	if r.Response != nil {
		return r.Response(ctx, resp)
	}
	return resp, nil
}

// OnError implements plugin.ErrorHook.
func (r *Recorder) OnError(
	ctx context.Context,
	err error,
	req plugin.RequestContext,
) (*plugin.ResponseContext, error) {
	r.Journal.Record(r.Name + ":error")
	if r.Error != nil {
		return r.Error(ctx, err, req)
	}
	return nil, nil
}

// OnConnect implements plugin.ConnectHook.
func (r *Recorder) OnConnect(ctx context.Context, c plugin.ConnectContext) (plugin.ConnectResult, error) {
	r.Journal.Record(r.Name + ":connect")
	if r.Connect != nil {
		return r.Connect(ctx, c)
	}
	return plugin.ContinueConnect(c), nil
}

// OnDisconnect implements plugin.DisconnectHook.
func (r *Recorder) OnDisconnect(ctx context.Context, connectionID string) error {
	r.Journal.Record(r.Name + ":disconnect")
	if r.Disconnect != nil {
		return r.Disconnect(ctx, connectionID)
	}
	return nil
}

// Destroy implements plugin.Destroyer.
func (r *Recorder) Destroy() {
	r.destroyed.Add(1)
}

// Destroyed returns how many times Destroy was called.
func (r *Recorder) Destroyed() int {
	return int(r.destroyed.Load())
}

// Other is a recorder of a distinct class, for exclusion and removal tests.
type Other struct {
	Recorder
}

// NewOther creates a pass-through recorder of class *Other.
func NewOther(name string, journal *Journal) *Other {
	return &Other{Recorder: Recorder{Name: name, Journal: journal}}
}

// Passive is a plugin with no hooks besides Destroy.
type Passive struct {
	Name string

	destroyed atomic.Int32
}

// Descriptor implements plugin.Plugin.
func (p *Passive) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{Name: p.Name}
}

// Destroy implements plugin.Destroyer.
func (p *Passive) Destroy() {
	p.destroyed.Add(1)
}

// Destroyed returns how many times Destroy was called.
func (p *Passive) Destroyed() int {
	return int(p.destroyed.Load())
}
