// Package ratelimit provides a plugin that throttles outgoing calls on the
// client side with token buckets.
package ratelimit

import (
	"context"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/avapiclient/internal/observability"
	"github.com/vyrodovalexey/avapiclient/internal/plugin"
	"github.com/vyrodovalexey/avapiclient/internal/util"
)

// Config configures the limiter.
type Config struct {
	// RPS is the sustained rate in requests per second.
	RPS float64
	// Burst is the bucket size. Defaults to 1.
	Burst int
	// Wait blocks the call until a token is available or the context ends.
	// Without it, calls over the limit fail immediately.
	Wait bool
	// PerHost keeps one bucket per target host.
	PerHost bool
}

// Plugin limits the request rate of the protocols it is attached to.
type Plugin struct {
	config Config
	logger observability.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a rate limit plugin.
func New(cfg Config, logger observability.Logger) (*Plugin, error) {
	if cfg.RPS <= 0 {
		return nil, util.NewConfigurationError("ratelimit", "rps must be positive")
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Plugin{
		config:   cfg,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}, nil
}

// Descriptor implements plugin.Plugin.
func (p *Plugin) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{Name: "ratelimit"}
}

// OnRequest takes a token or fails the call with a RateLimitError.
func (p *Plugin) OnRequest(ctx context.Context, req plugin.RequestContext) (plugin.RequestResult, error) {
	if err := p.take(ctx, req.URL); err != nil {
		return plugin.RequestResult{}, err
	}
	return plugin.Continue(req), nil
}

// OnConnect applies the same limit to stream connections.
func (p *Plugin) OnConnect(ctx context.Context, c plugin.ConnectContext) (plugin.ConnectResult, error) {
	if err := p.take(ctx, c.URL); err != nil {
		return plugin.ConnectResult{}, err
	}
	return plugin.ContinueConnect(c), nil
}

// Destroy drops every bucket.
func (p *Plugin) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.limiters = make(map[string]*rate.Limiter)
}

func (p *Plugin) take(ctx context.Context, rawURL string) error {
	limiter := p.limiterFor(rawURL)

	if p.config.Wait {
		if err := limiter.Wait(ctx); err != nil {
			return util.NewRateLimitError(p.config.RPS, 0)
		}
		return nil
	}

	r := limiter.Reserve()
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		p.logger.WithContext(ctx).Warn("rate limit exceeded",
			observability.String("url", rawURL),
			observability.Duration("retry_after", delay),
		)
		return util.NewRateLimitError(p.config.RPS, delay.Round(time.Millisecond))
	}
	return nil
}

func (p *Plugin) limiterFor(rawURL string) *rate.Limiter {
	key := ""
	if p.config.PerHost {
		if u, err := url.Parse(rawURL); err == nil {
			key = u.Host
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	limiter, ok := p.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(p.config.RPS), p.config.Burst)
		p.limiters[key] = limiter
	}
	return limiter
}
