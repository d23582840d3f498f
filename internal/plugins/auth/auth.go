// Package auth provides a plugin that attaches short-lived signed JWT
// bearer tokens to outgoing requests and stream handshakes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/vyrodovalexey/avapiclient/internal/observability"
	"github.com/vyrodovalexey/avapiclient/internal/plugin"
	"github.com/vyrodovalexey/avapiclient/internal/util"
)

const (
	// DefaultTTL is the token lifetime when Config.TTL is zero.
	DefaultTTL = 5 * time.Minute

	// refreshMargin is how long before expiry a cached token is replaced.
	refreshMargin = 30 * time.Second
)

// Config describes the tokens the plugin signs.
type Config struct {
	Secret   []byte
	KeyID    string
	Issuer   string
	Subject  string
	Audience []string
	TTL      time.Duration
}

// Plugin signs HS256 tokens and caches them until shortly before expiry.
type Plugin struct {
	config Config
	logger observability.Logger
	now    func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// Option configures the plugin.
type Option func(*Plugin)

// WithLogger sets the logger for the plugin.
func WithLogger(logger observability.Logger) Option {
	return func(p *Plugin) {
		p.logger = logger
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Plugin) {
		p.now = now
	}
}

// New creates an auth plugin. The secret must not be empty.
func New(cfg Config, opts ...Option) (*Plugin, error) {
	if len(cfg.Secret) == 0 {
		return nil, util.NewConfigurationError("auth", "signing secret is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}

	p := &Plugin{
		config: cfg,
		logger: observability.NopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Descriptor implements plugin.Plugin.
func (p *Plugin) Descriptor() plugin.Descriptor {
	return plugin.Descriptor{Name: "auth"}
}

// OnRequest sets the Authorization header unless the caller set one.
func (p *Plugin) OnRequest(ctx context.Context, req plugin.RequestContext) (plugin.RequestResult, error) {
	if req.Header("Authorization") != "" {
		return plugin.Continue(req), nil
	}
	token, err := p.Token()
	if err != nil {
		return plugin.RequestResult{}, err
	}
	return plugin.Continue(req.WithHeader("Authorization", "Bearer "+token)), nil
}

// OnConnect sets the Authorization header on the handshake.
func (p *Plugin) OnConnect(_ context.Context, c plugin.ConnectContext) (plugin.ConnectResult, error) {
	if _, ok := c.Headers["Authorization"]; ok {
		return plugin.ContinueConnect(c), nil
	}
	token, err := p.Token()
	if err != nil {
		return plugin.ConnectResult{}, err
	}
	return plugin.ContinueConnect(c.WithHeader("Authorization", "Bearer "+token)), nil
}

// OnError drops the cached token when the server rejected it so the next
// call signs a fresh one. The error itself is left in place.
func (p *Plugin) OnError(ctx context.Context, err error, _ plugin.RequestContext) (*plugin.ResponseContext, error) {
	if util.StatusCode(err) == http.StatusUnauthorized {
		p.mu.Lock()
		p.token = ""
		p.mu.Unlock()
		p.logger.WithContext(ctx).Debug("token rejected, cache cleared")
	}
	return nil, nil
}

// Destroy forgets the cached token.
func (p *Plugin) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = ""
	p.expires = time.Time{}
}

// Token returns a valid signed token, signing a new one when needed.
func (p *Plugin) Token() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.token != "" && now.Add(refreshMargin).Before(p.expires) {
		return p.token, nil
	}

	token, expires, err := p.sign(now)
	if err != nil {
		return "", err
	}
	p.token, p.expires = token, expires
	return token, nil
}

func (p *Plugin) sign(now time.Time) (string, time.Time, error) {
	expires := now.Add(p.config.TTL)

	builder := jwt.NewBuilder().
		IssuedAt(now).
		NotBefore(now).
		Expiration(expires).
		JwtID(uuid.NewString())
	if p.config.Issuer != "" {
		builder = builder.Issuer(p.config.Issuer)
	}
	if p.config.Subject != "" {
		builder = builder.Subject(p.config.Subject)
	}
	if len(p.config.Audience) > 0 {
		builder = builder.Audience(p.config.Audience)
	}

	tok, err := builder.Build()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("building token: %w", err)
	}

	key, err := jwk.FromRaw(p.config.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("building key: %w", err)
	}
	if p.config.KeyID != "" {
		if err := key.Set(jwk.KeyIDKey, p.config.KeyID); err != nil {
			return "", time.Time{}, fmt.Errorf("setting key id: %w", err)
		}
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, key))
	if err != nil {
		return "", time.Time{}, errors.Join(errors.New("signing token"), err)
	}
	return string(signed), expires, nil
}
