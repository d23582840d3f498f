package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"
)

// DependencyType represents the type of dependency.
type DependencyType string

const (
	// DependencyTypeCache is a state store such as Redis.
	DependencyTypeCache DependencyType = "cache"
	// DependencyTypeTCP is a remote API reached over TCP.
	DependencyTypeTCP DependencyType = "tcp"
	// DependencyTypeCustom is a custom dependency.
	DependencyTypeCustom DependencyType = "custom"
)

// DependencyCheck is a named dependency probe.
type DependencyCheck struct {
	name     string
	depType  DependencyType
	checkFn  func(ctx context.Context) error
	critical bool
}

// DependencyCheckOption is a function that configures a DependencyCheck.
type DependencyCheckOption func(*DependencyCheck)

// WithCritical marks whether a failure makes the process unready.
func WithCritical(critical bool) DependencyCheckOption {
	return func(d *DependencyCheck) {
		d.critical = critical
	}
}

// NewDependencyCheck creates a dependency check. Checks are critical unless
// WithCritical(false) is given.
func NewDependencyCheck(
	name string,
	depType DependencyType,
	checkFn func(ctx context.Context) error,
	opts ...DependencyCheckOption,
) *DependencyCheck {
	d := &DependencyCheck{
		name:     name,
		depType:  depType,
		checkFn:  checkFn,
		critical: true,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name returns the name of the dependency check.
func (d *DependencyCheck) Name() string { return d.name }

// Type returns the dependency type.
func (d *DependencyCheck) Type() DependencyType { return d.depType }

// IsCritical returns true if the dependency is critical.
func (d *DependencyCheck) IsCritical() bool { return d.critical }

// Check runs the probe.
func (d *DependencyCheck) Check(ctx context.Context) error {
	return d.checkFn(ctx)
}

// Pinger is implemented by stores that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RedisHealthCheck checks the Redis mock state store.
func RedisHealthCheck(name string, store Pinger, opts ...DependencyCheckOption) *DependencyCheck {
	return NewDependencyCheck(name, DependencyTypeCache, func(ctx context.Context) error {
		if store == nil {
			return errors.New("redis store is nil")
		}
		if err := store.Ping(ctx); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
		return nil
	}, opts...)
}

// EndpointHealthCheck dials the host of a service base URL. It only proves
// the host accepts connections; no request goes through the plugin chain.
func EndpointHealthCheck(name, baseURL string, timeout time.Duration, opts ...DependencyCheckOption) *DependencyCheck {
	return NewDependencyCheck(name, DependencyTypeTCP, func(ctx context.Context) error {
		address, err := hostPort(baseURL)
		if err != nil {
			return err
		}
		dialer := &net.Dialer{Timeout: timeout}
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		return conn.Close()
	}, opts...)
}

func hostPort(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("base URL %q has no host", baseURL)
	}
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https", "wss":
			port = "443"
		default:
			port = "80"
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

// CustomHealthCheck creates a custom health check.
func CustomHealthCheck(
	name string,
	checkFn func(ctx context.Context) error,
	opts ...DependencyCheckOption,
) *DependencyCheck {
	return NewDependencyCheck(name, DependencyTypeCustom, checkFn, opts...)
}

// Cached wraps a check so it runs at most once per ttl.
func Cached(check *DependencyCheck, ttl time.Duration) *DependencyCheck {
	var (
		mu         sync.Mutex
		lastCheck  time.Time
		lastResult error
	)
	return &DependencyCheck{
		name:     check.name,
		depType:  check.depType,
		critical: check.critical,
		checkFn: func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			if !lastCheck.IsZero() && time.Since(lastCheck) < ttl {
				return lastResult
			}
			lastResult = check.Check(ctx)
			lastCheck = time.Now()
			return lastResult
		},
	}
}
