package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/avapiclient/internal/observability"
)

// Status represents the health status.
type Status string

const (
	// StatusHealthy indicates every check passed.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates a critical check failed.
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded indicates a non-critical check failed.
	StatusDegraded Status = "degraded"
)

// DefaultCheckTimeout bounds a readiness run.
const DefaultCheckTimeout = 5 * time.Second

// HealthResponse is the liveness response.
type HealthResponse struct {
	Status    Status    `json:"status"`
	Version   string    `json:"version,omitempty"`
	Uptime    string    `json:"uptime,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadinessResponse is the readiness response.
type ReadinessResponse struct {
	Status    Status           `json:"status"`
	Checks    map[string]Check `json:"checks,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Check is the result of one dependency check.
type Check struct {
	Status   Status `json:"status"`
	Type     string `json:"type"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration"`
	Critical bool   `json:"critical"`
}

// Checker runs the registered dependency checks.
type Checker struct {
	version   string
	startTime time.Time
	timeout   time.Duration
	logger    observability.Logger
	metrics   *Metrics

	mu     sync.RWMutex
	checks map[string]*DependencyCheck
}

// Option configures a Checker.
type Option func(*Checker)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(c *Checker) {
		c.logger = logger
	}
}

// WithMetrics records check outcomes.
func WithMetrics(m *Metrics) Option {
	return func(c *Checker) {
		c.metrics = m
	}
}

// WithTimeout bounds a readiness run.
func WithTimeout(d time.Duration) Option {
	return func(c *Checker) {
		c.timeout = d
	}
}

// NewChecker creates a health checker.
func NewChecker(version string, opts ...Option) *Checker {
	c := &Checker{
		version:   version,
		startTime: time.Now(),
		timeout:   DefaultCheckTimeout,
		logger:    observability.NopLogger(),
		checks:    make(map[string]*DependencyCheck),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a dependency check, replacing one with the same name.
func (c *Checker) Register(check *DependencyCheck) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[check.Name()] = check
}

// Unregister removes a dependency check.
func (c *Checker) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
}

// Names returns the registered check names in sorted order.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Health returns the liveness status. It never runs checks.
func (c *Checker) Health() HealthResponse {
	return HealthResponse{
		Status:    StatusHealthy,
		Version:   c.version,
		Uptime:    time.Since(c.startTime).Round(time.Second).String(),
		Timestamp: time.Now(),
	}
}

// Readiness runs every check concurrently. A failed critical check makes the
// result unhealthy and a failed non-critical check makes it degraded.
func (c *Checker) Readiness(ctx context.Context) ReadinessResponse {
	c.mu.RLock()
	checks := make([]*DependencyCheck, 0, len(c.checks))
	for _, check := range c.checks {
		checks = append(checks, check)
	}
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	results := make([]Check, len(checks))
	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func(i int, check *DependencyCheck) {
			defer wg.Done()
			results[i] = c.run(ctx, check)
		}(i, check)
	}
	wg.Wait()

	response := ReadinessResponse{
		Status:    StatusHealthy,
		Checks:    make(map[string]Check, len(checks)),
		Timestamp: time.Now(),
	}
	for i, check := range checks {
		result := results[i]
		response.Checks[check.Name()] = result
		switch {
		case result.Status == StatusUnhealthy:
			response.Status = StatusUnhealthy
		case result.Status == StatusDegraded && response.Status == StatusHealthy:
			response.Status = StatusDegraded
		}
	}
	return response
}

func (c *Checker) run(ctx context.Context, check *DependencyCheck) Check {
	start := time.Now()
	err := check.Check(ctx)
	elapsed := time.Since(start)

	result := Check{
		Status:   StatusHealthy,
		Type:     string(check.Type()),
		Duration: elapsed.String(),
		Critical: check.IsCritical(),
	}
	if err != nil {
		result.Message = err.Error()
		result.Status = StatusDegraded
		if check.IsCritical() {
			result.Status = StatusUnhealthy
		}
		c.logger.Warn("health check failed",
			observability.String("check", check.Name()),
			observability.Bool("critical", check.IsCritical()),
			observability.Error(err),
		)
	}
	if c.metrics != nil {
		c.metrics.record(check.Name(), err == nil, elapsed)
	}
	return result
}

// LivenessHandler serves the liveness probe.
func (c *Checker) LivenessHandler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, c.Health())
	}
}

// ReadinessHandler serves the readiness probe. Degraded is still ready.
func (c *Checker) ReadinessHandler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		response := c.Readiness(ctx.Request.Context())
		statusCode := http.StatusOK
		if response.Status == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		ctx.JSON(statusCode, response)
	}
}

// RegisterRoutes mounts /healthz and /readyz.
func (c *Checker) RegisterRoutes(r gin.IRouter) {
	r.GET("/healthz", c.LivenessHandler())
	r.GET("/readyz", c.ReadinessHandler())
}
