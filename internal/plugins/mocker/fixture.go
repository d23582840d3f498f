package mocker

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
)

// Fixture is a canned answer for requests that match it.
type Fixture struct {
	Name string `yaml:"name" json:"name"`
	// Method matches the request method. Empty or "*" matches any method.
	Method string `yaml:"method,omitempty" json:"method,omitempty"`
	// Path matches the URL path. A trailing "*" matches any suffix and
	// segments written as ":name" or "{name}" match any single segment.
	// Empty matches every path.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	// When is an optional CEL expression over the request map with the
	// keys method, url, path, headers (lowercase names) and body.
	When string `yaml:"when,omitempty" json:"when,omitempty"`

	Status  int               `yaml:"status,omitempty" json:"status,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Body    any               `yaml:"body,omitempty" json:"body,omitempty"`
	Delay   time.Duration     `yaml:"delay,omitempty" json:"delay,omitempty"`

	// Events scripts a stream. Fixtures with events answer connections
	// instead of requests.
	Events []Event `yaml:"events,omitempty" json:"events,omitempty"`
}

// Event is one scripted stream message.
type Event struct {
	Event string        `yaml:"event,omitempty" json:"event,omitempty"`
	ID    string        `yaml:"id,omitempty" json:"id,omitempty"`
	Data  string        `yaml:"data" json:"data"`
	Delay time.Duration `yaml:"delay,omitempty" json:"delay,omitempty"`
}

// compiled is a fixture ready for matching.
type compiled struct {
	Fixture
	segments []string
	prefix   bool
	program  cel.Program
}

func (c *compiled) status() int {
	if c.Status == 0 {
		return http.StatusOK
	}
	return c.Status
}

func (c *compiled) matchMethod(method string) bool {
	return c.Method == "" || c.Method == "*" || strings.EqualFold(c.Method, method)
}

func (c *compiled) matchPath(path string) bool {
	if c.Path == "" {
		return true
	}

	parts := splitPath(path)
	if c.prefix {
		if len(parts) < len(c.segments) {
			return false
		}
	} else if len(parts) != len(c.segments) {
		return false
	}

	for i, seg := range c.segments {
		if isParam(seg) {
			continue
		}
		if seg != parts[i] {
			return false
		}
	}
	return true
}

func compilePath(pattern string) (segments []string, prefix bool) {
	if strings.HasSuffix(pattern, "*") {
		prefix = true
		pattern = strings.TrimSuffix(pattern, "*")
	}
	return splitPath(pattern), prefix
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func isParam(seg string) bool {
	return strings.HasPrefix(seg, ":") ||
		(strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}"))
}
