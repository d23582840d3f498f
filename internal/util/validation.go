package util

import (
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"
)

// headerNameRegex validates HTTP header names according to RFC 7230.
var headerNameRegex = regexp.MustCompile(`^[!#$%&'*+\-.^_` + "`" + `|~0-9A-Za-z]+$`)

// ValidateURL validates an absolute URL whose scheme is one of schemes.
// With no schemes given, http and https are accepted.
func ValidateURL(rawURL string, schemes ...string) error {
	if rawURL == "" {
		return fmt.Errorf("URL cannot be empty")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if len(schemes) == 0 {
		schemes = []string{"http", "https"}
	}

	if parsed.Scheme == "" {
		return fmt.Errorf("URL must have a scheme (%s)", strings.Join(schemes, " or "))
	}

	if !slices.Contains(schemes, parsed.Scheme) {
		return fmt.Errorf("URL scheme must be %s, got: %s", strings.Join(schemes, " or "), parsed.Scheme)
	}

	if parsed.Host == "" {
		return fmt.Errorf("URL must have a host")
	}

	return nil
}

// ValidateHeaderName validates an HTTP header name.
func ValidateHeaderName(name string) error {
	if name == "" {
		return fmt.Errorf("header name cannot be empty")
	}

	if !headerNameRegex.MatchString(name) {
		return fmt.Errorf("invalid header name: %s", name)
	}

	return nil
}

// ValidateDuration validates a duration is not negative.
func ValidateDuration(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("duration cannot be negative: %v", d)
	}
	return nil
}

// ValidatePositiveDuration validates a duration is strictly positive.
func ValidatePositiveDuration(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("duration must be positive: %v", d)
	}
	return nil
}

// ValidateRegex validates a regex pattern.
func ValidateRegex(pattern string) error {
	if pattern == "" {
		return nil
	}

	_, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid regex pattern: %w", err)
	}

	return nil
}

// ValidateHTTPMethod validates an HTTP method. "*" is accepted as a wildcard.
func ValidateHTTPMethod(method string) error {
	validMethods := map[string]bool{
		"GET":     true,
		"POST":    true,
		"PUT":     true,
		"DELETE":  true,
		"PATCH":   true,
		"HEAD":    true,
		"OPTIONS": true,
		"*":       true,
	}

	method = strings.ToUpper(method)
	if !validMethods[method] {
		return fmt.Errorf("invalid HTTP method: %s", method)
	}

	return nil
}

// ValidateHTTPStatusCode validates an HTTP status code.
func ValidateHTTPStatusCode(code int) error {
	if code < 100 || code > 599 {
		return fmt.Errorf("HTTP status code must be between 100 and 599, got: %d", code)
	}
	return nil
}

// ValidateNonEmpty validates that a string is not empty.
func ValidateNonEmpty(value, name string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	return nil
}
