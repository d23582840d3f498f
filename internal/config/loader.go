package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vyrodovalexey/avapiclient/internal/plugins/mocker"
)

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// Loader reads, substitutes and defaults configuration files.
type Loader struct {
	basePath string
	lookup   func(string) (string, bool)
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{lookup: os.LookupEnv}
}

// LoadConfig loads and validates configuration from a file path.
func LoadConfig(path string) (*Config, error) {
	return NewLoader().Load(path)
}

// LoadConfigFromReader loads and validates configuration from an io.Reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	return NewLoader().LoadFromReader(r)
}

// Load loads configuration from a file path. Fixture files named in the
// configuration are resolved relative to its directory.
func (l *Loader) Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", path, err)
	}

	l.basePath = filepath.Dir(absPath)

	data, err := os.ReadFile(absPath) //nolint:gosec // path is validated via filepath.Abs
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return l.parseConfig(data)
}

// LoadFromReader loads configuration from an io.Reader.
func (l *Loader) LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return l.parseConfig(data)
}

func (l *Loader) parseConfig(data []byte) (*Config, error) {
	content := l.substituteEnvVars(string(data))

	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := l.loadFixtureFiles(&cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadFixtureFiles appends the fixtures of every mocker that names a file.
func (l *Loader) loadFixtureFiles(cfg *Config) error {
	for _, pc := range cfg.allPlugins() {
		if pc.Mocker == nil || pc.Mocker.FixturesFile == "" {
			continue
		}
		path := pc.Mocker.FixturesFile
		if !filepath.IsAbs(path) && l.basePath != "" {
			path = filepath.Join(l.basePath, path)
		}
		data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
		if err != nil {
			return fmt.Errorf("failed to read fixtures file %s: %w", pc.Mocker.FixturesFile, err)
		}
		var fixtures []mocker.Fixture
		dec := yaml.NewDecoder(bytes.NewReader([]byte(l.substituteEnvVars(string(data)))))
		if err := dec.Decode(&fixtures); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to parse fixtures file %s: %w", pc.Mocker.FixturesFile, err)
		}
		pc.Mocker.Fixtures = append(pc.Mocker.Fixtures, fixtures...)
	}
	return nil
}

// substituteEnvVars replaces ${VAR} and ${VAR:-default} patterns with
// environment variable values. "$$" escapes a literal dollar sign.
func (l *Loader) substituteEnvVars(content string) string {
	content = strings.ReplaceAll(content, "$$", "\x00ESCAPED_DOLLAR\x00")

	result := envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		if value, exists := l.lookup(submatches[1]); exists {
			return value
		}
		if len(submatches) >= 3 {
			return submatches[2]
		}
		return ""
	})

	return strings.ReplaceAll(result, "\x00ESCAPED_DOLLAR\x00", "$")
}

// allPlugins returns pointers to every plugin block in the configuration.
func (c *Config) allPlugins() []*PluginConfig {
	var out []*PluginConfig
	for i := range c.Plugins {
		out = append(out, &c.Plugins[i].PluginConfig)
	}
	for i := range c.Services {
		svc := &c.Services[i]
		for j := range svc.Plugins {
			out = append(out, &svc.Plugins[j])
		}
		for _, ep := range svc.Endpoints() {
			for j := range ep.Plugins {
				out = append(out, &ep.Plugins[j])
			}
		}
	}
	return out
}

// ResolveConfigPath resolves a configuration file path, checking common locations.
func ResolveConfigPath(path string) (string, error) {
	if filepath.IsAbs(path) {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		return "", fmt.Errorf("config file not found: %s", path)
	}

	if _, err := os.Stat(path); err == nil {
		return filepath.Abs(path)
	}

	etcPath := filepath.Join(string(filepath.Separator), "etc", "avapiclient")
	commonPaths := []string{
		filepath.Join("configs", path),
		filepath.Join(etcPath, path),
	}
	if home, err := os.UserHomeDir(); err == nil {
		commonPaths = append(commonPaths, filepath.Join(home, ".avapiclient", path))
	}

	for _, p := range commonPaths {
		if _, err := os.Stat(p); err == nil {
			return filepath.Abs(p)
		}
	}

	return "", fmt.Errorf("config file not found: %s", path)
}
