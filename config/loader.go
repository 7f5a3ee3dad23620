package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the environment variable prefix
const DefaultEnvPrefix = "REDISNODE_"

// Loader merges configuration sources into a Config
type Loader struct {
	envPrefix string
	filePath  string
	flags     map[string]any
}

// Option configures a Loader
type Option func(*Loader)

// WithEnvPrefix sets the environment variable prefix
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// WithConfigFile sets the YAML file to load. An empty path skips the file.
func WithConfigFile(path string) Option {
	return func(l *Loader) {
		l.filePath = path
	}
}

// WithFlags sets values that override every other source, keyed by dotted
// path. Typically only flags the user actually set are passed.
func WithFlags(flags map[string]any) Option {
	return func(l *Loader) {
		l.flags = flags
	}
}

// NewLoader creates a loader
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		envPrefix: DefaultEnvPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// FilePath returns the configured file, if any
func (l *Loader) FilePath() string {
	return l.filePath
}

// Load reads every source into a fresh koanf instance and returns the
// validated result. Later sources override earlier ones:
//  1. Default()
//  2. the YAML file
//  3. environment variables
//  4. flags
func (l *Loader) Load() (*Config, error) {
	k := koanf.New(".")

	if l.filePath != "" {
		if err := k.Load(file.Provider(l.filePath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load file %s: %w", l.filePath, err)
		}
	}

	// REDISNODE_LOG_LEVEL -> log.level
	envTransformer := func(s string) string {
		s = strings.TrimPrefix(s, l.envPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "_", ".")
	}
	if err := k.Load(env.Provider(l.envPrefix, ".", envTransformer), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	if len(l.flags) > 0 {
		if err := k.Load(mapProvider(l.flags), nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
