// Package config assembles the server's configuration: backend
// descriptors, topic routing hints, and role template overrides. It
// supports three-layer precedence:
//  1. Compiled defaults (lowest priority)
//  2. Environment variables
//  3. Functional options (highest priority)
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/arcway/mcpmux/internal/backend"
	"github.com/arcway/mcpmux/internal/workflow"
)

// Config is the fully resolved, ready-to-wire server configuration.
type Config struct {
	Backends        []backend.Descriptor
	Topics          map[workflow.Topic][]string
	Roles           map[string]workflow.RoleTemplate
	CoderBackend    string
	ReviewerBackend string
	RedisURL        string
	DataDir         string
}

// Option is a functional option applied after env vars, highest priority.
type Option func(*Config) error

// DefaultConfig returns the compiled-in defaults: no backends (a server
// with zero configured backends fails fast at startup instead of
// silently routing nowhere), the ten built-in role templates, and a
// local ./data persistence root.
func DefaultConfig() *Config {
	return &Config{
		Backends: nil,
		Topics:   nil,
		Roles:    workflow.DefaultRoles(),
		DataDir:  "./data",
	}
}

// LoadFromEnv applies MCPMUX_BACKENDS_FILE, MCPMUX_TOPICS_FILE,
// MCPMUX_ROLES_FILE, MCPMUX_CODER_BACKEND, MCPMUX_REVIEWER_BACKEND,
// REDIS_URL, and MCPMUX_DATA_DIR on top of the current configuration.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("MCPMUX_BACKENDS_FILE"); v != "" {
		backends, err := loadBackendsFile(v)
		if err != nil {
			return fmt.Errorf("MCPMUX_BACKENDS_FILE: %w", err)
		}
		c.Backends = backends
	}
	if v := os.Getenv("MCPMUX_TOPICS_FILE"); v != "" {
		topics, err := loadTopicsFile(v)
		if err != nil {
			return fmt.Errorf("MCPMUX_TOPICS_FILE: %w", err)
		}
		c.Topics = topics
	}
	if v := os.Getenv("MCPMUX_ROLES_FILE"); v != "" {
		roles, err := loadRolesFile(v, c.Roles)
		if err != nil {
			return fmt.Errorf("MCPMUX_ROLES_FILE: %w", err)
		}
		c.Roles = roles
	}
	if v := os.Getenv("MCPMUX_CODER_BACKEND"); v != "" {
		c.CoderBackend = v
	}
	if v := os.Getenv("MCPMUX_REVIEWER_BACKEND"); v != "" {
		c.ReviewerBackend = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("MCPMUX_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	return nil
}

// New builds a Config from compiled defaults, then env vars, then the
// given options, in that precedence order, and validates the result.
func New(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("config option failed: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects a configuration that would start the server with no
// way to ever answer a request.
func (c *Config) Validate() error {
	if len(c.Backends) == 0 {
		return fmt.Errorf("config: at least one backend must be configured")
	}
	seen := make(map[string]bool, len(c.Backends))
	for _, d := range c.Backends {
		if err := d.Validate(); err != nil {
			return err
		}
		if seen[d.Name] {
			return fmt.Errorf("config: duplicate backend name %q", d.Name)
		}
		seen[d.Name] = true
	}
	return nil
}

// WithBackendsFile loads backend descriptors from a JSON file, overriding
// whatever backends were set by defaults or the environment.
func WithBackendsFile(path string) Option {
	return func(c *Config) error {
		backends, err := loadBackendsFile(path)
		if err != nil {
			return err
		}
		c.Backends = backends
		return nil
	}
}

// WithBackends sets the backend descriptors directly, bypassing file
// loading entirely. Useful for tests and programmatic embedding.
func WithBackends(descriptors []backend.Descriptor) Option {
	return func(c *Config) error {
		c.Backends = descriptors
		return nil
	}
}

// WithTopicsFile loads topic-to-backend-candidates mappings from a YAML
// file for the council workflow.
func WithTopicsFile(path string) Option {
	return func(c *Config) error {
		topics, err := loadTopicsFile(path)
		if err != nil {
			return err
		}
		c.Topics = topics
		return nil
	}
}

// WithRolesFile loads role template overrides from a YAML file, merged
// onto the compiled-in defaults field by field.
func WithRolesFile(path string) Option {
	return func(c *Config) error {
		roles, err := loadRolesFile(path, c.Roles)
		if err != nil {
			return err
		}
		c.Roles = roles
		return nil
	}
}

// WithCoderReviewer sets the two fixed backend names dual_iterate binds
// its generate and review roles to.
func WithCoderReviewer(coder, reviewer string) Option {
	return func(c *Config) error {
		c.CoderBackend = coder
		c.ReviewerBackend = reviewer
		return nil
	}
}

// WithRedisURL sets the Redis connection string used for the distributed
// health-probe cache. Empty means in-process map only.
func WithRedisURL(url string) Option {
	return func(c *Config) error {
		c.RedisURL = url
		return nil
	}
}

// WithDataDir sets the root directory for learning/pattern persistence.
func WithDataDir(dir string) Option {
	return func(c *Config) error {
		c.DataDir = dir
		return nil
	}
}

func loadBackendsFile(path string) ([]backend.Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read backends file: %w", err)
	}
	var descriptors []backend.Descriptor
	if err := json.Unmarshal(data, &descriptors); err != nil {
		return nil, fmt.Errorf("parse backends file: %w", err)
	}
	return descriptors, nil
}

func loadTopicsFile(path string) (map[workflow.Topic][]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topics file: %w", err)
	}
	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse topics file: %w", err)
	}
	topics := make(map[workflow.Topic][]string, len(raw))
	for k, v := range raw {
		topics[workflow.Topic(k)] = v
	}
	return topics, nil
}

// roleOverride is the roles.yaml shape: every field optional, merged onto
// the compiled-in role of the same name. A name with no compiled-in
// counterpart defines a brand new role.
type roleOverride struct {
	SystemPrompt        *string   `yaml:"system_prompt"`
	RecommendedBackends []string  `yaml:"recommended_backends"`
	MaxTokens           *int      `yaml:"max_tokens"`
	Temperature         *float64  `yaml:"temperature"`
	ParseVerdict        *bool     `yaml:"parse_verdict"`
}

func loadRolesFile(path string, base map[string]workflow.RoleTemplate) (map[string]workflow.RoleTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roles file: %w", err)
	}
	var raw map[string]roleOverride
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse roles file: %w", err)
	}

	merged := make(map[string]workflow.RoleTemplate, len(base))
	for name, role := range base {
		merged[name] = role
	}
	for name, ov := range raw {
		role := merged[name]
		role.Name = name
		if ov.SystemPrompt != nil {
			role.SystemPrompt = *ov.SystemPrompt
		}
		if ov.RecommendedBackends != nil {
			role.RecommendedBackends = ov.RecommendedBackends
		}
		if ov.MaxTokens != nil {
			role.MaxTokens = *ov.MaxTokens
		}
		if ov.Temperature != nil {
			role.Temperature = *ov.Temperature
		}
		if ov.ParseVerdict != nil {
			role.ParseVerdict = *ov.ParseVerdict
		}
		merged[name] = role
	}
	return merged, nil
}
