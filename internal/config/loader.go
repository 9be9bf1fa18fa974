package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"
)

// Loader handles configuration loading and parsing
type Loader struct {
	envPattern *regexp.Regexp
	validate   *validator.Validate
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Load reads and parses a configuration file. A manifest referenced by the
// file is applied on top.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := l.Parse(data)
	if err != nil {
		return nil, err
	}

	if cfg.Manifest.Path != "" {
		if err := LoadManifest(cfg, cfg.Manifest.Path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Parse parses configuration from YAML bytes
func (l *Loader) Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := l.expandEnvVars(string(data))

	// Start with defaults
	cfg := DefaultConfig()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	fillEnvironmentDefaults(cfg)

	if err := l.Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match // Keep original if env var not set
	})
}

// fillEnvironmentDefaults restores built-in environments and any fields a
// partial YAML override left blank.
func fillEnvironmentDefaults(cfg *Config) {
	defaults := DefaultConfig().Environments
	if cfg.Environments == nil {
		cfg.Environments = defaults
		return
	}
	for name, def := range defaults {
		env, ok := cfg.Environments[name]
		if !ok {
			cfg.Environments[name] = def
			continue
		}
		if env.DisplayName == "" {
			env.DisplayName = def.DisplayName
		}
		if env.BaseURL == "" {
			env.BaseURL = def.BaseURL
		}
		if len(env.Hosts) == 0 {
			env.Hosts = def.Hosts
		}
		if env.BackendMode == "" {
			env.BackendMode = def.BackendMode
		}
		cfg.Environments[name] = env
	}
}

// Validate checks struct tags first, then rules that span fields.
func (l *Loader) Validate(cfg *Config) error {
	if err := l.validate.Struct(cfg); err != nil {
		return err
	}

	found := false
	for _, b := range cfg.Brands.List {
		if b.ID == cfg.Brands.Default {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("brands.default %q is not in brands.list", cfg.Brands.Default)
	}

	for pattern := range cfg.Backends.Routes {
		if !strings.HasPrefix(pattern, "/") {
			return fmt.Errorf("backends.routes: pattern %q must start with /", pattern)
		}
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("backends.routes: invalid pattern %q", pattern)
		}
	}

	for _, name := range []string{"legacy", "native"} {
		b := cfg.Backends.Legacy
		if name == "native" {
			b = cfg.Backends.Native
		}
		if b.Timeout < 0 {
			return fmt.Errorf("backends.%s: timeout must be >= 0", name)
		}
		if b.Breaker.Enabled && b.Breaker.Timeout < 0 {
			return fmt.Errorf("backends.%s: circuit_breaker timeout must be >= 0", name)
		}
	}

	for brand, flags := range cfg.Features.Brands {
		if flags == nil {
			return fmt.Errorf("features.brands.%s: must be a map of flags", brand)
		}
	}

	if cfg.RateLimit.Enabled && cfg.RateLimit.Period <= 0 {
		return fmt.Errorf("rate_limit: period must be > 0 when enabled")
	}

	if cfg.Cache.Enabled {
		if cfg.Cache.TTL <= 0 {
			return fmt.Errorf("cache: ttl must be > 0 when enabled")
		}
		if cfg.Cache.Type == "redis" && cfg.Redis.Address == "" {
			return fmt.Errorf("cache: type redis requires redis.address to be configured")
		}
	}

	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing: endpoint is required when enabled")
	}

	return nil
}
