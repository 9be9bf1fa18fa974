package config

import (
	"time"
)

// Environment names known to the edge. "custom" is synthesized at runtime and
// never configured.
const (
	EnvProduction   = "production"
	EnvStaging      = "staging"
	EnvQA           = "qa"
	EnvLocal        = "local"
	EnvLegacyDirect = "legacy-direct"
)

// Backend modes.
const (
	ModeLegacy = "legacy"
	ModeNative = "native"
	ModeMixed  = "mixed"
)

// Config represents the complete edge configuration
type Config struct {
	Listen               string                       `yaml:"listen" validate:"required"`
	Admin                AdminConfig                  `yaml:"admin"`
	Logging              LoggingConfig                `yaml:"logging"`
	Environments         map[string]EnvironmentConfig `yaml:"environments" validate:"dive,keys,oneof=production staging qa local legacy-direct,endkeys"`
	// Environment pins the environment this deployment serves.
	Environment          string                       `yaml:"environment" validate:"omitempty,oneof=production staging qa local legacy-direct"`
	// TrustRequestHost resolves the environment from the Host header.
	TrustRequestHost     bool                         `yaml:"trust_request_host"`
	TrustOverrideHeaders bool                         `yaml:"trust_override_headers"` // honor X-Edge-Env / X-Edge-Base-URL
	Brands               BrandsConfig                 `yaml:"brands"`
	Backends             BackendsConfig               `yaml:"backends"`
	Features             FeaturesConfig               `yaml:"features"`
	RateLimit            RateLimitConfig              `yaml:"rate_limit"`
	Cache                CacheConfig                  `yaml:"cache"`
	Redis                RedisConfig                  `yaml:"redis"`
	Tracing              TracingConfig                `yaml:"tracing"`
	Manifest             ManifestConfig               `yaml:"manifest"`
	Shutdown             ShutdownConfig               `yaml:"shutdown"`
	AccessLog            AccessLogConfig              `yaml:"access_log"`
}

// AdminConfig configures the operator listener (health, metrics, introspection).
type AdminConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// LoggingConfig defines logging settings
type LoggingConfig struct {
	Format   string            `yaml:"format" validate:"omitempty,oneof=json console"`
	Level    string            `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Output   string            `yaml:"output"`
	Rotation LogRotationConfig `yaml:"rotation"`
}

// LogRotationConfig defines log file rotation settings (powered by lumberjack).
type LogRotationConfig struct {
	MaxSize    int  `yaml:"max_size"`    // max megabytes before rotation (default 100)
	MaxBackups int  `yaml:"max_backups"` // old rotated files to keep (default 3)
	MaxAge     int  `yaml:"max_age"`     // days to retain old files (default 28)
	Compress   bool `yaml:"compress"`
}

// AccessLogConfig controls the per-request access log.
type AccessLogConfig struct {
	Enabled   bool     `yaml:"enabled"`
	JSON      bool     `yaml:"json"`
	Format    string   `yaml:"format"` // $variable format used when json is false
	SkipPaths []string `yaml:"skip_paths"`
}

// EnvironmentConfig describes one deployment environment.
type EnvironmentConfig struct {
	DisplayName   string   `yaml:"display_name"`
	BaseURL       string   `yaml:"base_url" validate:"omitempty,url"`
	Hosts         []string `yaml:"hosts"` // exact hosts or *.suffix patterns
	LegacyExecURL string   `yaml:"legacy_exec_url" validate:"omitempty,url"`
	DeploymentID  string   `yaml:"deployment_id"`
	BackendMode   string   `yaml:"backend_mode" validate:"omitempty,oneof=legacy native mixed"`
}

// BrandsConfig is the static brand registry plus the env var names used to
// resolve per-brand secrets at request time.
type BrandsConfig struct {
	Default        string        `yaml:"default" validate:"required"`
	AdminKeyEnv    string        `yaml:"admin_key_env" validate:"required"` // shared var; brand var is <name>_<BRAND>
	StoreEnv       string        `yaml:"store_env" validate:"required"`
	DefaultStoreID string        `yaml:"default_store_id"`
	List           []BrandConfig `yaml:"list" validate:"required,min=1,dive"`
}

// BrandConfig defines a single brand.
type BrandConfig struct {
	ID                 string   `yaml:"id" validate:"required"`
	Name               string   `yaml:"name" validate:"required"`
	Role               string   `yaml:"role" validate:"omitempty,oneof=standalone parent child"`
	Parent             string   `yaml:"parent"`
	Children           []string `yaml:"children"`
	IncludeInPortfolio bool     `yaml:"include_in_portfolio"`
}

// BackendsConfig configures backend selection and the two backend clients.
type BackendsConfig struct {
	Mode          string            `yaml:"mode" validate:"omitempty,oneof=legacy native mixed"`
	OverrideParam string            `yaml:"override_param"`
	Routes        map[string]string `yaml:"routes" validate:"dive,oneof=legacy native"` // path or glob -> backend
	Legacy        BackendConfig     `yaml:"legacy"`
	Native        BackendConfig     `yaml:"native"`
}

// BackendConfig configures one backend client.
type BackendConfig struct {
	URL                 string        `yaml:"url" validate:"omitempty,url"`
	Timeout             time.Duration `yaml:"timeout"`
	HealthPath          string        `yaml:"health_path"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	Breaker             BreakerConfig `yaml:"circuit_breaker"`
}

// BreakerConfig configures the per-backend circuit breaker.
type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
	HalfOpenRequests uint32        `yaml:"half_open_requests"`
	Timeout          time.Duration `yaml:"timeout"` // open -> half-open
}

// FeaturesConfig holds opt-out feature flags.
type FeaturesConfig struct {
	Defaults map[string]bool            `yaml:"defaults"`
	Brands   map[string]map[string]bool `yaml:"brands"`
}

// RateLimitConfig is the per-brand request budget.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled"`
	Rate    int           `yaml:"rate" validate:"omitempty,min=1"`
	Period  time.Duration `yaml:"period"`
	Burst   int           `yaml:"burst"`
}

// CacheConfig configures read-action payload caching inside the backend
// handler layer.
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Type     string        `yaml:"type" validate:"omitempty,oneof=memory redis"`
	TTL      time.Duration `yaml:"ttl"`
	MaxSize  int           `yaml:"max_size"`
	Coalesce bool          `yaml:"coalesce"` // deduplicate concurrent identical reads
}

// RedisConfig defines the shared Redis connection.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// TracingConfig defines OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Endpoint    string            `yaml:"endpoint"`
	ServiceName string            `yaml:"service_name"`
	SampleRate  float64           `yaml:"sample_rate" validate:"gte=0,lte=1"`
	Insecure    bool              `yaml:"insecure"`
	Headers     map[string]string `yaml:"headers"`
}

// ManifestConfig points at the optional deployment manifest JSON.
type ManifestConfig struct {
	Path string `yaml:"path"`
}

// ShutdownConfig defines graceful shutdown settings.
type ShutdownConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Listen: ":8080",
		Admin: AdminConfig{
			Enabled: true,
			Port:    9091,
		},
		Logging: LoggingConfig{
			Format: "json",
			Level:  "info",
			Output: "stdout",
		},
		AccessLog: AccessLogConfig{
			Enabled:   true,
			JSON:      true,
			SkipPaths: []string{"/healthz"},
		},
		Environments: map[string]EnvironmentConfig{
			EnvProduction: {
				DisplayName: "Production",
				BaseURL:     "https://www.eventangle.com",
				Hosts:       []string{"eventangle.com", "www.eventangle.com"},
			},
			EnvStaging: {
				DisplayName: "Staging",
				BaseURL:     "https://stg.eventangle.com",
				Hosts:       []string{"stg.eventangle.com", "*.stg.eventangle.com"},
			},
			EnvQA: {
				DisplayName: "QA",
				BaseURL:     "https://zeventbooks.com",
				Hosts:       []string{"zeventbooks.com", "*.zeventbooks.com"},
			},
			EnvLocal: {
				DisplayName: "Local",
				BaseURL:     "http://localhost:8787",
				Hosts:       []string{"localhost", "127.0.0.1", "::1"},
				BackendMode: ModeNative,
			},
			EnvLegacyDirect: {
				DisplayName: "Legacy (direct)",
				BaseURL:     "https://script.google.com",
				Hosts:       []string{"script.google.com", "*.googleusercontent.com"},
				BackendMode: ModeLegacy,
			},
		},
		Brands: BrandsConfig{
			Default:     "root",
			AdminKeyEnv: "ADMIN_KEY",
			StoreEnv:    "SPREADSHEET_ID",
			List: []BrandConfig{
				{ID: "root", Name: "Zeventbook", Role: "standalone", IncludeInPortfolio: false},
				{ID: "abc", Name: "American Bocce Co.", Role: "parent", Children: []string{"cbc", "cbl"}, IncludeInPortfolio: true},
				{ID: "cbc", Name: "Chicago Bocce Club", Role: "child", Parent: "abc", IncludeInPortfolio: true},
				{ID: "cbl", Name: "Chicago Bocce League", Role: "child", Parent: "abc", IncludeInPortfolio: true},
			},
		},
		Backends: BackendsConfig{
			Mode:          ModeMixed,
			OverrideParam: "backend",
			Legacy: BackendConfig{
				Timeout:    30 * time.Second,
				HealthPath: "?action=health",
			},
			Native: BackendConfig{
				Timeout:    10 * time.Second,
				HealthPath: "/api/health",
			},
		},
		RateLimit: RateLimitConfig{
			Rate:   100,
			Period: time.Second,
		},
		Cache: CacheConfig{
			Type:    "memory",
			TTL:     30 * time.Second,
			MaxSize: 1000,
		},
		Tracing: TracingConfig{
			ServiceName: "eventangle-edge",
			SampleRate:  1.0,
		},
		Shutdown: ShutdownConfig{
			Timeout: 30 * time.Second,
		},
	}
}
