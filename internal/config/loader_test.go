package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoaderParse(t *testing.T) {
	yaml := `
listen: ":9090"
backends:
  mode: legacy
  legacy:
    url: https://script.google.com/macros/s/abc/exec
    timeout: 20s
    circuit_breaker:
      enabled: true
      failure_threshold: 3
  native:
    url: http://localhost:8788
  routes:
    /api/status: native
    "/*/api/get*Bundle": legacy
brands:
  default: root
  admin_key_env: ADMIN_KEY
  store_env: SPREADSHEET_ID
  list:
    - id: root
      name: Zeventbook
      role: standalone
`

	loader := NewLoader()
	cfg, err := loader.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Listen != ":9090" {
		t.Errorf("expected listen :9090, got %s", cfg.Listen)
	}
	if cfg.Backends.Mode != ModeLegacy {
		t.Errorf("expected mode legacy, got %s", cfg.Backends.Mode)
	}
	if cfg.Backends.Legacy.Timeout != 20*time.Second {
		t.Errorf("expected legacy timeout 20s, got %v", cfg.Backends.Legacy.Timeout)
	}
	if !cfg.Backends.Legacy.Breaker.Enabled || cfg.Backends.Legacy.Breaker.FailureThreshold != 3 {
		t.Errorf("breaker not parsed: %+v", cfg.Backends.Legacy.Breaker)
	}
	if len(cfg.Backends.Routes) != 2 {
		t.Errorf("expected 2 routes, got %d", len(cfg.Backends.Routes))
	}
	if len(cfg.Brands.List) != 1 {
		t.Errorf("expected 1 brand, got %d", len(cfg.Brands.List))
	}
	// Defaults survive a partial file.
	if cfg.Backends.OverrideParam != "backend" {
		t.Errorf("expected default override param, got %q", cfg.Backends.OverrideParam)
	}
	if len(cfg.Environments) != 5 {
		t.Errorf("expected 5 environments, got %d", len(cfg.Environments))
	}
}

func TestLoaderPartialEnvironmentKeepsDefaults(t *testing.T) {
	yaml := `
environments:
  production:
    deployment_id: AKfy-prod
`
	cfg, err := NewLoader().Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	prod := cfg.Environments[EnvProduction]
	if prod.DeploymentID != "AKfy-prod" {
		t.Errorf("DeploymentID = %q", prod.DeploymentID)
	}
	if len(prod.Hosts) == 0 || prod.BaseURL == "" {
		t.Errorf("production defaults lost: %+v", prod)
	}
}

func TestLoaderEnvExpansion(t *testing.T) {
	t.Setenv("TEST_LEGACY_URL", "https://script.google.com/macros/s/xyz/exec")
	t.Setenv("TEST_REDIS_PASSWORD", "my-secret")

	yaml := `
backends:
  legacy:
    url: ${TEST_LEGACY_URL}
redis:
  address: localhost:6379
  password: ${TEST_REDIS_PASSWORD}
`

	cfg, err := NewLoader().Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Backends.Legacy.URL != "https://script.google.com/macros/s/xyz/exec" {
		t.Errorf("expected legacy url from env, got %q", cfg.Backends.Legacy.URL)
	}
	if cfg.Redis.Password != "my-secret" {
		t.Errorf("expected password from env, got %q", cfg.Redis.Password)
	}
}

func TestLoaderUnsetVarIsKept(t *testing.T) {
	l := NewLoader()
	got := l.expandEnvVars("key: ${EDGE_DEFINITELY_UNSET_VAR}")
	if got != "key: ${EDGE_DEFINITELY_UNSET_VAR}" {
		t.Errorf("expandEnvVars = %q", got)
	}
}

func TestLoaderValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{
			name:    "defaults only",
			yaml:    `listen: ":8080"`,
			wantErr: false,
		},
		{
			name: "invalid backend mode",
			yaml: `
backends:
  mode: hybrid
`,
			wantErr: true,
		},
		{
			name: "invalid route backend",
			yaml: `
backends:
  routes:
    /api/status: cloud
`,
			wantErr: true,
		},
		{
			name: "route pattern without slash",
			yaml: `
backends:
  routes:
    api/status: native
`,
			wantErr: true,
		},
		{
			name: "unknown environment",
			yaml: `
environments:
  moon:
    base_url: https://moon.example
`,
			wantErr: true,
		},
		{
			name: "unknown pinned environment",
			yaml: `
environment: moon
`,
			wantErr: true,
		},
		{
			name: "default brand missing",
			yaml: `
brands:
  default: ghost
  admin_key_env: ADMIN_KEY
  store_env: SPREADSHEET_ID
  list:
    - id: root
      name: Zeventbook
`,
			wantErr: true,
		},
		{
			name: "redis cache without address",
			yaml: `
cache:
  enabled: true
  type: redis
`,
			wantErr: true,
		},
		{
			name: "rate limit without period",
			yaml: `
rate_limit:
  enabled: true
  rate: 5
  period: 0s
`,
			wantErr: true,
		},
		{
			name: "tracing without endpoint",
			yaml: `
tracing:
  enabled: true
`,
			wantErr: true,
		},
		{
			name: "bad sample rate",
			yaml: `
tracing:
  sample_rate: 2
`,
			wantErr: true,
		},
		{
			name: "bad log format",
			yaml: `
logging:
  format: xml
`,
			wantErr: true,
		},
	}

	loader := NewLoader()
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := loader.Parse([]byte(tt.yaml))
			if (err != nil) != tt.wantErr {
				t.Errorf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Listen != ":8080" {
		t.Errorf("expected default listen :8080, got %s", cfg.Listen)
	}
	if cfg.Backends.Mode != ModeMixed {
		t.Errorf("expected default mode mixed, got %s", cfg.Backends.Mode)
	}
	if cfg.Brands.Default != "root" {
		t.Errorf("expected default brand root, got %s", cfg.Brands.Default)
	}
	if err := NewLoader().Validate(cfg); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadWithManifest(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "manifest.json")
	if err := os.WriteFile(manifest, []byte(`{"features":{"root":{"sharedReportEnabled":false}}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(dir, "edge.yaml")
	if err := os.WriteFile(cfgPath, []byte("manifest:\n  path: "+manifest+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader().Load(cfgPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if v, ok := cfg.Features.Brands["root"]["sharedReportEnabled"]; !ok || v {
		t.Errorf("manifest flag not applied: %+v", cfg.Features.Brands)
	}
}

func TestLoadMissingManifestUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "edge.yaml")
	content := "manifest:\n  path: " + filepath.Join(dir, "absent.json") + "\n"
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewLoader().Load(cfgPath); err != nil {
		t.Fatalf("missing manifest should not fail: %v", err)
	}
}
