// Package environment decides which deployment environment a request belongs
// to. Resolution is a pure function of explicit overrides, the deployment
// settings and, when trusted, the request host.
package environment

import (
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/zeventbooks/eventangle-edge/internal/config"
	"github.com/zeventbooks/eventangle-edge/internal/envsnap"
)

// Name identifies an environment.
type Name string

const (
	Production   Name = config.EnvProduction
	Staging      Name = config.EnvStaging
	QA           Name = config.EnvQA
	Local        Name = config.EnvLocal
	LegacyDirect Name = config.EnvLegacyDirect
	// Custom is synthesized for a base URL override that matches no known host.
	Custom Name = "custom"
)

// Known lists the configured environments in resolution order.
var Known = []Name{Production, Staging, QA, Local, LegacyDirect}

// Source records which resolution rule produced an environment.
type Source string

const (
	SourceNameOverride    Source = "env_override"
	SourceBaseURLOverride Source = "base_url_override"
	SourceForceProduction Source = "force_production"
	SourceDeployment      Source = "deployment"
	SourceRequestHost     Source = "request_host"
	SourceDefault         Source = "default"
)

// Environment is one resolved deployment environment.
type Environment struct {
	Name          Name   `json:"name"`
	DisplayName   string `json:"displayName"`
	BaseURL       string `json:"baseUrl"`
	LegacyExecURL string `json:"legacyExecUrl,omitempty"`
	DeploymentID  string `json:"deploymentId,omitempty"`
	Default       bool   `json:"default"`
	// BackendMode is legacy, native, mixed or empty for "use the global mode".
	BackendMode string `json:"backendMode,omitempty"`
	Source      Source `json:"source"`
}

// IsProduction reports whether responses should be sanitized and per-request
// backend overrides refused.
func (e Environment) IsProduction() bool {
	return e.Name == Production
}

// Overrides are the explicit resolution inputs.
type Overrides struct {
	EnvName         string
	BaseURL         string
	ForceProduction bool
}

// OverridesFromSnapshot reads TEST_ENV, BASE_URL and USE_PRODUCTION.
func OverridesFromSnapshot(s envsnap.Snapshot) Overrides {
	return Overrides{
		EnvName:         s.Get("TEST_ENV"),
		BaseURL:         s.Get("BASE_URL"),
		ForceProduction: s.Bool("USE_PRODUCTION"),
	}
}

// Override headers, honored only when the deployment trusts its callers.
const (
	HeaderEnv     = "X-Edge-Env"
	HeaderBaseURL = "X-Edge-Base-URL"
)

// OverridesFromHeaders layers request header overrides over base. Header
// values win when present.
func OverridesFromHeaders(base Overrides, h http.Header) Overrides {
	if v := strings.TrimSpace(h.Get(HeaderEnv)); v != "" {
		base.EnvName = v
	}
	if v := strings.TrimSpace(h.Get(HeaderBaseURL)); v != "" {
		base.BaseURL = v
	}
	return base
}

type hostPattern struct {
	pattern string
	env     Name
}

// Deployment places requests that carry no explicit override.
type Deployment struct {
	// Pinned is the environment this process serves. It wins over the
	// request host.
	Pinned string
	// TrustHost matches the Host header against the configured hosts. The
	// header is client controlled, so only enable it behind a proxy that
	// rewrites Host.
	TrustHost bool
}

// Resolver holds the environment table. It is immutable and safe for
// concurrent use.
type Resolver struct {
	envs      map[Name]Environment
	patterns  []hostPattern
	pinned    Name
	trustHost bool
}

// NewResolver builds a resolver from the configured environments.
func NewResolver(envs map[string]config.EnvironmentConfig, d Deployment) *Resolver {
	r := &Resolver{
		envs:      make(map[Name]Environment, len(envs)),
		pinned:    Name(strings.ToLower(strings.TrimSpace(d.Pinned))),
		trustHost: d.TrustHost,
	}
	for _, name := range Known {
		ec, ok := envs[string(name)]
		if !ok {
			continue
		}
		r.envs[name] = Environment{
			Name:          name,
			DisplayName:   ec.DisplayName,
			BaseURL:       ec.BaseURL,
			LegacyExecURL: ec.LegacyExecURL,
			DeploymentID:  ec.DeploymentID,
			Default:       name == Staging,
			BackendMode:   ec.BackendMode,
		}
		for _, h := range ec.Hosts {
			r.patterns = append(r.patterns, hostPattern{pattern: strings.ToLower(h), env: name})
		}
	}
	// Exact hosts before wildcards, then longer patterns first.
	sort.SliceStable(r.patterns, func(i, j int) bool {
		wi := strings.HasPrefix(r.patterns[i].pattern, "*.")
		wj := strings.HasPrefix(r.patterns[j].pattern, "*.")
		if wi != wj {
			return !wi
		}
		return len(r.patterns[i].pattern) > len(r.patterns[j].pattern)
	})
	return r
}

// Get returns a known environment by name.
func (r *Resolver) Get(name Name) (Environment, bool) {
	e, ok := r.envs[name]
	return e, ok
}

// Resolve picks the active environment:
//
//  1. a known environment name override, with BaseURL replaced by the base URL
//     override when one is supplied
//  2. a base URL override, matched by hostname; unmatched yields Custom,
//     malformed falls through
//  3. the force-production flag
//  4. the pinned deployment environment
//  5. the request host, when trusted
//  6. staging
func (r *Resolver) Resolve(o Overrides, requestHost string) Environment {
	if e, ok := r.envs[Name(strings.ToLower(strings.TrimSpace(o.EnvName)))]; ok {
		if o.BaseURL != "" {
			e.BaseURL = o.BaseURL
		}
		e.Source = SourceNameOverride
		return e
	}

	if o.BaseURL != "" {
		if host, ok := parseHost(o.BaseURL); ok {
			e, matched := r.matchHost(host)
			if !matched {
				e = Environment{Name: Custom, DisplayName: "Custom"}
			}
			e.BaseURL = o.BaseURL
			e.Source = SourceBaseURLOverride
			return e
		}
	}

	if o.ForceProduction {
		if e, ok := r.envs[Production]; ok {
			e.Source = SourceForceProduction
			return e
		}
	}

	if e, ok := r.envs[r.pinned]; ok {
		e.Source = SourceDeployment
		return e
	}

	if r.trustHost && requestHost != "" {
		if e, ok := r.matchHost(stripPort(requestHost)); ok {
			e.Source = SourceRequestHost
			return e
		}
	}

	e, ok := r.envs[Staging]
	if !ok {
		e = Environment{Name: Staging, DisplayName: "Staging", Default: true}
	}
	e.Source = SourceDefault
	return e
}

func (r *Resolver) matchHost(host string) (Environment, bool) {
	host = strings.ToLower(host)
	for _, p := range r.patterns {
		if matchPattern(p.pattern, host) {
			return r.envs[p.env], true
		}
	}
	return Environment{}, false
}

func matchPattern(pattern, host string) bool {
	if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
		return strings.HasSuffix(host, "."+suffix)
	}
	return pattern == host
}

// parseHost extracts the hostname of an absolute http(s) URL.
func parseHost(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return "", false
	}
	return u.Hostname(), true
}

func stripPort(hostport string) string {
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		return strings.Trim(h, "[]")
	}
	return strings.Trim(hostport, "[]")
}
