// Package backend chooses between the legacy and native backends and invokes
// the chosen one.
package backend

import (
	"net/url"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/zeventbooks/eventangle-edge/internal/config"
	"github.com/zeventbooks/eventangle-edge/internal/environment"
)

// Kind names one of the two interchangeable backends.
type Kind string

const (
	Legacy Kind = "legacy"
	Native Kind = "native"
)

// Kinds lists the backends.
var Kinds = []Kind{Legacy, Native}

// ParseKind accepts "legacy" or "native", case-insensitively.
func ParseKind(s string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case Legacy:
		return Legacy, true
	case Native:
		return Native, true
	}
	return "", false
}

// Provenance records which rule produced a decision.
type Provenance string

const (
	QueryOverride Provenance = "query_override"
	RouteConfig   Provenance = "route_config"
	GlobalMode    Provenance = "global_mode"
	MixedDefault  Provenance = "mixed_default"
)

// Response headers carrying the decision.
const (
	HeaderBackend = "X-Edge-Backend"
	HeaderSource  = "X-Edge-Backend-Source"
)

// Decision is the per-request backend choice. It is logged and echoed in
// headers, never stored.
type Decision struct {
	Backend    Kind       `json:"backend"`
	Provenance Provenance `json:"provenance"`
	// Rule is the route pattern or mode value that fired, for diagnostics.
	Rule string `json:"rule,omitempty"`
}

type globRoute struct {
	pattern string
	backend Kind
}

// Selector applies the selection rules. It is immutable and safe for
// concurrent use.
type Selector struct {
	exact map[string]Kind
	globs []globRoute
	mode  string
	param string
}

// NewSelector builds a selector from validated configuration.
func NewSelector(cfg config.BackendsConfig) *Selector {
	s := &Selector{
		exact: make(map[string]Kind),
		mode:  cfg.Mode,
		param: cfg.OverrideParam,
	}
	if s.param == "" {
		s.param = "backend"
	}
	for pattern, b := range cfg.Routes {
		k, ok := ParseKind(b)
		if !ok {
			continue
		}
		if strings.ContainsAny(pattern, "*?[{") {
			s.globs = append(s.globs, globRoute{pattern: pattern, backend: k})
		} else {
			s.exact[pattern] = k
		}
	}
	// Longer patterns are more specific; ties break lexically for stable order.
	sort.Slice(s.globs, func(i, j int) bool {
		if len(s.globs[i].pattern) != len(s.globs[j].pattern) {
			return len(s.globs[i].pattern) > len(s.globs[j].pattern)
		}
		return s.globs[i].pattern < s.globs[j].pattern
	})
	return s
}

// OverrideParam is the query parameter consulted for per-request overrides.
func (s *Selector) OverrideParam() string {
	return s.param
}

// Select decides which backend serves route:
//
//  1. the override query parameter, outside production only
//  2. the per-route table, exact paths before globs
//  3. the environment's mode, else the global mode, when it is legacy or native
//  4. native
func (s *Selector) Select(route string, query url.Values, env environment.Environment) Decision {
	if !env.IsProduction() {
		if k, ok := ParseKind(query.Get(s.param)); ok {
			return Decision{Backend: k, Provenance: QueryOverride, Rule: s.param}
		}
	}

	if k, ok := s.exact[route]; ok {
		return Decision{Backend: k, Provenance: RouteConfig, Rule: route}
	}
	for _, g := range s.globs {
		if ok, _ := doublestar.Match(g.pattern, route); ok {
			return Decision{Backend: g.backend, Provenance: RouteConfig, Rule: g.pattern}
		}
	}

	mode := env.BackendMode
	if mode == "" {
		mode = s.mode
	}
	if k, ok := ParseKind(mode); ok {
		return Decision{Backend: k, Provenance: GlobalMode, Rule: mode}
	}

	return Decision{Backend: Native, Provenance: MixedDefault}
}
