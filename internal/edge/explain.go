package edge

import (
	"net/http"
	"net/url"

	"github.com/zeventbooks/eventangle-edge/internal/backend"
	"github.com/zeventbooks/eventangle-edge/internal/environment"
	"github.com/zeventbooks/eventangle-edge/internal/errors"
	"github.com/zeventbooks/eventangle-edge/internal/router"
)

// Explanation is a routing decision computed without invoking a backend.
type Explanation struct {
	Path        string                  `json:"path"`
	Environment environment.Environment `json:"environment"`
	Target      *router.Target          `json:"target,omitempty"`
	Action      string                  `json:"action,omitempty"`
	Feature     string                  `json:"feature,omitempty"`
	Enabled     bool                    `json:"featureEnabled"`
	Decision    *backend.Decision       `json:"decision,omitempty"`
	Error       *errors.EdgeError       `json:"error,omitempty"`
}

// Explain dispatches path with query the way a request would, resolving
// the environment from envName, host and h, and reports every decision.
// Rate limits and credentials are not consulted.
func (e *Edge) Explain(path string, query url.Values, envName, host string, h http.Header) Explanation {
	st := e.state.Load()
	snap := e.snapshot()

	overrides := environment.OverridesFromSnapshot(snap)
	if st.cfg.TrustOverrideHeaders {
		overrides = environment.OverridesFromHeaders(overrides, h)
	}
	if envName != "" {
		overrides.EnvName = envName
	}
	out := Explanation{Path: path, Environment: st.envs.Resolve(overrides, host)}

	target, err := st.dispatcher.Dispatch(path, query)
	if err != nil {
		ee, ok := errors.As(err)
		if !ok {
			ee = errors.Wrap(err, errors.CodeInternal, "dispatch failed")
		}
		out.Error = ee
		return out
	}
	out.Target = &target
	out.Action = target.ActionName()

	x := &exchange{st: st, target: target}
	out.Feature = e.featureOf(x)
	out.Enabled = out.Feature == "" || st.gate.Enabled(target.Brand, out.Feature)

	d := st.selector.Select(target.Route, query, out.Environment)
	out.Decision = &d
	return out
}
