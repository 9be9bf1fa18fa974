// Package feature implements opt-out per-brand kill switches.
package feature

import (
	"maps"

	"github.com/zeventbooks/eventangle-edge/internal/config"
	"github.com/zeventbooks/eventangle-edge/internal/errors"
)

// Flags maps a feature name to its state. Absent keys are enabled.
type Flags map[string]bool

// Merge returns defaults overlaid by override. A key in override replaces the
// default; keys absent from override keep the default. Inputs are not
// modified.
func Merge(defaults, override Flags) Flags {
	out := make(Flags, len(defaults)+len(override))
	maps.Copy(out, defaults)
	maps.Copy(out, override)
	return out
}

// Enabled reports a feature's state. Unknown features are enabled.
func (f Flags) Enabled(feature string) bool {
	v, ok := f[feature]
	return !ok || v
}

// Gate holds the effective flags for every configured brand. It is immutable
// after construction.
type Gate struct {
	defaults Flags
	brands   map[string]Flags
}

// NewGate merges the brand overrides over the defaults once.
func NewGate(cfg config.FeaturesConfig) *Gate {
	g := &Gate{
		defaults: Merge(nil, cfg.Defaults),
		brands:   make(map[string]Flags, len(cfg.Brands)),
	}
	for brand, flags := range cfg.Brands {
		g.brands[brand] = Merge(g.defaults, flags)
	}
	return g
}

// Flags returns a copy of the effective flags for brand. Unknown brands get
// the defaults.
func (g *Gate) Flags(brand string) Flags {
	f, ok := g.brands[brand]
	if !ok {
		f = g.defaults
	}
	return maps.Clone(f)
}

// Enabled reports whether feature is on for brand.
func (g *Gate) Enabled(brand, feature string) bool {
	if f, ok := g.brands[brand]; ok {
		return f.Enabled(feature)
	}
	return g.defaults.Enabled(feature)
}

// Check returns a FEATURE_DISABLED error naming the feature when it is off.
// An empty feature name always passes.
func (g *Gate) Check(brand, feature string) error {
	if feature == "" || g.Enabled(brand, feature) {
		return nil
	}
	return errors.FeatureDisabled(feature)
}
