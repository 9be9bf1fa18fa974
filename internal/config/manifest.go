package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/zeventbooks/eventangle-edge/internal/logging"
)

// LoadManifest applies a deployment manifest file to cfg. A missing file
// leaves the built-in values in place.
func LoadManifest(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logging.Warn("deployment manifest not found, using defaults", zap.String("path", path))
			return nil
		}
		return fmt.Errorf("failed to read manifest: %w", err)
	}
	return ApplyManifest(cfg, data)
}

// ApplyManifest overlays deployment IDs, exec URLs and feature flags from
// manifest JSON:
//
//	{
//	  "environments": {"production": {"deploymentId": "...", "execUrl": "..."}},
//	  "featureDefaults": {"posterEnabled": true},
//	  "features": {"root": {"sharedReportEnabled": false}}
//	}
//
// Flag values that are not JSON booleans are ignored.
func ApplyManifest(cfg *Config, data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("manifest is not valid JSON")
	}
	doc := gjson.ParseBytes(data)

	doc.Get("environments").ForEach(func(name, v gjson.Result) bool {
		env, ok := cfg.Environments[name.String()]
		if !ok {
			logging.Warn("manifest names unknown environment", zap.String("environment", name.String()))
			return true
		}
		if id := v.Get("deploymentId"); id.Exists() {
			env.DeploymentID = id.String()
		}
		if u := v.Get("execUrl"); u.Exists() {
			env.LegacyExecURL = u.String()
		}
		if u := v.Get("baseUrl"); u.Exists() {
			env.BaseURL = u.String()
		}
		cfg.Environments[name.String()] = env
		return true
	})

	if defaults := boolFlags(doc.Get("featureDefaults")); len(defaults) > 0 {
		if cfg.Features.Defaults == nil {
			cfg.Features.Defaults = make(map[string]bool, len(defaults))
		}
		for k, v := range defaults {
			cfg.Features.Defaults[k] = v
		}
	}

	doc.Get("features").ForEach(func(brand, v gjson.Result) bool {
		flags := boolFlags(v)
		if len(flags) == 0 {
			return true
		}
		if cfg.Features.Brands == nil {
			cfg.Features.Brands = make(map[string]map[string]bool)
		}
		dst := cfg.Features.Brands[brand.String()]
		if dst == nil {
			dst = make(map[string]bool, len(flags))
			cfg.Features.Brands[brand.String()] = dst
		}
		for k, f := range flags {
			dst[k] = f
		}
		return true
	})

	return nil
}

func boolFlags(obj gjson.Result) map[string]bool {
	if !obj.IsObject() {
		return nil
	}
	out := make(map[string]bool)
	obj.ForEach(func(k, v gjson.Result) bool {
		if v.IsBool() {
			out[k.String()] = v.Bool()
		}
		return true
	})
	return out
}
