package brand

import (
	"strings"

	"github.com/zeventbooks/eventangle-edge/internal/envsnap"
)

// RuntimeConfig is derived per request from a brand and the environment. It is
// never cached, so rotated secrets take effect on the next request.
type RuntimeConfig struct {
	BrandID           string `json:"brandId"`
	AdminSecret       string `json:"-"`
	StoreID           string `json:"storeId,omitempty"`
	HasAdminKey       bool   `json:"hasAdminKey"`
	HasDedicatedStore bool   `json:"hasDedicatedStore"`
	IsConfigured      bool   `json:"isConfigured"`
}

// RuntimeConfig resolves secrets for id. Unknown IDs resolve as the default
// brand; callers that need strict validation check IsValid first.
func (r *Registry) RuntimeConfig(id string, env envsnap.Snapshot) RuntimeConfig {
	if !r.IsValid(id) {
		id = r.def
	}
	suffix := "_" + strings.ToUpper(strings.ReplaceAll(id, "-", "_"))

	rc := RuntimeConfig{BrandID: id}

	if v, ok := env.Lookup(r.adminEnv + suffix); ok {
		rc.AdminSecret = v
	} else if v, ok := env.Lookup(r.adminEnv); ok {
		rc.AdminSecret = v
	}

	if v, ok := env.Lookup(r.storeEnv + suffix); ok {
		rc.StoreID = v
		rc.HasDedicatedStore = true
	} else if v, ok := env.Lookup(r.storeEnv); ok {
		rc.StoreID = v
	} else {
		rc.StoreID = r.storeDef
	}

	rc.HasAdminKey = rc.AdminSecret != ""
	rc.IsConfigured = rc.HasAdminKey && rc.StoreID != ""
	return rc
}
