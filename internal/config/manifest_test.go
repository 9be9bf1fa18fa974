package config

import "testing"

func TestApplyManifest(t *testing.T) {
	cfg := DefaultConfig()
	data := []byte(`{
		"environments": {
			"production": {"deploymentId": "AKfy-prod", "execUrl": "https://script.google.com/macros/s/AKfy-prod/exec"},
			"moon": {"deploymentId": "ignored"}
		},
		"featureDefaults": {"posterEnabled": true},
		"features": {
			"root": {"sharedReportEnabled": false, "sponsorAnalyticsEnabled": true, "displayEnabled": "no"}
		}
	}`)

	if err := ApplyManifest(cfg, data); err != nil {
		t.Fatalf("ApplyManifest: %v", err)
	}

	prod := cfg.Environments[EnvProduction]
	if prod.DeploymentID != "AKfy-prod" {
		t.Errorf("DeploymentID = %q", prod.DeploymentID)
	}
	if prod.LegacyExecURL == "" {
		t.Error("execUrl not applied")
	}
	if _, ok := cfg.Environments["moon"]; ok {
		t.Error("unknown environment must not be created")
	}
	if !cfg.Features.Defaults["posterEnabled"] {
		t.Error("featureDefaults not applied")
	}

	root := cfg.Features.Brands["root"]
	if root["sharedReportEnabled"] {
		t.Error("sharedReportEnabled should be false")
	}
	if !root["sponsorAnalyticsEnabled"] {
		t.Error("sponsorAnalyticsEnabled should be true")
	}
	if _, ok := root["displayEnabled"]; ok {
		t.Error("non-boolean flag must be ignored")
	}
}

func TestApplyManifestOverridesConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Features.Brands = map[string]map[string]bool{"abc": {"posterEnabled": true}}

	if err := ApplyManifest(cfg, []byte(`{"features":{"abc":{"posterEnabled":false}}}`)); err != nil {
		t.Fatal(err)
	}
	if cfg.Features.Brands["abc"]["posterEnabled"] {
		t.Error("manifest value should win over config")
	}
}

func TestApplyManifestInvalid(t *testing.T) {
	if err := ApplyManifest(DefaultConfig(), []byte(`{not json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}
