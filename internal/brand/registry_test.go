package brand

import (
	"slices"
	"sync"
	"testing"

	"github.com/zeventbooks/eventangle-edge/internal/config"
	"github.com/zeventbooks/eventangle-edge/internal/envsnap"
)

func defaultRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(config.DefaultConfig().Brands)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func TestRegistryValidity(t *testing.T) {
	r := defaultRegistry(t)

	for _, id := range r.IDs() {
		if !r.IsValid(id) {
			t.Errorf("IsValid(%s) = false", id)
		}
		if _, ok := r.Metadata(id); !ok {
			t.Errorf("Metadata(%s) absent", id)
		}
	}
	for _, id := range []string{"nonexistent-brand-xyz", "", "ROOT", "abc "} {
		if r.IsValid(id) {
			t.Errorf("IsValid(%q) = true", id)
		}
		if _, ok := r.Metadata(id); ok {
			t.Errorf("Metadata(%q) present", id)
		}
	}
}

func TestParentChildConsistency(t *testing.T) {
	r := defaultRegistry(t)

	for _, id := range r.IDs() {
		m, _ := r.Metadata(id)
		if m.Parent != "" {
			if !slices.Contains(r.Children(m.Parent), id) {
				t.Errorf("%s names parent %s which does not list it", id, m.Parent)
			}
		}
		for _, c := range m.Children {
			if p, ok := r.Parent(c); !ok || p != id {
				t.Errorf("%s lists child %s whose parent is %q", id, c, p)
			}
		}
	}

	if got := r.Children("abc"); !slices.Equal(got, []string{"cbc", "cbl"}) {
		t.Errorf("Children(abc) = %v", got)
	}
	if _, ok := r.Parent("root"); ok {
		t.Error("root has no parent")
	}
	if got := r.Children("cbc"); got != nil {
		t.Errorf("Children(cbc) = %v, want nil", got)
	}
}

func TestMetadataIsACopy(t *testing.T) {
	r := defaultRegistry(t)
	m, _ := r.Metadata("abc")
	m.Children[0] = "mutated"
	if got := r.Children("abc"); got[0] != "cbc" {
		t.Error("registry state was mutated through Metadata")
	}
}

func TestNewRegistryRejectsInconsistency(t *testing.T) {
	base := func() config.BrandsConfig {
		return config.BrandsConfig{
			Default:     "abc",
			AdminKeyEnv: "ADMIN_KEY",
			StoreEnv:    "SPREADSHEET_ID",
		}
	}

	tests := []struct {
		name   string
		brands []config.BrandConfig
		def    string
	}{
		{
			name: "child with missing parent",
			brands: []config.BrandConfig{
				{ID: "abc", Name: "A", Role: "standalone"},
				{ID: "cbc", Name: "C", Role: "child", Parent: "zzz"},
			},
		},
		{
			name: "child not listed by parent",
			brands: []config.BrandConfig{
				{ID: "abc", Name: "A", Role: "parent"},
				{ID: "cbc", Name: "C", Role: "child", Parent: "abc"},
			},
		},
		{
			name: "parent lists non-child",
			brands: []config.BrandConfig{
				{ID: "abc", Name: "A", Role: "parent", Children: []string{"cbc"}},
				{ID: "cbc", Name: "C", Role: "standalone"},
			},
		},
		{
			name: "parent of child is standalone",
			brands: []config.BrandConfig{
				{ID: "abc", Name: "A", Role: "standalone"},
				{ID: "cbc", Name: "C", Role: "child", Parent: "abc"},
			},
		},
		{
			name: "duplicate id",
			brands: []config.BrandConfig{
				{ID: "abc", Name: "A"},
				{ID: "abc", Name: "B"},
			},
		},
		{
			name: "uppercase id",
			brands: []config.BrandConfig{
				{ID: "ABC", Name: "A"},
			},
			def: "ABC",
		},
		{
			name: "unknown default",
			brands: []config.BrandConfig{
				{ID: "abc", Name: "A"},
			},
			def: "root",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			cfg.List = tt.brands
			if tt.def != "" {
				cfg.Default = tt.def
			}
			if _, err := NewRegistry(cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRuntimeConfig(t *testing.T) {
	r := defaultRegistry(t)

	tests := []struct {
		name          string
		brand         string
		env           map[string]string
		wantBrand     string
		wantSecret    string
		wantStore     string
		wantDedicated bool
		wantConfigd   bool
	}{
		{
			name:        "brand specific wins",
			brand:       "abc",
			env:         map[string]string{"ADMIN_KEY_ABC": "k-abc", "ADMIN_KEY": "shared", "SPREADSHEET_ID_ABC": "s-abc", "SPREADSHEET_ID": "s"},
			wantBrand:   "abc",
			wantSecret:  "k-abc",
			wantStore:   "s-abc",
			wantDedicated: true,
			wantConfigd: true,
		},
		{
			name:        "shared fallback",
			brand:       "cbc",
			env:         map[string]string{"ADMIN_KEY": "shared", "SPREADSHEET_ID": "s"},
			wantBrand:   "cbc",
			wantSecret:  "shared",
			wantStore:   "s",
			wantConfigd: true,
		},
		{
			name:      "nothing set",
			brand:     "root",
			env:       nil,
			wantBrand: "root",
		},
		{
			name:       "unknown brand falls back to default",
			brand:      "nonexistent-brand-xyz",
			env:        map[string]string{"ADMIN_KEY_ROOT": "k-root"},
			wantBrand:  "root",
			wantSecret: "k-root",
		},
		{
			name:       "blank brand value ignored",
			brand:      "abc",
			env:        map[string]string{"ADMIN_KEY_ABC": "", "ADMIN_KEY": "shared"},
			wantBrand:  "abc",
			wantSecret: "shared",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			rc := r.RuntimeConfig(tt.brand, envsnap.FromMap(tt.env))
			if rc.BrandID != tt.wantBrand {
				t.Errorf("BrandID = %s, want %s", rc.BrandID, tt.wantBrand)
			}
			if rc.AdminSecret != tt.wantSecret {
				t.Errorf("AdminSecret = %q, want %q", rc.AdminSecret, tt.wantSecret)
			}
			if rc.StoreID != tt.wantStore {
				t.Errorf("StoreID = %q, want %q", rc.StoreID, tt.wantStore)
			}
			if rc.HasAdminKey != (tt.wantSecret != "") {
				t.Errorf("HasAdminKey = %v", rc.HasAdminKey)
			}
			if rc.HasDedicatedStore != tt.wantDedicated {
				t.Errorf("HasDedicatedStore = %v", rc.HasDedicatedStore)
			}
			if rc.IsConfigured != tt.wantConfigd {
				t.Errorf("IsConfigured = %v", rc.IsConfigured)
			}
		})
	}
}

func TestRuntimeConfigDefaultStore(t *testing.T) {
	cfg := config.DefaultConfig().Brands
	cfg.DefaultStoreID = "sheet-default"
	r, err := NewRegistry(cfg)
	if err != nil {
		t.Fatal(err)
	}
	rc := r.RuntimeConfig("abc", envsnap.FromMap(nil))
	if rc.StoreID != "sheet-default" || rc.HasDedicatedStore {
		t.Errorf("rc = %+v", rc)
	}
}

func TestRuntimeConfigConcurrent(t *testing.T) {
	r := defaultRegistry(t)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := r.IDs()[i%len(r.IDs())]
			env := envsnap.FromMap(map[string]string{"ADMIN_KEY": id})
			if got := r.RuntimeConfig(id, env).AdminSecret; got != id {
				t.Errorf("AdminSecret = %q, want %q", got, id)
			}
		}(i)
	}
	wg.Wait()
}
