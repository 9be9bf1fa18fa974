// Package brand holds the static tenant registry and resolves per-brand
// runtime secrets from an environment snapshot.
package brand

import (
	"fmt"
	"regexp"
	"slices"
	"sort"

	"github.com/zeventbooks/eventangle-edge/internal/config"
)

// Role is a brand's position in the hierarchy.
type Role string

const (
	RoleStandalone Role = "standalone"
	RoleParent     Role = "parent"
	RoleChild      Role = "child"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,31}$`)

// Metadata describes one brand. Values returned by the registry are copies.
type Metadata struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Role               Role     `json:"role"`
	Parent             string   `json:"parentBrand,omitempty"`
	Children           []string `json:"childBrands,omitempty"`
	IncludeInPortfolio bool     `json:"includeInPortfolioReports"`
}

// Registry is an immutable set of brands. It is safe for concurrent use.
type Registry struct {
	brands   map[string]Metadata
	ids      []string
	def      string
	adminEnv string
	storeEnv string
	storeDef string
}

// NewRegistry validates cfg and builds a registry. Every child must name an
// existing parent that lists it, and every listed child must point back.
func NewRegistry(cfg config.BrandsConfig) (*Registry, error) {
	r := &Registry{
		brands:   make(map[string]Metadata, len(cfg.List)),
		def:      cfg.Default,
		adminEnv: cfg.AdminKeyEnv,
		storeEnv: cfg.StoreEnv,
		storeDef: cfg.DefaultStoreID,
	}

	for i, b := range cfg.List {
		if !slugPattern.MatchString(b.ID) {
			return nil, fmt.Errorf("brand %d: id %q is not a lowercase slug", i, b.ID)
		}
		if _, dup := r.brands[b.ID]; dup {
			return nil, fmt.Errorf("duplicate brand id: %s", b.ID)
		}
		role := Role(b.Role)
		if role == "" {
			role = RoleStandalone
		}
		r.brands[b.ID] = Metadata{
			ID:                 b.ID,
			Name:               b.Name,
			Role:               role,
			Parent:             b.Parent,
			Children:           slices.Clone(b.Children),
			IncludeInPortfolio: b.IncludeInPortfolio,
		}
		r.ids = append(r.ids, b.ID)
	}
	sort.Strings(r.ids)

	if _, ok := r.brands[r.def]; !ok {
		return nil, fmt.Errorf("default brand %q is not registered", r.def)
	}
	if err := r.checkHierarchy(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) checkHierarchy() error {
	for _, id := range r.ids {
		b := r.brands[id]
		switch b.Role {
		case RoleChild:
			p, ok := r.brands[b.Parent]
			if !ok {
				return fmt.Errorf("brand %s: parent %q does not exist", id, b.Parent)
			}
			if p.Role != RoleParent {
				return fmt.Errorf("brand %s: parent %q has role %s", id, b.Parent, p.Role)
			}
			if !slices.Contains(p.Children, id) {
				return fmt.Errorf("brand %s: parent %s does not list it as a child", id, b.Parent)
			}
		case RoleParent:
			if b.Parent != "" {
				return fmt.Errorf("brand %s: a parent cannot have a parent", id)
			}
			for _, c := range b.Children {
				child, ok := r.brands[c]
				if !ok {
					return fmt.Errorf("brand %s: child %q does not exist", id, c)
				}
				if child.Parent != id {
					return fmt.Errorf("brand %s: child %s points at parent %q", id, c, child.Parent)
				}
			}
		case RoleStandalone:
			if b.Parent != "" || len(b.Children) > 0 {
				return fmt.Errorf("brand %s: standalone brand cannot have parent or children", id)
			}
		default:
			return fmt.Errorf("brand %s: unknown role %q", id, b.Role)
		}
	}
	return nil
}

// IsValid reports whether id is a registered brand.
func (r *Registry) IsValid(id string) bool {
	_, ok := r.brands[id]
	return ok
}

// Metadata returns a copy of the brand's metadata.
func (r *Registry) Metadata(id string) (Metadata, bool) {
	b, ok := r.brands[id]
	if !ok {
		return Metadata{}, false
	}
	b.Children = slices.Clone(b.Children)
	return b, true
}

// Children returns the child brand IDs of a parent, or nil.
func (r *Registry) Children(parentID string) []string {
	b, ok := r.brands[parentID]
	if !ok || b.Role != RoleParent {
		return nil
	}
	return slices.Clone(b.Children)
}

// Parent returns the parent of a child brand.
func (r *Registry) Parent(childID string) (string, bool) {
	b, ok := r.brands[childID]
	if !ok || b.Role != RoleChild {
		return "", false
	}
	return b.Parent, true
}

// IDs returns all brand IDs in sorted order.
func (r *Registry) IDs() []string {
	return slices.Clone(r.ids)
}

// Default returns the brand used when a request names none.
func (r *Registry) Default() string {
	return r.def
}

// All returns metadata for every brand, sorted by ID.
func (r *Registry) All() []Metadata {
	out := make([]Metadata, 0, len(r.ids))
	for _, id := range r.ids {
		m, _ := r.Metadata(id)
		out = append(out, m)
	}
	return out
}
