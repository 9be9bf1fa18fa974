// Package router maps request paths to a brand and a logical page or API
// action.
package router

import (
	"fmt"
	"sort"

	"github.com/zeventbooks/eventangle-edge/internal/action"
)

// Page is a logical surface or diagnostic page.
type Page string

const (
	Public      Page = "public"
	Admin       Page = "admin"
	Display     Page = "display"
	Poster      Page = "poster"
	Report      Page = "report"
	Status      Page = "status"
	Setup       Page = "setup"
	Permissions Page = "permissions"
)

// apiSegment is the reserved path segment that introduces an action.
const apiSegment = "api"

// PageSpec describes one page: the path aliases that reach it, the actions it
// may invoke and whether its brand comes from the path.
type PageSpec struct {
	Page    Page
	Aliases []string
	Actions []action.Action
	// Unscoped pages read the brand from the "brand" query parameter.
	Unscoped bool
}

// DefaultPages is the production page table.
var DefaultPages = []PageSpec{
	{Page: Public, Aliases: []string{"public", "events", "schedule", "calendar"},
		Actions: []action.Action{action.GetPublicBundle, action.ListEvents}},
	{Page: Admin, Aliases: []string{"admin", "manage", "dashboard"},
		Actions: []action.Action{action.GetAdminBundle}},
	{Page: Display, Aliases: []string{"display", "tv", "screen"},
		Actions: []action.Action{action.GetDisplayBundle}},
	{Page: Poster, Aliases: []string{"poster", "print", "flyer"},
		Actions: []action.Action{action.GetPosterBundle}},
	{Page: Report, Aliases: []string{"report", "reports", "analytics"},
		Actions: []action.Action{action.GetSharedAnalytics, action.GetSponsorAnalytics}},
	{Page: Status, Aliases: []string{"status", "health"}, Unscoped: true,
		Actions: []action.Action{action.Status, action.Health}},
	{Page: Setup, Aliases: []string{"setup", "diagnostics"}, Unscoped: true,
		Actions: []action.Action{action.SetupCheck}},
	{Page: Permissions, Aliases: []string{"permissions"}, Unscoped: true,
		Actions: []action.Action{action.CheckPermissions}},
}

// Table is the immutable alias table. Lookups are exact and case-sensitive.
type Table struct {
	pages   map[Page]PageSpec
	order   []Page
	byAlias map[string]Page
	owner   map[action.Action]Page
}

// NewTable validates specs and builds a table. An alias may belong to one
// page only and must not shadow a brand ID or the api segment. Every action
// must be owned by exactly one page.
func NewTable(specs []PageSpec, brandIDs []string) (*Table, error) {
	brands := make(map[string]bool, len(brandIDs))
	for _, id := range brandIDs {
		brands[id] = true
	}

	t := &Table{
		pages:   make(map[Page]PageSpec, len(specs)),
		byAlias: make(map[string]Page),
		owner:   make(map[action.Action]Page),
	}
	for _, spec := range specs {
		if spec.Page == "" {
			return nil, fmt.Errorf("page with aliases %v has no name", spec.Aliases)
		}
		if _, dup := t.pages[spec.Page]; dup {
			return nil, fmt.Errorf("page %q declared twice", spec.Page)
		}
		if len(spec.Aliases) == 0 {
			return nil, fmt.Errorf("page %q has no aliases", spec.Page)
		}
		for _, alias := range spec.Aliases {
			switch {
			case alias == "":
				return nil, fmt.Errorf("page %q has an empty alias", spec.Page)
			case alias == apiSegment:
				return nil, fmt.Errorf("page %q: alias %q is reserved", spec.Page, alias)
			case brands[alias]:
				return nil, fmt.Errorf("page %q: alias %q collides with a brand id", spec.Page, alias)
			}
			if other, ok := t.byAlias[alias]; ok {
				return nil, fmt.Errorf("alias %q claimed by both %q and %q", alias, other, spec.Page)
			}
			t.byAlias[alias] = spec.Page
		}
		for _, a := range spec.Actions {
			if !a.Valid() {
				return nil, fmt.Errorf("page %q lists an invalid action", spec.Page)
			}
			if other, ok := t.owner[a]; ok {
				return nil, fmt.Errorf("action %s owned by both %q and %q", a, other, spec.Page)
			}
			t.owner[a] = spec.Page
		}
		t.pages[spec.Page] = spec
		t.order = append(t.order, spec.Page)
	}
	for _, a := range action.All {
		if _, ok := t.owner[a]; !ok {
			return nil, fmt.Errorf("action %s is not owned by any page", a)
		}
	}
	return t, nil
}

// Lookup resolves an alias to its page.
func (t *Table) Lookup(alias string) (Page, bool) {
	p, ok := t.byAlias[alias]
	return p, ok
}

// Spec returns a page's description.
func (t *Table) Spec(p Page) (PageSpec, bool) {
	s, ok := t.pages[p]
	return s, ok
}

// Pages lists pages in declaration order.
func (t *Table) Pages() []Page {
	return append([]Page(nil), t.order...)
}

// Owner returns the page an action belongs to.
func (t *Table) Owner(a action.Action) (Page, bool) {
	p, ok := t.owner[a]
	return p, ok
}

// Aliases returns a copy of the alias to page mapping.
func (t *Table) Aliases() map[string]Page {
	out := make(map[string]Page, len(t.byAlias))
	for k, v := range t.byAlias {
		out[k] = v
	}
	return out
}

// AliasMismatch is an alias both tables know but map differently.
type AliasMismatch struct {
	Alias  string `json:"alias"`
	Ours   Page   `json:"ours"`
	Theirs string `json:"theirs"`
}

// Drift lists the differences between two alias tables.
type Drift struct {
	Missing    []string        `json:"missing,omitempty"` // ours only
	Extra      []string        `json:"extra,omitempty"`   // theirs only
	Mismatched []AliasMismatch `json:"mismatched,omitempty"`
}

// Empty reports whether the tables agree.
func (d Drift) Empty() bool {
	return len(d.Missing) == 0 && len(d.Extra) == 0 && len(d.Mismatched) == 0
}

// CompareAliases reports how other, an alias to page-name mapping kept by
// another component, differs from this table.
func (t *Table) CompareAliases(other map[string]string) Drift {
	var d Drift
	for alias, page := range t.byAlias {
		theirs, ok := other[alias]
		switch {
		case !ok:
			d.Missing = append(d.Missing, alias)
		case Page(theirs) != page:
			d.Mismatched = append(d.Mismatched, AliasMismatch{Alias: alias, Ours: page, Theirs: theirs})
		}
	}
	for alias := range other {
		if _, ok := t.byAlias[alias]; !ok {
			d.Extra = append(d.Extra, alias)
		}
	}
	sort.Strings(d.Missing)
	sort.Strings(d.Extra)
	sort.Slice(d.Mismatched, func(i, j int) bool { return d.Mismatched[i].Alias < d.Mismatched[j].Alias })
	return d
}
