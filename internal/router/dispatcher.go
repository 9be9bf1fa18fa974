package router

import (
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/zeventbooks/eventangle-edge/internal/action"
	"github.com/zeventbooks/eventangle-edge/internal/brand"
	"github.com/zeventbooks/eventangle-edge/internal/errors"
	"github.com/zeventbooks/eventangle-edge/internal/logging"
)

// Kind distinguishes page requests from API action requests.
type Kind string

const (
	KindPage Kind = "page"
	KindAPI  Kind = "api"
)

// BrandSource records where the brand of a target came from.
type BrandSource string

const (
	BrandFromPath    BrandSource = "path"
	BrandFromQuery   BrandSource = "query"
	BrandFromDefault BrandSource = "default"
)

// Target is the outcome of dispatching a path.
type Target struct {
	Kind        Kind          `json:"kind"`
	Page        Page          `json:"page"`
	Action      action.Action `json:"-"`
	Brand       string        `json:"brand"`
	BrandSource BrandSource   `json:"brandSource"`
	// Alias is the path segment that selected the page, empty for API
	// requests and the root.
	Alias string `json:"alias,omitempty"`
	// Route is the cleaned request path used for backend selection.
	Route string `json:"route"`
}

// ActionName is the wire name of the action, or "".
func (t Target) ActionName() string {
	if t.Kind != KindAPI {
		return ""
	}
	return t.Action.String()
}

// Dispatcher resolves paths against a brand registry and an alias table.
// It holds no mutable state.
type Dispatcher struct {
	table  *Table
	brands *brand.Registry
	logger *zap.Logger
}

// NewDispatcher creates a dispatcher. A nil logger uses the global one.
func NewDispatcher(table *Table, brands *brand.Registry, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Global()
	}
	return &Dispatcher{table: table, brands: brands, logger: logger.Named("router")}
}

// Table returns the alias table.
func (d *Dispatcher) Table() *Table {
	return d.table
}

// Dispatch maps path to a target. Accepted forms:
//
//	/                      public page, default brand
//	/{alias}               page, default brand
//	/{brand}               public page of brand
//	/{brand}/{alias}       page of brand
//	/api/{action}          action, brand from ?brand= or default
//	/{brand}/api/{action}  action of brand
//
// A brand segment that is present but unknown is BAD_INPUT; an unknown alias
// or action is NOT_FOUND. Unscoped pages reached without a brand segment read
// it from the brand query parameter.
func (d *Dispatcher) Dispatch(path string, query url.Values) (Target, error) {
	t, err := d.dispatch(path, query)
	if err != nil {
		d.logger.Debug("dispatch rejected",
			zap.String("path", path),
			zap.Error(err),
		)
		return Target{}, err
	}
	d.logger.Debug("dispatch",
		zap.String("path", path),
		zap.String("kind", string(t.Kind)),
		zap.String("brand", t.Brand),
		zap.String("brand_source", string(t.BrandSource)),
		zap.String("page", string(t.Page)),
		zap.String("action", t.ActionName()),
	)
	return t, nil
}

func (d *Dispatcher) dispatch(path string, query url.Values) (Target, error) {
	segs, ok := splitPath(path)
	if !ok {
		return Target{}, errors.ErrRouteNotFound
	}
	route := "/" + strings.Join(segs, "/")

	switch len(segs) {
	case 0:
		return Target{Kind: KindPage, Page: Public, Brand: d.brands.Default(), BrandSource: BrandFromDefault, Route: route}, nil

	case 1:
		seg := segs[0]
		if page, ok := d.table.Lookup(seg); ok {
			b, src := d.brands.Default(), BrandFromDefault
			if spec, _ := d.table.Spec(page); spec.Unscoped {
				var err error
				if b, src, err = d.queryBrand(query); err != nil {
					return Target{}, err
				}
			}
			return Target{Kind: KindPage, Page: page, Alias: seg, Brand: b, BrandSource: src, Route: route}, nil
		}
		if d.brands.IsValid(seg) {
			return Target{Kind: KindPage, Page: Public, Brand: seg, BrandSource: BrandFromPath, Route: route}, nil
		}
		return Target{}, errors.ErrRouteNotFound

	case 2:
		if segs[0] == apiSegment {
			b, src, err := d.queryBrand(query)
			if err != nil {
				return Target{}, err
			}
			return d.apiTarget(segs[1], b, src, route)
		}
		if !d.brands.IsValid(segs[0]) {
			return Target{}, unknownBrand(segs[0])
		}
		page, ok := d.table.Lookup(segs[1])
		if !ok {
			return Target{}, errors.NotFound("no page named %q", segs[1])
		}
		return Target{Kind: KindPage, Page: page, Alias: segs[1], Brand: segs[0], BrandSource: BrandFromPath, Route: route}, nil

	case 3:
		if segs[1] != apiSegment {
			return Target{}, errors.ErrRouteNotFound
		}
		if !d.brands.IsValid(segs[0]) {
			return Target{}, unknownBrand(segs[0])
		}
		return d.apiTarget(segs[2], segs[0], BrandFromPath, route)
	}
	return Target{}, errors.ErrRouteNotFound
}

func (d *Dispatcher) apiTarget(name, brandID string, src BrandSource, route string) (Target, error) {
	a, ok := action.Parse(name)
	if !ok {
		return Target{}, errors.NotFound("unknown action %q", name)
	}
	page, _ := d.table.Owner(a)
	return Target{Kind: KindAPI, Page: page, Action: a, Brand: brandID, BrandSource: src, Route: route}, nil
}

// queryBrand reads the brand query parameter. Absent means the default brand.
func (d *Dispatcher) queryBrand(query url.Values) (string, BrandSource, error) {
	id := query.Get("brand")
	if id == "" {
		return d.brands.Default(), BrandFromDefault, nil
	}
	if !d.brands.IsValid(id) {
		return "", "", unknownBrand(id)
	}
	return id, BrandFromQuery, nil
}

func unknownBrand(id string) error {
	return errors.ErrUnknownBrand.WithDetails("brand=" + id)
}

// splitPath trims one trailing slash and splits path into segments. Empty
// inner segments are rejected rather than collapsed.
func splitPath(path string) ([]string, bool) {
	if path == "" || path == "/" {
		return nil, true
	}
	if path[0] != '/' {
		return nil, false
	}
	path = strings.TrimSuffix(path[1:], "/")
	segs := strings.Split(path, "/")
	for _, s := range segs {
		if s == "" {
			return nil, false
		}
	}
	return segs, true
}
