package edge

import (
	"context"
	"encoding/json"

	"github.com/zeventbooks/eventangle-edge/internal/brand"
	"github.com/zeventbooks/eventangle-edge/internal/environment"
	"github.com/zeventbooks/eventangle-edge/internal/router"
)

// PageRequest is what a renderer learns about a page request.
type PageRequest struct {
	Page        router.Page             `json:"page"`
	Alias       string                  `json:"alias,omitempty"`
	Brand       brand.Metadata          `json:"brand"`
	BrandSource string                  `json:"brandSource"`
	Environment environment.Environment `json:"environment"`
	Backend     string                  `json:"backend"`
	Actions     []string                `json:"actions"`
}

// Renderer produces the payload for a page. HTML surfaces live outside the
// edge and plug in here.
type Renderer interface {
	Render(ctx context.Context, req PageRequest) ([]byte, error)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, req PageRequest) ([]byte, error)

// Render calls f.
func (f RendererFunc) Render(ctx context.Context, req PageRequest) ([]byte, error) {
	return f(ctx, req)
}

// DescriptorRenderer answers with the page request itself as JSON, which
// is enough for a client-side shell to bootstrap.
type DescriptorRenderer struct{}

// Render implements Renderer.
func (DescriptorRenderer) Render(_ context.Context, req PageRequest) ([]byte, error) {
	return json.Marshal(req)
}
