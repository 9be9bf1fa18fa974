// Package middleware holds the HTTP middlewares wrapped around the edge
// pipeline.
package middleware

import "net/http"

// Middleware is a function that wraps an http.Handler
type Middleware func(http.Handler) http.Handler

// Chain represents a chain of middlewares
type Chain struct {
	middlewares []Middleware
}

// NewChain creates a new middleware chain
func NewChain(middlewares ...Middleware) *Chain {
	return &Chain{middlewares: middlewares}
}

// Then wraps h so the first middleware is outermost. A nil h answers 404.
func (c *Chain) Then(h http.Handler) http.Handler {
	if h == nil {
		h = http.NotFoundHandler()
	}
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		h = c.middlewares[i](h)
	}
	return h
}

// Append returns a new chain with middlewares added at the end.
func (c *Chain) Append(middlewares ...Middleware) *Chain {
	out := make([]Middleware, 0, len(c.middlewares)+len(middlewares))
	out = append(out, c.middlewares...)
	out = append(out, middlewares...)
	return &Chain{middlewares: out}
}

// Len returns the number of middlewares in the chain
func (c *Chain) Len() int {
	return len(c.middlewares)
}

// Builder assembles a chain from optional parts.
type Builder struct {
	middlewares []Middleware
}

// NewBuilder creates a new middleware builder
func NewBuilder() *Builder {
	return &Builder{}
}

// Use adds a middleware to the builder
func (b *Builder) Use(m Middleware) *Builder {
	b.middlewares = append(b.middlewares, m)
	return b
}

// UseIf adds a middleware conditionally
func (b *Builder) UseIf(condition bool, m Middleware) *Builder {
	if condition {
		b.Use(m)
	}
	return b
}

// Build creates a Chain from the builder
func (b *Builder) Build() *Chain {
	return NewChain(b.middlewares...)
}

// Handler wraps h with all middlewares.
func (b *Builder) Handler(h http.Handler) http.Handler {
	return b.Build().Then(h)
}
