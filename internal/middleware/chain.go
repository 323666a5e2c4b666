// Package middleware provides HTTP middleware implementations
package middleware

import (
	"net/http"

	"vexgate/internal/types"
)

// Chain implements the MiddlewareChain interface
type Chain struct {
	middlewares []types.Middleware
}

// NewChain creates a new middleware chain
func NewChain(middlewares ...types.Middleware) types.MiddlewareChain {
	return &Chain{
		middlewares: middlewares,
	}
}

// Use adds middleware to the chain
func (c *Chain) Use(middlewares ...types.Middleware) {
	c.middlewares = append(c.middlewares, middlewares...)
}

// Then creates the final handler by chaining all middleware
func (c *Chain) Then(handler http.Handler) http.Handler {
	// Apply middleware in reverse order so they execute in the order added
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		handler = c.middlewares[i](handler)
	}
	return handler
}

// Conditional applies middleware only when the condition holds
func Conditional(condition func(*http.Request) bool, middleware types.Middleware) types.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if condition(r) {
				middleware(next).ServeHTTP(w, r)
			} else {
				next.ServeHTTP(w, r)
			}
		})
	}
}
