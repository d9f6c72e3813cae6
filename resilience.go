// Package resilience provides a modular middleware library for wrapping
// outbound API calls with caching, retries, circuit breaking, rate limiting
// and metrics collection.
package resilience

import (
	"context"
)

// Operation represents one deferred external call.
type Operation func(ctx context.Context) (interface{}, error)

// CallInfo carries the identity of the call being wrapped.
// Service keys rate limiters and circuit breakers; Method and Args feed
// cache key derivation and metrics labels.
type CallInfo struct {
	Service string
	Method  string
	Args    []interface{}
}

// Middleware wraps an Operation and returns the call result.
// It may short-circuit (cache hit, open breaker) or invoke op one or more
// times (retries).
type Middleware func(ctx context.Context, info *CallInfo, op Operation) (interface{}, error)

// Chain represents a chain of middleware.
type Chain struct {
	middlewares []Middleware
}

// NewChain creates a new middleware chain.
func NewChain(middlewares ...Middleware) *Chain {
	return &Chain{
		middlewares: middlewares,
	}
}

// Append adds middleware to the end of the chain.
func (c *Chain) Append(middlewares ...Middleware) *Chain {
	c.middlewares = append(c.middlewares, middlewares...)
	return c
}

// Prepend adds middleware to the beginning of the chain.
func (c *Chain) Prepend(middlewares ...Middleware) *Chain {
	c.middlewares = append(middlewares, c.middlewares...)
	return c
}

// Wrap returns an Operation that executes the chain around op.
func (c *Chain) Wrap(info *CallInfo, op Operation) Operation {
	// Build the chain of operations
	currentOp := op

	// Apply middleware in reverse order so they execute in the correct order
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		middleware := c.middlewares[i]
		next := currentOp

		currentOp = func(ctx context.Context) (interface{}, error) {
			return middleware(ctx, info, next)
		}
	}

	return currentOp
}

// Execute runs op through the chain once.
func (c *Chain) Execute(ctx context.Context, info *CallInfo, op Operation) (interface{}, error) {
	return c.Wrap(info, op)(ctx)
}

// Compose creates a single middleware from multiple middlewares.
func Compose(middlewares ...Middleware) Middleware {
	return func(ctx context.Context, info *CallInfo, op Operation) (interface{}, error) {
		currentOp := op

		for i := len(middlewares) - 1; i >= 0; i-- {
			middleware := middlewares[i]
			next := currentOp

			currentOp = func(ctx context.Context) (interface{}, error) {
				return middleware(ctx, info, next)
			}
		}

		return currentOp(ctx)
	}
}
