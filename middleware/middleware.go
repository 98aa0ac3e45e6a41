// Package middleware wraps the backend server's request handler in an onion of
// cross-cutting concerns.
//
//	Chain(A, B, C)(handler) → A(B(C(handler)))
//	Execution order: A.before → B.before → C.before → handler → C.after → B.after → A.after
//
// Handlers never return Go errors: a failure travels in the response envelope, already
// classified, so every layer sees the same shape.
package middleware

import (
	"context"

	"polygate/message"
)

type HandlerFunc func(ctx context.Context, req *message.Envelope) *message.Envelope

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares; the first one is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
