// Package middleware provides the server-side handler chain.
//
// A middleware wraps a HandlerFunc in the onion model:
//
//	Chain(A, B, C)(handler) → A(B(C(handler)))
//
// so A sees the request first and the response last. Middlewares work at the
// envelope level; a middleware that rejects a request answers with an
// exception envelope itself, without invoking the rest of the chain.
package middleware

import (
	"context"

	"muxrpc/envelope"
)

// HandlerFunc processes one request envelope and returns the response
// envelope, or nil when no reply must be sent (one-way requests).
type HandlerFunc func(ctx context.Context, req *envelope.Envelope) *envelope.Envelope

// Middleware wraps a HandlerFunc with additional behavior.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one. The first argument becomes the
// outermost layer.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
