package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"muxrpc/envelope"
)

// RateLimit rejects requests beyond r per second (bursting to burst) with a
// RateLimited fault. Token bucket, shared across all connections.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *envelope.Envelope) *envelope.Envelope {
			if !limiter.Allow() {
				if req.Kind == envelope.KindOneway {
					return nil // one-way requests are dropped silently
				}
				return envelope.FaultReply(req, envelope.FaultRateLimited, "rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
