package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"muxrpc/envelope"
)

// Logging logs every request with its method, kind, duration, and outcome.
func Logging(log *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *envelope.Envelope) *envelope.Envelope {
			start := time.Now()
			resp := next(ctx, req)

			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.Uint32("seq", req.Seq),
				zap.Stringer("kind", req.Kind),
				zap.Duration("duration", time.Since(start)),
			}
			if resp != nil && resp.Kind == envelope.KindException {
				log.Warn("request failed", fields...)
			} else {
				log.Info("request handled", fields...)
			}
			return resp
		}
	}
}
