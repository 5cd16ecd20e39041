package middleware

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"muxrpc/envelope"
)

// Recovery converts a handler panic into an Internal fault so one broken
// request cannot take down the connection's other in-flight requests.
func Recovery(log *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *envelope.Envelope) (resp *envelope.Envelope) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("handler panicked",
						zap.String("method", req.Method),
						zap.Uint32("seq", req.Seq),
						zap.Any("panic", r))
					if req.Kind == envelope.KindOneway {
						resp = nil
						return
					}
					resp = envelope.FaultReply(req, envelope.FaultInternal, fmt.Sprintf("handler panic: %v", r))
				}
			}()
			return next(ctx, req)
		}
	}
}
