package middleware

import (
	"context"
	"time"

	"muxrpc/envelope"
)

// Timeout bounds handler execution. On expiry the caller gets a
// DeadlineExceeded fault immediately; the handler goroutine keeps running to
// completion and its eventual result is discarded.
func Timeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *envelope.Envelope) *envelope.Envelope {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			done := make(chan *envelope.Envelope, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				if req.Kind == envelope.KindOneway {
					return nil
				}
				return envelope.FaultReply(req, envelope.FaultDeadlineExceeded, "handler deadline exceeded")
			}
		}
	}
}
