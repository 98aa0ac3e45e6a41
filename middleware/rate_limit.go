package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"polygate/message"
	"polygate/status"
)

// RateLimit admits at most r requests per second with bursts of up to burst, using a
// token bucket shared by every connection. Rejected requests fail with Unavailable.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) *message.Envelope {
			if !limiter.Allow() {
				return message.Fail(req.Operation, status.New(status.Unavailable, "rate limit exceeded"))
			}
			return next(ctx, req)
		}
	}
}
