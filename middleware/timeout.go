package middleware

import (
	"context"
	"time"

	"polygate/message"
	"polygate/status"
)

// Timeout bounds every request to at most d, on top of whatever deadline the caller sent.
// A handler that outlives its deadline is abandoned and the caller gets Unavailable; the
// handler's context is cancelled so it can stop early.
func Timeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) *message.Envelope {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return runUntilDone(ctx, next, req)
		}
	}
}

// Deadline enforces the deadline carried in the request envelope. Requests without one
// pass straight through.
func Deadline() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) *message.Envelope {
			if req.DeadlineMillis == 0 {
				return next(ctx, req)
			}
			ctx, cancel := context.WithTimeout(ctx, time.Duration(req.DeadlineMillis)*time.Millisecond)
			defer cancel()
			return runUntilDone(ctx, next, req)
		}
	}
}

func runUntilDone(ctx context.Context, next HandlerFunc, req *message.Envelope) *message.Envelope {
	done := make(chan *message.Envelope, 1)
	go func() {
		done <- next(ctx, req)
	}()

	select {
	case resp := <-done:
		return resp
	case <-ctx.Done():
		return message.Fail(req.Operation, status.Convert(ctx.Err()))
	}
}
