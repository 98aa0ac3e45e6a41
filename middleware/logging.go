package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"polygate/message"
	"polygate/metrics"
	"polygate/status"
)

// Logging records every request with its duration and result code, and counts it in
// metrics.RPCRequests. Failures log at warn, except Internal which logs at error.
func Logging(logger zerolog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) *message.Envelope {
			start := time.Now()
			resp := next(ctx, req)
			duration := time.Since(start)

			code := status.OK
			if err := resp.Err(); err != nil {
				code = err.Code
			}
			metrics.RPCRequests.WithLabelValues(req.Operation, code.String()).Inc()

			var event *zerolog.Event
			switch code {
			case status.OK:
				event = logger.Debug()
			case status.Internal:
				event = logger.Error().Str("detail", resp.Failure.Detail)
			default:
				event = logger.Warn().Str("detail", resp.Failure.Detail)
			}
			event.Str("operation", req.Operation).
				Dur("duration", duration).
				Stringer("code", code).
				Msg("rpc request")
			return resp
		}
	}
}
