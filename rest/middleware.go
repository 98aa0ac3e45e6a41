package rest

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"polygate/metrics"
	"polygate/status"
	"polygate/translate"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// requestID returns the caller's request id or a fresh one.
func requestID(r *http.Request) string {
	if id := r.Header.Get(RequestIDHeader); id != "" {
		return id
	}
	return uuid.NewString()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

// Instrument wraps every public endpoint of surface ("http", "graph"): it echoes or
// assigns X-Request-ID, attaches a request-scoped logger to the context, recovers
// panics as Internal failures and writes one access log line per request.
func Instrument(surface string, logger zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := requestID(r)
		w.Header().Set(RequestIDHeader, id)

		reqLog := logger.With().Str("request_id", id).Str("surface", surface).Logger()
		r = r.WithContext(reqLog.WithContext(r.Context()))
		rec := &statusRecorder{ResponseWriter: w}

		defer func() {
			if p := recover(); p != nil {
				reqLog.Error().Interface("panic", p).Str("path", r.URL.Path).Msg("handler panicked")
				if rec.status == 0 {
					writeError(rec, status.New(status.Internal, "internal error"))
				}
			}

			if rec.status == 0 {
				rec.status = http.StatusOK
			}
			duration := time.Since(start)
			metrics.SurfaceDuration.WithLabelValues(surface).Observe(duration.Seconds())
			reqLog.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Int("bytes", rec.bytes).
				Dur("duration", duration).
				Msg("request")
		}()

		next.ServeHTTP(rec, r)
	})
}

// writeError renders err with its classified HTTP status and error body.
func writeError(w http.ResponseWriter, err error) {
	code, body := translate.HTTPBody(err)
	writeJSON(w, code, body)
}
