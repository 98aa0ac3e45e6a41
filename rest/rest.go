// Package rest is the resource-oriented HTTP surface.
//
//	GET    /{collection}       200 + list
//	POST   /{collection}       201 + created record
//	GET    /{collection}/{id}  200 + record
//	PUT    /{collection}/{id}  200 + updated record
//	DELETE /{collection}/{id}  204, empty body
//
// Failures carry the classified HTTP status and a JSON body {"error","code","status"}.
package rest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"polygate/gateway"
	"polygate/metrics"
	"polygate/resource"
	"polygate/status"
	"polygate/translate"
)

// DefaultMaxBodyBytes bounds request bodies when no limit is configured.
const DefaultMaxBodyBytes int64 = 1 << 20

// Handler serves every resource collection.
type Handler struct {
	dispatcher   *gateway.Dispatcher
	maxBodyBytes int64
}

// Option configures a Handler.
type Option func(*Handler)

// WithMaxBodyBytes bounds request bodies; larger bodies are rejected with 413.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) { h.maxBodyBytes = n }
}

func New(d *gateway.Dispatcher, opts ...Option) *Handler {
	h := &Handler{dispatcher: d, maxBodyBytes: DefaultMaxBodyBytes}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the routes of every resource on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	for _, d := range resource.All() {
		collection := "/" + d.Collection
		item := collection + "/{id}"
		mux.Handle("GET "+collection, h.route(d, resource.OpList))
		mux.Handle("POST "+collection, h.route(d, resource.OpCreate))
		mux.Handle("GET "+item, h.route(d, resource.OpGetByID))
		mux.Handle("PUT "+item, h.route(d, resource.OpUpdate))
		mux.Handle("DELETE "+item, h.route(d, resource.OpDelete))
	}
}

func (h *Handler) route(d resource.Descriptor, op resource.Op) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := map[string]any{}
		if op == resource.OpCreate || op == resource.OpUpdate {
			body, err := h.decodeBody(r)
			if err != nil {
				h.fail(w, r, d, op, err)
				return
			}
			raw = body
		}
		// The path names the record; an id in the body never overrides it.
		if id := r.PathValue("id"); id != "" {
			raw[resource.IDField] = id
		}

		out, err := h.dispatcher.Handle(r.Context(), d, op, raw)
		if err != nil {
			h.fail(w, r, d, op, err)
			return
		}
		metrics.SurfaceRequests.WithLabelValues("http", string(d.Kind), string(op), status.OK.String()).Inc()

		switch op {
		case resource.OpList:
			writeJSON(w, http.StatusOK, out.Records)
		case resource.OpCreate:
			w.Header().Set("Location", fmt.Sprintf("/%s/%s", d.Collection, out.Record.Identity()))
			writeJSON(w, http.StatusCreated, out.Record)
		case resource.OpDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			writeJSON(w, http.StatusOK, out.Record)
		}
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, d resource.Descriptor, op resource.Op, err error) {
	var tooLarge *bodyTooLargeError
	isTooLarge := errors.As(err, &tooLarge)

	se := status.Convert(err)
	if isTooLarge {
		se = status.New(status.InvalidArgument, tooLarge.Error())
	}
	metrics.SurfaceRequests.WithLabelValues("http", string(d.Kind), string(op), se.Code.String()).Inc()

	logger := zerolog.Ctx(r.Context())
	event := logger.Warn()
	if se.Code == status.Internal || se.Code == status.Unavailable {
		event = logger.Error()
	}
	event.Str("resource", string(d.Kind)).Str("op", string(op)).Stringer("code", se.Code).
		Str("detail", se.Detail).Msg("request failed")

	if isTooLarge {
		writeJSON(w, http.StatusRequestEntityTooLarge, translate.ErrorBody{
			Error:  se.Detail,
			Code:   se.Code.String(),
			Status: http.StatusRequestEntityTooLarge,
		})
		return
	}
	writeError(w, se)
}

type bodyTooLargeError struct{ limit int64 }

func (e *bodyTooLargeError) Error() string {
	return fmt.Sprintf("request body exceeds maximum size of %d bytes", e.limit)
}

// decodeBody reads a JSON object body. Numbers stay json.Number so integer fields are
// checked exactly.
func (h *Handler) decodeBody(r *http.Request) (map[string]any, error) {
	defer r.Body.Close()

	data, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodyBytes+1))
	if err != nil {
		return nil, status.New(status.InvalidArgument, "failed to read request body")
	}
	if int64(len(data)) > h.maxBodyBytes {
		return nil, &bodyTooLargeError{limit: h.maxBodyBytes}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, status.New(status.InvalidArgument, "request body is empty")
		}
		return nil, status.Newf(status.InvalidArgument, "malformed JSON body: %v", err)
	}
	if dec.More() {
		return nil, status.New(status.InvalidArgument, "unexpected data after JSON body")
	}
	if body == nil {
		return nil, status.New(status.InvalidArgument, "request body must be a JSON object")
	}
	return body, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
