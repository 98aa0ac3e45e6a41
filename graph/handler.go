package graph

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/99designs/gqlgen/graphql"
	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// DefaultMaxBodyBytes bounds request bodies when no limit is configured.
const DefaultMaxBodyBytes int64 = 1 << 20

// Handler serves the graph endpoint: POST executes, GET serves the playground when enabled.
type Handler struct {
	exec         *Executor
	playground   http.Handler
	maxBodyBytes int64
}

type Option func(*Handler)

// WithPlayground serves the interactive playground on GET, pointed at endpoint.
func WithPlayground(endpoint string) Option {
	return func(h *Handler) {
		h.playground = playground.Handler("polygate", endpoint)
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) { h.maxBodyBytes = n }
}

func NewHandler(exec *Executor, opts ...Option) *Handler {
	h := &Handler{exec: exec, maxBodyBytes: DefaultMaxBodyBytes}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost:
		h.execute(w, r)
	case r.Method == http.MethodGet && h.playground != nil:
		h.playground.ServeHTTP(w, r)
	default:
		w.Header().Set("Allow", h.allowed())
		writeResponse(w, http.StatusMethodNotAllowed, rejected(gqlerror.List{gqlerror.Errorf("method %s not allowed", r.Method)}))
	}
}

func (h *Handler) allowed() string {
	if h.playground != nil {
		return "GET, POST"
	}
	return http.MethodPost
}

func (h *Handler) execute(w http.ResponseWriter, r *http.Request) {
	req, err := h.decode(r)
	if err != nil {
		code := http.StatusBadRequest
		var tooLarge *bodyTooLargeError
		if errors.As(err, &tooLarge) {
			code = http.StatusRequestEntityTooLarge
		}
		writeResponse(w, code, rejected(gqlerror.List{gqlerror.Errorf("%s", err)}))
		return
	}

	resp := h.exec.Execute(r.Context(), req)
	code := http.StatusOK
	if Rejected(resp) {
		code = http.StatusBadRequest
	}
	writeResponse(w, code, resp)
}

type bodyTooLargeError struct{}

func (*bodyTooLargeError) Error() string { return "request body too large" }

func (h *Handler) decode(r *http.Request) (Request, error) {
	defer r.Body.Close()

	data, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodyBytes+1))
	if err != nil {
		return Request{}, errors.New("failed to read request body")
	}
	if int64(len(data)) > h.maxBodyBytes {
		return Request{}, &bodyTooLargeError{}
	}

	var req Request
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return Request{}, errors.New("malformed JSON body")
	}
	if req.Query == "" {
		return Request{}, errors.New("query is required")
	}
	return req, nil
}

func writeResponse(w http.ResponseWriter, code int, resp *graphql.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}
