// Package translate renders classified failures in the vocabulary of each public surface.
//
// Every classification maps to something on every surface; there is no code path that
// turns a failure into an empty success.
package translate

import (
	"net/http"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"polygate/status"
)

// HTTPStatus maps a classification to an HTTP status code.
func HTTPStatus(code status.Code) int {
	switch code {
	case status.OK:
		return http.StatusOK
	case status.NotFound:
		return http.StatusNotFound
	case status.InvalidArgument:
		return http.StatusBadRequest
	case status.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ErrorBody is the JSON body of every failed HTTP response.
type ErrorBody struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Status int    `json:"status"`
}

// HTTPBody classifies err and returns its HTTP status and body.
func HTTPBody(err error) (int, ErrorBody) {
	se := status.Convert(err)
	httpStatus := HTTPStatus(se.Code)
	return httpStatus, ErrorBody{
		Error:  se.Detail,
		Code:   se.Code.String(),
		Status: httpStatus,
	}
}

// GraphError classifies err as a graph error entry at path. The classification name is
// carried in extensions.code. A nil err yields nil.
func GraphError(err error, path ast.Path) *gqlerror.Error {
	if err == nil {
		return nil
	}
	se := status.Convert(err)
	return &gqlerror.Error{
		Message: se.Detail,
		Path:    path,
		Extensions: map[string]any{
			"code": se.Code.String(),
		},
	}
}

// InvalidGraphRequest classifies parse and validation errors from the graph layer as
// InvalidArgument, keeping their positions and messages.
func InvalidGraphRequest(errs gqlerror.List) gqlerror.List {
	for _, e := range errs {
		if e.Extensions == nil {
			e.Extensions = map[string]any{}
		}
		e.Extensions["code"] = status.InvalidArgument.String()
	}
	return errs
}
