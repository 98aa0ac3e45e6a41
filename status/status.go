// Package status defines the failure classification shared by the RPC layer and both
// public surfaces.
//
// Every non-success outcome of a backend call is exactly one of NotFound, InvalidArgument,
// Internal or Unavailable, plus a human-readable detail string. The classification travels
// inside the RPC envelope as a single byte and is translated at the edge into whatever the
// calling surface understands (HTTP status, graph error entry).
package status

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
)

// Code is a failure classification. OK is only used on the wire to mean "no failure".
type Code uint8

const (
	OK              Code = 0
	NotFound        Code = 1
	InvalidArgument Code = 2
	Internal        Code = 3
	Unavailable     Code = 4
)

var codeNames = map[Code]string{
	OK:              "OK",
	NotFound:        "NotFound",
	InvalidArgument: "InvalidArgument",
	Internal:        "Internal",
	Unavailable:     "Unavailable",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", uint8(c))
}

// Normalize maps a code read off the wire into the closed set. Unknown values
// classify as Internal.
func Normalize(c Code) Code {
	if _, ok := codeNames[c]; ok {
		return c
	}
	return Internal
}

// Error is a classified failure.
type Error struct {
	Code   Code
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// Is lets errors.Is match on classification alone, e.g. errors.Is(err, status.New(NotFound, "")).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func New(code Code, detail string) *Error {
	return &Error{Code: code, Detail: detail}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// Convert classifies an arbitrary error. A nil error converts to nil.
//
// Deadline, cancellation and connection-level errors become Unavailable; anything that
// is not already classified becomes Internal.
func Convert(err error) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return New(Unavailable, "deadline exceeded")
	case errors.Is(err, context.Canceled):
		return New(Unavailable, "call cancelled")
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		return New(Unavailable, "connection closed: "+err.Error())
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return New(Unavailable, err.Error())
	}
	return New(Internal, err.Error())
}

// CodeOf returns OK for nil and the classification of err otherwise.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	return Convert(err).Code
}

// IsNotFound reports whether err classifies as NotFound.
func IsNotFound(err error) bool {
	return CodeOf(err) == NotFound
}
