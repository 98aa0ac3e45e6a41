// Package message defines the RPC envelope exchanged between the gateway and a backend.
//
// Envelope is serialized by the codec layer and wrapped in a protocol frame for transmission.
package message

import "polygate/status"

// Envelope carries one RPC request or response.
//
//   - On request:  Operation is "Service.Op", Payload holds the JSON arguments and
//     DeadlineMillis the remaining time budget (0 means none).
//   - On response: Payload holds the JSON reply, or Failure is set and Payload is empty.
type Envelope struct {
	Operation      string
	Payload        []byte
	DeadlineMillis uint32
	Failure        *Failure
}

// Failure is the classified error half of a response.
type Failure struct {
	Code   status.Code
	Detail string
}

// Fail builds a response envelope from a classified error.
func Fail(operation string, err *status.Error) *Envelope {
	return &Envelope{
		Operation: operation,
		Failure:   &Failure{Code: err.Code, Detail: err.Detail},
	}
}

// Err returns the failure as a *status.Error, or nil when the envelope succeeded.
func (e *Envelope) Err() *status.Error {
	if e.Failure == nil || e.Failure.Code == status.OK {
		return nil
	}
	return status.New(e.Failure.Code, e.Failure.Detail)
}
