// Package gateway holds the Dispatcher, the one place both public surfaces meet the
// backends.
//
// A surface parses its request into (resource, operation, raw arguments), hands them to
// Handle, and renders the Outcome or the classified error it gets back. The Dispatcher
// keeps no state between requests; concurrent requests against the same id proceed
// independently and the backend decides which write lands last.
package gateway

import (
	"context"

	"polygate/resource"
	"polygate/status"
)

// Backend is the RPC client for one resource. *client.ResourceClient implements it.
type Backend interface {
	List(ctx context.Context) ([]resource.Record, error)
	GetByID(ctx context.Context, id string) (resource.Record, error)
	Create(ctx context.Context, rec resource.Record) (resource.Record, error)
	Update(ctx context.Context, rec resource.Record) (resource.Record, error)
	Delete(ctx context.Context, id string) error
}

// Outcome is the successful result of one call.
//
//   - OpList:                        Records (never nil)
//   - OpGetByID, OpCreate, OpUpdate: Record
//   - OpDelete:                      Deleted
type Outcome struct {
	Op      resource.Op
	Record  resource.Record
	Records []resource.Record
	Deleted bool
}

// Dispatcher routes each call to the backend owning its resource.
type Dispatcher struct {
	backends map[resource.Kind]Backend
}

// New builds a Dispatcher over explicitly constructed backends.
func New(products, users Backend) *Dispatcher {
	return &Dispatcher{backends: map[resource.Kind]Backend{
		resource.KindProduct: products,
		resource.KindUser:    users,
	}}
}

// Handle validates raw against the shape of op and dispatches it. Missing or mistyped
// arguments fail with InvalidArgument before any backend is contacted.
func (d *Dispatcher) Handle(ctx context.Context, desc resource.Descriptor, op resource.Op, raw map[string]any) (Outcome, error) {
	call, err := resource.Bind(desc, op, raw)
	if err != nil {
		return Outcome{}, err
	}
	return d.Dispatch(ctx, call)
}

// Dispatch invokes call against its backend. Every error returned is a *status.Error.
func (d *Dispatcher) Dispatch(ctx context.Context, call resource.Call) (Outcome, error) {
	backend, ok := d.backends[call.Resource.Kind]
	if !ok || backend == nil {
		return Outcome{}, status.Newf(status.Internal, "no backend for resource %q", call.Resource.Kind)
	}

	out := Outcome{Op: call.Op}
	var err error
	switch call.Op {
	case resource.OpList:
		out.Records, err = backend.List(ctx)
		if err == nil && out.Records == nil {
			out.Records = []resource.Record{}
		}
	case resource.OpGetByID:
		out.Record, err = backend.GetByID(ctx, call.ID)
	case resource.OpCreate:
		out.Record, err = backend.Create(ctx, call.Record)
	case resource.OpUpdate:
		out.Record, err = backend.Update(ctx, call.Record)
	case resource.OpDelete:
		err = backend.Delete(ctx, call.ID)
		out.Deleted = err == nil
	default:
		return Outcome{}, status.Newf(status.InvalidArgument, "unknown operation %q", call.Op)
	}
	if err != nil {
		return Outcome{}, status.Convert(err)
	}

	switch call.Op {
	case resource.OpGetByID, resource.OpCreate, resource.OpUpdate:
		if out.Record == nil {
			return Outcome{}, status.Newf(status.Internal, "%s backend returned no %s", call.Resource.TypeName, call.Resource.Singular)
		}
	}
	return out, nil
}
