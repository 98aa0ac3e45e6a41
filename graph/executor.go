package graph

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/99designs/gqlgen/graphql"
	"github.com/rs/zerolog"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/validator"
	"golang.org/x/sync/errgroup"

	"polygate/gateway"
	"polygate/metrics"
	"polygate/resource"
	"polygate/status"
	"polygate/translate"
)

const typenameField = "__typename"

// Request is the body of a graph request.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// Executor resolves graph operations against the Dispatcher.
//
// Root fields of a query resolve concurrently; root fields of a mutation resolve one after
// another in document order. A root field whose call fails resolves to null and adds one
// error entry carrying the classification in extensions.code.
type Executor struct {
	dispatcher *gateway.Dispatcher
	schema     *ast.Schema
	roots      rootFields
}

func NewExecutor(d *gateway.Dispatcher) *Executor {
	return &Executor{
		dispatcher: d,
		schema:     Schema(),
		roots:      buildRootFields(),
	}
}

// Execute runs req. Parse and validation failures return a response with no data and
// errors classified InvalidArgument.
func (e *Executor) Execute(ctx context.Context, req Request) *graphql.Response {
	doc, errs := gqlparser.LoadQuery(e.schema, req.Query)
	if len(errs) > 0 {
		return rejected(errs)
	}

	op := doc.Operations.ForName(req.OperationName)
	if op == nil {
		if req.OperationName == "" {
			return rejected(gqlerror.List{gqlerror.Errorf("operationName is required when the document has several operations")})
		}
		return rejected(gqlerror.List{gqlerror.Errorf("operation %q not found", req.OperationName)})
	}

	vars, err := validator.VariableValues(e.schema, op, req.Variables)
	if err != nil {
		var gerr *gqlerror.Error
		if !errors.As(err, &gerr) {
			gerr = gqlerror.Errorf("%s", err)
		}
		return rejected(gqlerror.List{gerr})
	}

	run := &execution{
		Executor: e,
		opCtx: &graphql.OperationContext{
			RawQuery:      req.Query,
			Variables:     vars,
			OperationName: req.OperationName,
			Doc:           doc,
			Operation:     op,
		},
	}

	var data graphql.Marshaler
	switch op.Operation {
	case ast.Query:
		data = run.root(ctx, queryType, e.roots.queries, true)
	case ast.Mutation:
		data = run.root(ctx, mutationType, e.roots.mutations, false)
	default:
		return rejected(gqlerror.List{gqlerror.Errorf("%s operations are not supported", op.Operation)})
	}

	var buf bytes.Buffer
	data.MarshalGQL(&buf)
	return &graphql.Response{Data: buf.Bytes(), Errors: run.collected()}
}

// Rejected reports whether resp is a request-level failure with no data.
func Rejected(resp *graphql.Response) bool {
	return resp.Data == nil && len(resp.Errors) > 0
}

func rejected(errs gqlerror.List) *graphql.Response {
	return &graphql.Response{Errors: translate.InvalidGraphRequest(errs)}
}

// execution is the state of one operation.
type execution struct {
	*Executor
	opCtx *graphql.OperationContext

	mu   sync.Mutex
	errs gqlerror.List
}

func (x *execution) addError(err *gqlerror.Error) {
	x.mu.Lock()
	x.errs = append(x.errs, err)
	x.mu.Unlock()
}

func (x *execution) collected() gqlerror.List {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.errs
}

func (x *execution) root(ctx context.Context, typeName string, table map[string]rootField, concurrent bool) graphql.Marshaler {
	fields := graphql.CollectFields(x.opCtx, x.opCtx.Operation.SelectionSet, []string{typeName})
	out := graphql.NewFieldSet(fields)

	var g errgroup.Group
	for i, f := range fields {
		if f.Name == typenameField {
			out.Values[i] = graphql.MarshalString(typeName)
			continue
		}
		if v, ok := x.introspectRoot(f); ok {
			out.Values[i] = v
			continue
		}
		rf, ok := table[f.Name]
		if !ok {
			out.Values[i] = graphql.Null
			x.addError(translate.GraphError(status.Newf(status.InvalidArgument, "field %q is not supported", f.Name), ast.Path{ast.PathName(f.Alias)}))
			continue
		}
		resolve := func() error {
			out.Values[i] = x.resolveRoot(ctx, rf, f)
			return nil
		}
		if concurrent {
			g.Go(resolve)
		} else {
			resolve()
		}
	}
	g.Wait()
	return out
}

func (x *execution) resolveRoot(ctx context.Context, rf rootField, f graphql.CollectedField) graphql.Marshaler {
	path := ast.Path{ast.PathName(f.Alias)}
	outcome, err := x.dispatcher.Handle(ctx, rf.desc, rf.op, f.ArgumentMap(x.opCtx.Variables))

	code := status.CodeOf(err)
	metrics.SurfaceRequests.WithLabelValues("graph", string(rf.desc.Kind), string(rf.op), code.String()).Inc()
	if err != nil {
		gerr := translate.GraphError(err, path)
		logger := zerolog.Ctx(ctx)
		event := logger.Warn()
		if code == status.Internal || code == status.Unavailable {
			event = logger.Error()
		}
		event.Str("field", f.Name).Str("op", string(rf.op)).Stringer("code", code).
			Str("detail", gerr.Message).Msg("graph field failed")
		x.addError(gerr)
		return graphql.Null
	}

	switch rf.op {
	case resource.OpList:
		list := make(graphql.Array, len(outcome.Records))
		for i, rec := range outcome.Records {
			list[i] = x.record(rf.desc, rec, f.Selections)
		}
		return list
	case resource.OpDelete:
		return graphql.MarshalBoolean(outcome.Deleted)
	default:
		return x.record(rf.desc, outcome.Record, f.Selections)
	}
}

func (x *execution) record(d resource.Descriptor, rec resource.Record, sel ast.SelectionSet) graphql.Marshaler {
	fields := graphql.CollectFields(x.opCtx, sel, []string{d.TypeName})
	out := graphql.NewFieldSet(fields)
	for i, f := range fields {
		if f.Name == typenameField {
			out.Values[i] = graphql.MarshalString(d.TypeName)
			continue
		}
		v, _ := rec.Get(f.Name)
		out.Values[i] = scalar(v)
	}
	return out
}

func scalar(v any) graphql.Marshaler {
	switch v := v.(type) {
	case string:
		return graphql.MarshalString(v)
	case int64:
		return graphql.MarshalInt64(v)
	case int:
		return graphql.MarshalInt(v)
	case bool:
		return graphql.MarshalBoolean(v)
	}
	return graphql.Null
}
