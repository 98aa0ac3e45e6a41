package resource

import (
	"encoding/json"
	"fmt"
	"math"

	"polygate/status"
)

// Call is a fully parsed and validated request against one resource.
//
//   - OpList:              no ID, no Record
//   - OpGetByID, OpDelete: ID set
//   - OpCreate:            Record set, identity empty
//   - OpUpdate:            ID set, Record set with the same identity
type Call struct {
	Resource Descriptor
	Op       Op
	ID       string
	Record   Record
}

// Bind validates raw arguments against the shape of op and builds a Call.
//
// Every mandatory argument must be present and of the declared scalar type. Arguments
// outside the shape are ignored; in particular a client-supplied id on Create is dropped,
// since ids only ever come from the backend.
func Bind(d Descriptor, op Op, raw map[string]any) (Call, error) {
	call := Call{Resource: d, Op: op}

	switch op {
	case OpList:
		return call, nil
	case OpGetByID, OpCreate, OpUpdate, OpDelete:
	default:
		return Call{}, status.Newf(status.InvalidArgument, "unknown operation %q", op)
	}

	var rec Record
	if op == OpCreate || op == OpUpdate {
		rec = d.New()
	}

	for _, f := range d.Args(op) {
		v, ok := raw[f.Name]
		if !ok || v == nil {
			return Call{}, status.Newf(status.InvalidArgument, "missing mandatory field %q", f.Name)
		}
		if f.Name == IDField {
			id, err := asID(v)
			if err != nil {
				return Call{}, err
			}
			call.ID = id
			continue
		}
		if err := rec.Set(f.Name, v); err != nil {
			return Call{}, status.New(status.InvalidArgument, err.Error())
		}
	}

	if rec != nil {
		rec.SetIdentity(call.ID)
		call.Record = rec
	}
	return call, nil
}

func asID(v any) (string, error) {
	switch id := v.(type) {
	case string:
		if id == "" {
			return "", status.New(status.InvalidArgument, "field \"id\" must not be empty")
		}
		return id, nil
	case json.Number:
		return id.String(), nil
	}
	return "", status.Newf(status.InvalidArgument, "field \"id\" must be a String, got %T", v)
}

func asString(field string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q must be a String, got %T", field, v)
	}
	return s, nil
}

func asInt(field string, v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("field %q must be an Int, got %s", field, n)
		}
		return i, nil
	case float64:
		if n != math.Trunc(n) || n > math.MaxInt64 || n < math.MinInt64 {
			return 0, fmt.Errorf("field %q must be an Int, got %v", field, n)
		}
		return int64(n), nil
	}
	return 0, fmt.Errorf("field %q must be an Int, got %T", field, v)
}
