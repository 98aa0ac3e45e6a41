package graph

import (
	"reflect"
	"strings"

	"github.com/99designs/gqlgen/graphql"
	"github.com/99designs/gqlgen/graphql/introspection"
	"github.com/vektah/gqlparser/v2/ast"
)

const (
	schemaField = "__schema"
	typeField   = "__type"
)

// introspectRoot resolves the __schema and __type root fields.
func (x *execution) introspectRoot(f graphql.CollectedField) (graphql.Marshaler, bool) {
	switch f.Name {
	case schemaField:
		return x.introspect(reflect.ValueOf(introspection.WrapSchema(x.schema)), f.Selections), true
	case typeField:
		name, _ := f.ArgumentMap(x.opCtx.Variables)["name"].(string)
		return x.introspect(reflect.ValueOf(x.lookupType(name)), f.Selections), true
	}
	return nil, false
}

func (x *execution) lookupType(name string) *introspection.Type {
	def, ok := x.schema.Types[name]
	if !ok {
		return nil
	}
	return introspection.WrapTypeFromDef(x.schema, def)
}

// introspect renders a value from the introspection package. Objects are named
// __<Go type name>, matching the prelude types __Schema, __Type, __Field and so on.
func (x *execution) introspect(v reflect.Value, sel ast.SelectionSet) graphql.Marshaler {
	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return graphql.Null
		}
		if v.Elem().Kind() == reflect.Struct {
			return x.object(v, sel)
		}
		return x.introspect(v.Elem(), sel)
	case reflect.Struct:
		if v.CanAddr() {
			return x.object(v.Addr(), sel)
		}
		p := reflect.New(v.Type())
		p.Elem().Set(v)
		return x.object(p, sel)
	case reflect.Slice:
		if v.IsNil() {
			return graphql.Null
		}
		list := make(graphql.Array, v.Len())
		for i := range list {
			list[i] = x.introspect(v.Index(i), sel)
		}
		return list
	case reflect.String:
		return graphql.MarshalString(v.String())
	case reflect.Bool:
		return graphql.MarshalBoolean(v.Bool())
	}
	return graphql.Null
}

func (x *execution) object(p reflect.Value, sel ast.SelectionSet) graphql.Marshaler {
	typeName := "__" + p.Elem().Type().Name()
	fields := graphql.CollectFields(x.opCtx, sel, []string{typeName})
	out := graphql.NewFieldSet(fields)
	for i, f := range fields {
		if f.Name == typenameField {
			out.Values[i] = graphql.MarshalString(typeName)
			continue
		}
		out.Values[i] = x.introspect(member(p, f.Name, f.ArgumentMap(x.opCtx.Variables)), f.Selections)
	}
	return out
}

// member reads the graph field name from p, preferring a method over a struct field.
// Names match case-insensitively so specifiedByURL finds SpecifiedByURL.
func member(p reflect.Value, name string, args map[string]any) reflect.Value {
	for i := 0; i < p.NumMethod(); i++ {
		if !strings.EqualFold(p.Type().Method(i).Name, name) {
			continue
		}
		fn := p.Method(i)
		in := make([]reflect.Value, fn.Type().NumIn())
		for j := range in {
			// includeDeprecated is the only argument any introspection method takes.
			if fn.Type().In(j).Kind() != reflect.Bool {
				return reflect.Value{}
			}
			b, _ := args["includeDeprecated"].(bool)
			in[j] = reflect.ValueOf(b)
		}
		out := fn.Call(in)
		if len(out) == 0 {
			return reflect.Value{}
		}
		return out[0]
	}

	sf, ok := p.Elem().Type().FieldByNameFunc(func(n string) bool { return strings.EqualFold(n, name) })
	if !ok || !sf.IsExported() {
		return reflect.Value{}
	}
	return p.Elem().FieldByIndex(sf.Index)
}
