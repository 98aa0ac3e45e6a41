// Package graph is the query/mutation surface. The schema is derived from the resource
// descriptors, so the graph fields, the HTTP routes and the RPC methods all come from one
// table.
package graph

import (
	"fmt"
	"strings"
	"sync"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"

	"polygate/resource"
)

const (
	queryType    = "Query"
	mutationType = "Mutation"
)

// rootField binds one Query or Mutation field to a canonical operation.
type rootField struct {
	desc resource.Descriptor
	op   resource.Op
}

type rootFields struct {
	queries   map[string]rootField
	mutations map[string]rootField
}

func buildRootFields() rootFields {
	rf := rootFields{queries: map[string]rootField{}, mutations: map[string]rootField{}}
	for _, d := range resource.All() {
		rf.queries[d.Collection] = rootField{d, resource.OpList}
		rf.queries[d.Singular] = rootField{d, resource.OpGetByID}
		rf.mutations["add"+d.TypeName] = rootField{d, resource.OpCreate}
		rf.mutations["update"+d.TypeName] = rootField{d, resource.OpUpdate}
		rf.mutations["delete"+d.TypeName] = rootField{d, resource.OpDelete}
	}
	return rf
}

// SDL renders the schema. Object fields are nullable so a failed field resolves to null;
// arguments are all mandatory.
func SDL() string {
	var types, queries, mutations strings.Builder
	for _, d := range resource.All() {
		fmt.Fprintf(&types, "type %s {\n  %s: String\n", d.TypeName, resource.IDField)
		for _, f := range d.Fields {
			fmt.Fprintf(&types, "  %s: %s\n", f.Name, f.Type)
		}
		types.WriteString("}\n\n")

		fmt.Fprintf(&queries, "  %s: [%s]\n", d.Collection, d.TypeName)
		fmt.Fprintf(&queries, "  %s(%s): %s\n", d.Singular, args(d.Args(resource.OpGetByID)), d.TypeName)

		fmt.Fprintf(&mutations, "  add%s(%s): %s\n", d.TypeName, args(d.Args(resource.OpCreate)), d.TypeName)
		fmt.Fprintf(&mutations, "  update%s(%s): %s\n", d.TypeName, args(d.Args(resource.OpUpdate)), d.TypeName)
		fmt.Fprintf(&mutations, "  delete%s(%s): Boolean\n", d.TypeName, args(d.Args(resource.OpDelete)))
	}
	return fmt.Sprintf("%stype %s {\n%s}\n\ntype %s {\n%s}\n",
		types.String(), queryType, queries.String(), mutationType, mutations.String())
}

func args(fields []resource.Field) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = fmt.Sprintf("%s: %s!", f.Name, f.Type)
	}
	return strings.Join(parts, ", ")
}

var loadSchema = sync.OnceValue(func() *ast.Schema {
	return gqlparser.MustLoadSchema(&ast.Source{Name: "polygate.graphql", Input: SDL()})
})

// Schema returns the parsed schema.
func Schema() *ast.Schema {
	return loadSchema()
}
