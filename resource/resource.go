// Package resource is the contract shared by the RPC layer and both public surfaces.
//
// It names the two resources (Product, User), the fixed set of operations each exposes, and
// the argument shape of every operation. Surfaces never hand-roll argument parsing: they
// collect loosely typed arguments (JSON body + path, or graph arguments) and pass them to
// Bind, which yields a typed Call or an InvalidArgument failure.
package resource

import (
	"encoding/json"
)

// Kind identifies a resource.
type Kind string

const (
	KindProduct Kind = "product"
	KindUser    Kind = "user"
)

// Op is a canonical RPC operation. The string value is the method name on the backend service.
type Op string

const (
	OpList    Op = "List"
	OpGetByID Op = "GetById"
	OpCreate  Op = "Create"
	OpUpdate  Op = "Update"
	OpDelete  Op = "Delete"
)

// IDField is the name of the server-assigned identifier on every resource.
const IDField = "id"

// FieldType is the scalar type of a mandatory field.
type FieldType int

const (
	String FieldType = iota
	Int
)

func (t FieldType) String() string {
	if t == Int {
		return "Int"
	}
	return "String"
}

// Field is one argument of an operation.
type Field struct {
	Name string
	Type FieldType
}

// Record is implemented by *Product and *User.
type Record interface {
	Kind() Kind
	Identity() string
	SetIdentity(id string)
	// Get returns the value of a field by its wire name, including IDField.
	Get(field string) (any, bool)
	// Set assigns a mandatory field from a loosely typed value.
	Set(field string, value any) error
}

// Descriptor describes one resource: its RPC service, its surface names and its fields.
type Descriptor struct {
	Kind       Kind
	Service    string // RPC service name, e.g. "ProductService"
	TypeName   string // graph type, e.g. "Product"
	Singular   string // e.g. "product"
	Collection string // HTTP collection and graph list field, e.g. "products"
	Fields     []Field
	New        func() Record
}

// Method is the "Service.Op" name used on the wire.
func (d Descriptor) Method(op Op) string {
	return d.Service + "." + string(op)
}

// Args returns the fixed argument shape of op.
func (d Descriptor) Args(op Op) []Field {
	id := Field{Name: IDField, Type: String}
	switch op {
	case OpGetByID, OpDelete:
		return []Field{id}
	case OpCreate:
		return append([]Field(nil), d.Fields...)
	case OpUpdate:
		return append([]Field{id}, d.Fields...)
	default:
		return nil
	}
}

// FieldNames returns IDField followed by the mandatory fields in declared order.
func (d Descriptor) FieldNames() []string {
	names := make([]string, 0, len(d.Fields)+1)
	names = append(names, IDField)
	for _, f := range d.Fields {
		names = append(names, f.Name)
	}
	return names
}

// Decode unmarshals a single record payload.
func (d Descriptor) Decode(data []byte) (Record, error) {
	rec := d.New()
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// DecodeList unmarshals a ListReply payload.
func (d Descriptor) DecodeList(data []byte) ([]Record, error) {
	var reply struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(reply.Items))
	for _, raw := range reply.Items {
		rec, err := d.Decode(raw)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

var (
	Products = Descriptor{
		Kind:       KindProduct,
		Service:    "ProductService",
		TypeName:   "Product",
		Singular:   "product",
		Collection: "products",
		Fields: []Field{
			{Name: "name", Type: String},
			{Name: "category", Type: String},
			{Name: "price", Type: Int},
		},
		New: func() Record { return &Product{} },
	}

	Users = Descriptor{
		Kind:       KindUser,
		Service:    "UserService",
		TypeName:   "User",
		Singular:   "user",
		Collection: "users",
		Fields: []Field{
			{Name: "name", Type: String},
			{Name: "email", Type: String},
			{Name: "age", Type: Int},
		},
		New: func() Record { return &User{} },
	}
)

// All returns every resource descriptor.
func All() []Descriptor {
	return []Descriptor{Products, Users}
}

// Lookup finds the descriptor for kind.
func Lookup(kind Kind) (Descriptor, bool) {
	for _, d := range All() {
		if d.Kind == kind {
			return d, true
		}
	}
	return Descriptor{}, false
}
