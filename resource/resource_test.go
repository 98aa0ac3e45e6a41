package resource

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polygate/status"
)

func TestArgsShape(t *testing.T) {
	names := func(fields []Field) []string {
		out := []string{}
		for _, f := range fields {
			out = append(out, f.Name)
		}
		return out
	}

	assert.Empty(t, Products.Args(OpList))
	assert.Equal(t, []string{"id"}, names(Products.Args(OpGetByID)))
	assert.Equal(t, []string{"id"}, names(Users.Args(OpDelete)))
	assert.Equal(t, []string{"name", "category", "price"}, names(Products.Args(OpCreate)))
	assert.Equal(t, []string{"id", "name", "email", "age"}, names(Users.Args(OpUpdate)))
	assert.Equal(t, "ProductService.GetById", Products.Method(OpGetByID))
}

func TestBindCreate(t *testing.T) {
	call, err := Bind(Products, OpCreate, map[string]any{
		"id":       "client-chosen",
		"name":     "Pen",
		"category": "Stationery",
		"price":    json.Number("2"),
	})
	require.NoError(t, err)

	p, ok := call.Record.(*Product)
	require.True(t, ok)
	assert.Equal(t, Product{Name: "Pen", Category: "Stationery", Price: 2}, *p)
	assert.Empty(t, call.ID)
}

func TestBindUpdateCarriesID(t *testing.T) {
	call, err := Bind(Users, OpUpdate, map[string]any{
		"id": "7", "name": "A", "email": "a@x.com", "age": int64(30),
	})
	require.NoError(t, err)
	assert.Equal(t, "7", call.ID)
	assert.Equal(t, &User{ID: "7", Name: "A", Email: "a@x.com", Age: 30}, call.Record)
}

func TestBindRejects(t *testing.T) {
	tests := []struct {
		name string
		d    Descriptor
		op   Op
		raw  map[string]any
	}{
		{"partial update", Products, OpUpdate, map[string]any{"id": "1", "name": "Pen"}},
		{"missing id", Products, OpDelete, map[string]any{}},
		{"empty id", Users, OpGetByID, map[string]any{"id": ""}},
		{"null field", Users, OpCreate, map[string]any{"name": "A", "email": nil, "age": 1}},
		{"string price", Products, OpCreate, map[string]any{"name": "Pen", "category": "S", "price": "2"}},
		{"fractional age", Users, OpCreate, map[string]any{"name": "A", "email": "e", "age": 1.5}},
		{"unknown op", Users, Op("Purge"), map[string]any{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Bind(tt.d, tt.op, tt.raw)
			require.Error(t, err)
			assert.Equal(t, status.InvalidArgument, status.CodeOf(err))
		})
	}
}

func TestDecodeList(t *testing.T) {
	records, err := Users.DecodeList([]byte(`{"items":[{"id":"1","name":"A","email":"a@x.com","age":30}]}`))
	require.NoError(t, err)
	require.Len(t, records, 1)
	v, ok := records[0].Get("email")
	assert.True(t, ok)
	assert.Equal(t, "a@x.com", v)
	assert.Equal(t, []string{"id", "name", "email", "age"}, Users.FieldNames())
}
