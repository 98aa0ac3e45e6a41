package graph

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/99designs/gqlgen/graphql/introspection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"

	"polygate/gateway/gatewaytest"
)

type gqlError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path"`
	Extensions map[string]any `json:"extensions"`
}

type gqlResponse struct {
	Data   map[string]any `json:"data"`
	Errors []gqlError     `json:"errors"`
}

type harness struct {
	t   *testing.T
	srv *httptest.Server
	env *gatewaytest.Env
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	env := gatewaytest.Start(t)
	srv := httptest.NewServer(NewHandler(NewExecutor(env.Dispatcher), opts...))
	t.Cleanup(srv.Close)
	return &harness{t: t, srv: srv, env: env}
}

func (h *harness) post(body string) (int, gqlResponse) {
	h.t.Helper()
	resp, err := http.Post(h.srv.URL, "application/json", strings.NewReader(body))
	require.NoError(h.t, err)
	defer resp.Body.Close()

	var out gqlResponse
	require.NoError(h.t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (h *harness) do(query string, vars map[string]any) (int, gqlResponse) {
	h.t.Helper()
	body, err := json.Marshal(Request{Query: query, Variables: vars})
	require.NoError(h.t, err)
	return h.post(string(body))
}

func TestSchemaMatchesResources(t *testing.T) {
	schema, err := gqlparser.LoadSchema(&ast.Source{Input: SDL()})
	require.NoError(t, err)

	product := schema.Types["Product"]
	require.NotNil(t, product)
	for _, name := range []string{"id", "name", "category", "price"} {
		f := product.Fields.ForName(name)
		require.NotNil(t, f, name)
		assert.False(t, f.Type.NonNull, "%s is nullable", name)
	}
	assert.Equal(t, "Int", product.Fields.ForName("price").Type.Name())

	add := schema.Mutation.Fields.ForName("addUser")
	require.NotNil(t, add)
	assert.Len(t, add.Arguments, 3)
	for _, arg := range add.Arguments {
		assert.True(t, arg.Type.NonNull, arg.Name)
	}
	assert.Equal(t, "Boolean", schema.Mutation.Fields.ForName("deleteProduct").Type.Name())
	assert.Equal(t, "[Product]", schema.Query.Fields.ForName("products").Type.String())
	assert.NotNil(t, schema.Query.Fields.ForName("user").Arguments.ForName("id"))
}

func TestAddUserThenQuery(t *testing.T) {
	h := newHarness(t)

	code, resp := h.do(`mutation { addUser(name: "A", email: "a@x.com", age: 30) { id name email age } }`, nil)
	require.Equal(t, http.StatusOK, code)
	require.Empty(t, resp.Errors)
	added := resp.Data["addUser"].(map[string]any)
	id := added["id"].(string)
	assert.NotEmpty(t, id)
	assert.Equal(t, map[string]any{"id": id, "name": "A", "email": "a@x.com", "age": float64(30)}, added)

	code, resp = h.do(`query($id: String!) { user(id: $id) { id name email age } }`, map[string]any{"id": id})
	require.Equal(t, http.StatusOK, code)
	require.Empty(t, resp.Errors)
	assert.Equal(t, added, resp.Data["user"])
}

func TestProductLifecycle(t *testing.T) {
	h := newHarness(t)

	_, resp := h.do(`mutation($p: Int!) { addProduct(name: "Pen", category: "Stationery", price: $p) { id } }`, map[string]any{"p": 2})
	require.Empty(t, resp.Errors)
	id := resp.Data["addProduct"].(map[string]any)["id"].(string)

	_, resp = h.do(`mutation($id: String!) { updateProduct(id: $id, name: "Pencil", category: "Stationery", price: 1) { name price } }`, map[string]any{"id": id})
	require.Empty(t, resp.Errors)
	assert.Equal(t, map[string]any{"name": "Pencil", "price": float64(1)}, resp.Data["updateProduct"])

	_, resp = h.do(`{ products { id name } }`, nil)
	require.Empty(t, resp.Errors)
	assert.Equal(t, []any{map[string]any{"id": id, "name": "Pencil"}}, resp.Data["products"])

	_, resp = h.do(`mutation($id: String!) { deleteProduct(id: $id) }`, map[string]any{"id": id})
	require.Empty(t, resp.Errors)
	assert.Equal(t, true, resp.Data["deleteProduct"])

	_, resp = h.do(`{ products { id } }`, nil)
	assert.Equal(t, []any{}, resp.Data["products"])
}

func TestNotFoundIsNullWithError(t *testing.T) {
	h := newHarness(t)

	code, resp := h.do(`{ product(id: "999") { id name } }`, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, resp.Data, "product")
	assert.Nil(t, resp.Data["product"])
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "NotFound", resp.Errors[0].Extensions["code"])
	assert.Equal(t, []any{"product"}, resp.Errors[0].Path)
	assert.NotEmpty(t, resp.Errors[0].Message)

	_, resp = h.do(`mutation { deleteUser(id: "999") }`, nil)
	assert.Nil(t, resp.Data["deleteUser"])
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "NotFound", resp.Errors[0].Extensions["code"])
}

func TestPartialFailureKeepsOtherFields(t *testing.T) {
	h := newHarness(t)

	_, resp := h.do(`{ missing: product(id: "999") { id } users { id } }`, nil)
	assert.Nil(t, resp.Data["missing"])
	assert.Equal(t, []any{}, resp.Data["users"])
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, []any{"missing"}, resp.Errors[0].Path)
}

func TestInvalidRequests(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name  string
		query string
		vars  map[string]any
	}{
		{"syntax", `{ products { id `, nil},
		{"unknown field", `{ products { sku } }`, nil},
		{"missing argument", `mutation { addUser(name: "A", email: "a@x.com") { id } }`, nil},
		{"wrong argument type", `mutation { addUser(name: "A", email: "a@x.com", age: "30") { id } }`, nil},
		{"missing variable", `query($id: String!) { user(id: $id) { id } }`, nil},
		{"null variable", `query($id: String!) { user(id: $id) { id } }`, map[string]any{"id": nil}},
		{"unknown operation name", `query a { products { id } } query b { users { id } }`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := h.do(tt.query, tt.vars)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Nil(t, resp.Data)
			require.NotEmpty(t, resp.Errors)
			assert.Equal(t, "InvalidArgument", resp.Errors[0].Extensions["code"])
		})
	}
	assert.Zero(t, h.env.Calls())
}

func TestNonIntegralIntRejected(t *testing.T) {
	h := newHarness(t)

	_, resp := h.do(`mutation($age: Int!) { addUser(name: "A", email: "a@x.com", age: $age) { id } }`, map[string]any{"age": 30.5})
	require.NotEmpty(t, resp.Errors)
	assert.Equal(t, "InvalidArgument", resp.Errors[0].Extensions["code"])
	assert.Nil(t, resp.Data["addUser"])
	assert.Zero(t, h.env.Calls())
}

func TestBackendValidation(t *testing.T) {
	h := newHarness(t)

	_, resp := h.do(`mutation { addProduct(name: "Pen", category: "Stationery", price: -1) { id } }`, nil)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "InvalidArgument", resp.Errors[0].Extensions["code"])
	assert.Equal(t, int64(1), h.env.Products.Calls())
}

func TestSelections(t *testing.T) {
	h := newHarness(t)

	_, resp := h.do(`mutation { addUser(name: "A", email: "a@x.com", age: 30) { id } }`, nil)
	require.Empty(t, resp.Errors)
	id := resp.Data["addUser"].(map[string]any)["id"].(string)

	query := `
		query Lookup($id: String!, $withAge: Boolean!) {
			__typename
			who: user(id: $id) {
				__typename
				...Basics
				... on User { years: age @include(if: $withAge) }
				email @skip(if: true)
			}
		}
		fragment Basics on User { name }
	`
	code, resp := h.do(query, map[string]any{"id": id, "withAge": true})
	require.Equal(t, http.StatusOK, code)
	require.Empty(t, resp.Errors)
	assert.Equal(t, "Query", resp.Data["__typename"])
	assert.Equal(t, map[string]any{"__typename": "User", "name": "A", "years": float64(30)}, resp.Data["who"])

	_, resp = h.do(query, map[string]any{"id": id, "withAge": false})
	assert.Equal(t, map[string]any{"__typename": "User", "name": "A"}, resp.Data["who"])
}

func TestFieldOrderFollowsSelection(t *testing.T) {
	h := newHarness(t)

	_, resp := h.do(`mutation { addProduct(name: "Pen", category: "Stationery", price: 2) { price name id } }`, nil)
	require.Empty(t, resp.Errors)

	raw, err := http.Post(h.srv.URL, "application/json", strings.NewReader(`{"query":"{ products { price name } }"}`))
	require.NoError(t, err)
	defer raw.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(raw.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `{"price":2,"name":"Pen"}`)
}

func TestMutationsRunInOrder(t *testing.T) {
	h := newHarness(t)

	_, resp := h.do(`mutation {
		first: addUser(name: "A", email: "a@x.com", age: 1) { name }
		second: addUser(name: "B", email: "b@x.com", age: 2) { name }
	}`, nil)
	require.Empty(t, resp.Errors)

	_, resp = h.do(`{ users { name } }`, nil)
	assert.Equal(t, []any{map[string]any{"name": "A"}, map[string]any{"name": "B"}}, resp.Data["users"])
}

func TestIntrospection(t *testing.T) {
	h := newHarness(t)

	code, resp := h.do(introspection.Query, nil)
	require.Equal(t, http.StatusOK, code)
	require.Empty(t, resp.Errors)

	schema, ok := resp.Data["__schema"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"name": "Query"}, schema["queryType"])
	assert.Equal(t, map[string]any{"name": "Mutation"}, schema["mutationType"])
	assert.Nil(t, schema["subscriptionType"])
	assert.NotEmpty(t, schema["directives"])

	types := map[string]map[string]any{}
	for _, raw := range schema["types"].([]any) {
		typ := raw.(map[string]any)
		types[typ["name"].(string)] = typ
	}
	require.Contains(t, types, "Product")
	require.Contains(t, types, "User")
	assert.Equal(t, "OBJECT", types["Product"]["kind"])

	fieldNames := func(typ map[string]any) []string {
		var names []string
		for _, raw := range typ["fields"].([]any) {
			names = append(names, raw.(map[string]any)["name"].(string))
		}
		return names
	}
	assert.ElementsMatch(t, []string{
		"addProduct", "updateProduct", "deleteProduct",
		"addUser", "updateUser", "deleteUser",
	}, fieldNames(types["Mutation"]))
	assert.ElementsMatch(t, []string{"products", "product", "users", "user"}, fieldNames(types["Query"]))
	assert.Zero(t, h.env.Calls(), "introspection never reaches a backend")

	_, resp = h.do(`{ __type(name: "User") { __typename kind fields { name type { kind ofType { name } } } } missing: __type(name: "Order") { name } }`, nil)
	require.Empty(t, resp.Errors)
	user := resp.Data["__type"].(map[string]any)
	assert.Equal(t, "__Type", user["__typename"])
	assert.Equal(t, "OBJECT", user["kind"])
	assert.Contains(t, user["fields"], map[string]any{
		"name": "email",
		"type": map[string]any{"kind": "SCALAR", "ofType": nil},
	})
	assert.Nil(t, resp.Data["missing"])
}

func TestMalformedBody(t *testing.T) {
	h := newHarness(t, WithMaxBodyBytes(64))

	code, resp := h.post(`{"query":`)
	assert.Equal(t, http.StatusBadRequest, code)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, "InvalidArgument", resp.Errors[0].Extensions["code"])

	code, _ = h.post(`{"variables":{}}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = h.post(`{"query":"` + strings.Repeat(" ", 100) + `{ users { id } }"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, code)
}

func TestPlayground(t *testing.T) {
	h := newHarness(t)
	resp, err := http.Get(h.srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	h = newHarness(t, WithPlayground("/graphql"))
	resp, err = http.Get(h.srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
}
