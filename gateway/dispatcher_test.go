package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polygate/backend"
	"polygate/backend/store"
	"polygate/resource"
	"polygate/status"
)

// fakeBackend records calls and answers from a fixed script.
type fakeBackend struct {
	mu      sync.Mutex
	calls   []resource.Op
	records []resource.Record
	err     error
}

func (f *fakeBackend) record(op resource.Op) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
}

func (f *fakeBackend) List(ctx context.Context) ([]resource.Record, error) {
	f.record(resource.OpList)
	return f.records, f.err
}

func (f *fakeBackend) GetByID(ctx context.Context, id string) (resource.Record, error) {
	f.record(resource.OpGetByID)
	if f.err != nil {
		return nil, f.err
	}
	return &resource.Product{ID: id, Name: "Pen"}, nil
}

func (f *fakeBackend) Create(ctx context.Context, rec resource.Record) (resource.Record, error) {
	f.record(resource.OpCreate)
	if f.err != nil {
		return nil, f.err
	}
	rec.SetIdentity("new-id")
	return rec, nil
}

func (f *fakeBackend) Update(ctx context.Context, rec resource.Record) (resource.Record, error) {
	f.record(resource.OpUpdate)
	return rec, f.err
}

func (f *fakeBackend) Delete(ctx context.Context, id string) error {
	f.record(resource.OpDelete)
	return f.err
}

func TestRoutesByResource(t *testing.T) {
	products, users := &fakeBackend{}, &fakeBackend{}
	d := New(products, users)
	ctx := context.Background()

	_, err := d.Handle(ctx, resource.Products, resource.OpList, nil)
	require.NoError(t, err)
	_, err = d.Handle(ctx, resource.Users, resource.OpDelete, map[string]any{"id": "1"})
	require.NoError(t, err)

	assert.Equal(t, []resource.Op{resource.OpList}, products.calls)
	assert.Equal(t, []resource.Op{resource.OpDelete}, users.calls)
}

func TestOutcomes(t *testing.T) {
	products := &fakeBackend{}
	d := New(products, &fakeBackend{})
	ctx := context.Background()

	out, err := d.Handle(ctx, resource.Products, resource.OpList, nil)
	require.NoError(t, err)
	assert.NotNil(t, out.Records, "an empty list is still a list")
	assert.Empty(t, out.Records)

	out, err = d.Handle(ctx, resource.Products, resource.OpCreate,
		map[string]any{"name": "Pen", "category": "Stationery", "price": 2})
	require.NoError(t, err)
	assert.Equal(t, &resource.Product{ID: "new-id", Name: "Pen", Category: "Stationery", Price: 2}, out.Record)

	out, err = d.Handle(ctx, resource.Products, resource.OpDelete, map[string]any{"id": "new-id"})
	require.NoError(t, err)
	assert.True(t, out.Deleted)
}

func TestInvalidArgumentsNeverReachBackend(t *testing.T) {
	products := &fakeBackend{}
	d := New(products, &fakeBackend{})

	tests := []struct {
		name string
		op   resource.Op
		raw  map[string]any
	}{
		{"partial update", resource.OpUpdate, map[string]any{"id": "1", "name": "Pen"}},
		{"update without id", resource.OpUpdate, map[string]any{"name": "Pen", "category": "c", "price": 1}},
		{"create with string price", resource.OpCreate, map[string]any{"name": "Pen", "category": "c", "price": "2"}},
		{"get without id", resource.OpGetByID, map[string]any{}},
		{"unknown op", resource.Op("Truncate"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Handle(context.Background(), resource.Products, tt.op, tt.raw)
			require.Error(t, err)
			assert.Equal(t, status.InvalidArgument, status.CodeOf(err))
		})
	}
	assert.Empty(t, products.calls)
}

func TestFailuresAreClassified(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want status.Code
	}{
		{"not found", status.New(status.NotFound, "Product not found"), status.NotFound},
		{"unavailable", status.New(status.Unavailable, "connection refused"), status.Unavailable},
		{"deadline", context.DeadlineExceeded, status.Unavailable},
		{"unclassified", errors.New("boom"), status.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(&fakeBackend{err: tt.err}, &fakeBackend{})
			_, err := d.Handle(context.Background(), resource.Products, resource.OpGetByID, map[string]any{"id": "999"})
			require.Error(t, err)

			var se *status.Error
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.want, se.Code)
		})
	}
}

func TestMissingBackendIsInternal(t *testing.T) {
	d := New(&fakeBackend{}, nil)
	_, err := d.Handle(context.Background(), resource.Users, resource.OpList, nil)
	assert.Equal(t, status.Internal, status.CodeOf(err))
}

// storeBackend adapts the backend services directly, with a small delay so concurrent
// requests overlap.
type storeBackend struct {
	svc *backend.ProductService
}

func (b storeBackend) List(ctx context.Context) ([]resource.Record, error) { return nil, nil }

func (b storeBackend) GetByID(ctx context.Context, id string) (resource.Record, error) {
	var p resource.Product
	if err := b.svc.GetById(ctx, &resource.IDArgs{ID: id}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (b storeBackend) Create(ctx context.Context, rec resource.Record) (resource.Record, error) {
	var p resource.Product
	err := b.svc.Create(ctx, rec.(*resource.Product), &p)
	return &p, err
}

func (b storeBackend) Update(ctx context.Context, rec resource.Record) (resource.Record, error) {
	time.Sleep(5 * time.Millisecond)
	var p resource.Product
	err := b.svc.Update(ctx, rec.(*resource.Product), &p)
	return &p, err
}

func (b storeBackend) Delete(ctx context.Context, id string) error { return nil }

func TestConcurrentUpdatesToSameID(t *testing.T) {
	d := New(storeBackend{svc: backend.NewProductService(store.NewMemory())}, &fakeBackend{})
	ctx := context.Background()

	created, err := d.Handle(ctx, resource.Products, resource.OpCreate,
		map[string]any{"name": "Lamp", "category": "Home", "price": 10})
	require.NoError(t, err)
	id := created.Record.Identity()

	requests := []map[string]any{
		{"id": id, "name": "Lamp A", "category": "Home", "price": 11},
		{"id": id, "name": "Lamp B", "category": "Home", "price": 12},
	}
	results := make([]resource.Record, len(requests))

	var wg sync.WaitGroup
	for i, raw := range requests {
		wg.Add(1)
		go func(i int, raw map[string]any) {
			defer wg.Done()
			out, err := d.Handle(ctx, resource.Products, resource.OpUpdate, raw)
			if assert.NoError(t, err) {
				results[i] = out.Record
			}
		}(i, raw)
	}
	wg.Wait()

	// Each caller gets back exactly what it asked to write.
	assert.Equal(t, "Lamp A", results[0].(*resource.Product).Name)
	assert.Equal(t, "Lamp B", results[1].(*resource.Product).Name)

	final, err := d.Handle(ctx, resource.Products, resource.OpGetByID, map[string]any{"id": id})
	require.NoError(t, err)
	assert.Contains(t, []string{"Lamp A", "Lamp B"}, final.Record.(*resource.Product).Name)
}
