package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"polygate/resource"
)

// Memory keeps records in process memory, listed in creation order.
type Memory struct {
	mu     sync.RWMutex
	tables map[resource.Kind]*table
}

type table struct {
	order []string
	rows  map[string]resource.Record
}

func NewMemory() *Memory {
	return &Memory{tables: make(map[resource.Kind]*table)}
}

func (m *Memory) table(kind resource.Kind) *table {
	t, ok := m.tables[kind]
	if !ok {
		t = &table{rows: make(map[string]resource.Record)}
		m.tables[kind] = t
	}
	return t
}

func (m *Memory) List(ctx context.Context, d resource.Descriptor) ([]resource.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tables[d.Kind]
	if !ok {
		return []resource.Record{}, nil
	}
	records := make([]resource.Record, 0, len(t.order))
	for _, id := range t.order {
		records = append(records, clone(t.rows[id]))
	}
	return records, nil
}

func (m *Memory) Get(ctx context.Context, d resource.Descriptor, id string) (resource.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if t, ok := m.tables[d.Kind]; ok {
		if rec, ok := t.rows[id]; ok {
			return clone(rec), nil
		}
	}
	return nil, notFound(d, id)
}

func (m *Memory) Create(ctx context.Context, d resource.Descriptor, rec resource.Record) (resource.Record, error) {
	stored := clone(rec)
	stored.SetIdentity(uuid.NewString())

	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.table(d.Kind)
	t.rows[stored.Identity()] = stored
	t.order = append(t.order, stored.Identity())
	return clone(stored), nil
}

func (m *Memory) Update(ctx context.Context, d resource.Descriptor, rec resource.Record) (resource.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.table(d.Kind)
	if _, ok := t.rows[rec.Identity()]; !ok {
		return nil, notFound(d, rec.Identity())
	}
	t.rows[rec.Identity()] = clone(rec)
	return clone(rec), nil
}

func (m *Memory) Delete(ctx context.Context, d resource.Descriptor, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.table(d.Kind)
	if _, ok := t.rows[id]; !ok {
		return notFound(d, id)
	}
	delete(t.rows, id)
	for i, v := range t.order {
		if v == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) Close() error { return nil }

// clone copies a record so callers never share memory with the store.
func clone(rec resource.Record) resource.Record {
	switch r := rec.(type) {
	case *resource.Product:
		c := *r
		return &c
	case *resource.User:
		c := *r
		return &c
	}
	panic(fmt.Sprintf("store: unsupported record type %T", rec))
}
