// Package store persists resource records for the backend services.
//
// Stores assign ids on Create and serialize writes per record; the last committed write
// to an id wins.
package store

import (
	"context"
	"errors"
	"fmt"

	"polygate/resource"
)

// ErrNotFound is returned when no record has the requested id.
var ErrNotFound = errors.New("record not found")

type Store interface {
	List(ctx context.Context, d resource.Descriptor) ([]resource.Record, error)
	Get(ctx context.Context, d resource.Descriptor, id string) (resource.Record, error)
	// Create assigns a fresh id to rec and stores it.
	Create(ctx context.Context, d resource.Descriptor, rec resource.Record) (resource.Record, error)
	// Update replaces every field of the record with rec's identity.
	Update(ctx context.Context, d resource.Descriptor, rec resource.Record) (resource.Record, error)
	Delete(ctx context.Context, d resource.Descriptor, id string) error
	Close() error
}

func notFound(d resource.Descriptor, id string) error {
	return fmt.Errorf("%s %s: %w", d.Singular, id, ErrNotFound)
}
