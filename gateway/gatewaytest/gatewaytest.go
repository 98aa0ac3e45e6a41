// Package gatewaytest runs real Product and User backends in-process so surface tests go
// through the whole RPC path.
package gatewaytest

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"polygate/backend"
	"polygate/backend/store"
	"polygate/client"
	"polygate/gateway"
	"polygate/resource"
	"polygate/server"
)

// Counting wraps a backend and counts the calls that reach it.
type Counting struct {
	gateway.Backend
	calls atomic.Int64
}

func (c *Counting) Calls() int64 { return c.calls.Load() }

func (c *Counting) List(ctx context.Context) ([]resource.Record, error) {
	c.calls.Add(1)
	return c.Backend.List(ctx)
}

func (c *Counting) GetByID(ctx context.Context, id string) (resource.Record, error) {
	c.calls.Add(1)
	return c.Backend.GetByID(ctx, id)
}

func (c *Counting) Create(ctx context.Context, rec resource.Record) (resource.Record, error) {
	c.calls.Add(1)
	return c.Backend.Create(ctx, rec)
}

func (c *Counting) Update(ctx context.Context, rec resource.Record) (resource.Record, error) {
	c.calls.Add(1)
	return c.Backend.Update(ctx, rec)
}

func (c *Counting) Delete(ctx context.Context, id string) error {
	c.calls.Add(1)
	return c.Backend.Delete(ctx, id)
}

// Env is a running pair of backends and a Dispatcher wired to them.
type Env struct {
	Dispatcher *gateway.Dispatcher
	Products   *Counting
	Users      *Counting
}

// Calls is the total number of backend calls made so far.
func (e *Env) Calls() int64 {
	return e.Products.Calls() + e.Users.Calls()
}

// Start launches one RPC server per resource on loopback, each over its own memory
// store, and returns a Dispatcher talking to them. Everything stops when t ends.
func Start(t testing.TB) *Env {
	t.Helper()
	products := &Counting{Backend: startBackend(t, resource.Products)}
	users := &Counting{Backend: startBackend(t, resource.Users)}
	return &Env{
		Dispatcher: gateway.New(products, users),
		Products:   products,
		Users:      users,
	}
}

func startBackend(t testing.TB, d resource.Descriptor) *client.ResourceClient {
	t.Helper()
	svc, err := backend.ForKind(d.Kind, store.NewMemory())
	require.NoError(t, err)

	svr := server.NewServer()
	require.NoError(t, svr.Register(svc))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go svr.Serve(lis)

	conn := client.NewConn(d.Service, lis.Addr().String(), client.WithCallTimeout(5*time.Second))
	t.Cleanup(func() {
		conn.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		svr.Shutdown(ctx)
	})
	return client.NewResourceClient(d, conn)
}
