package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polygate/client"
	"polygate/config"
	"polygate/message"
	"polygate/middleware"
	"polygate/resource"
	"polygate/status"
)

func TestRunServesUntilCancelled(t *testing.T) {
	cfg := &config.Config{Catalog: config.CatalogConfig{RateLimit: 1000}}
	require.NoError(t, cfg.Validate())

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, resource.KindUser, lis, addr) }()

	conn := client.NewConn(resource.Users.Service, addr, client.WithCallTimeout(2*time.Second))
	defer conn.Close()
	users := client.NewResourceClient(resource.Users, conn)

	created, err := users.Create(context.Background(), &resource.User{Name: "A", Email: "a@x.com", Age: 30})
	require.NoError(t, err)
	got, err := users.GetByID(context.Background(), created.Identity())
	require.NoError(t, err)
	assert.Equal(t, created, got)

	_, err = users.GetByID(context.Background(), "999")
	assert.True(t, status.IsNotFound(err))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}

	_, err = users.List(context.Background())
	assert.Equal(t, status.Unavailable, status.CodeOf(err))
}

func TestRunRejectsUnknownKind(t *testing.T) {
	cfg := &config.Config{}
	require.NoError(t, cfg.Validate())
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	assert.Error(t, run(context.Background(), cfg, resource.Kind("order"), lis, ""))
}

func TestFlagsOverrideConfig(t *testing.T) {
	cfg := &config.Config{}
	opts := flagOptions{Kind: "product", Store: "memory", LogLevel: "debug", RequestTimeout: 2 * time.Second}
	require.NoError(t, opts.apply(cfg))

	assert.Equal(t, config.DefaultProductsAddr, opts.Listen)
	assert.Equal(t, opts.Listen, opts.Advertise)
	assert.Equal(t, "memory", cfg.Catalog.Store)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2*time.Second, cfg.Catalog.RequestTimeout)

	bad := flagOptions{Kind: "user", Store: "postgres"}
	assert.Error(t, bad.apply(&config.Config{}), "postgres needs a URL")
}

func TestRequestTimeoutBoundsHandlers(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	stuck := func(ctx context.Context, req *message.Envelope) *message.Envelope {
		<-release
		return &message.Envelope{Operation: req.Operation}
	}

	cfg := &config.Config{Catalog: config.CatalogConfig{RequestTimeout: 20 * time.Millisecond}}
	require.NoError(t, cfg.Validate())
	handler := middleware.Chain(middlewares(cfg, zerolog.Nop())...)(stuck)

	resp := handler(context.Background(), &message.Envelope{Operation: "UserService.List"})
	require.NotNil(t, resp.Err())
	assert.Equal(t, status.Unavailable, resp.Err().Code)

	plain := &config.Config{}
	require.NoError(t, plain.Validate())
	assert.Len(t, middlewares(plain, zerolog.Nop()), 2)
	assert.Len(t, middlewares(cfg, zerolog.Nop()), 3)
}
