package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polygate/backend"
	"polygate/backend/store"
	"polygate/config"
	"polygate/registry"
	"polygate/resource"
	"polygate/server"
)

func startBackend(t *testing.T, kind resource.Kind) string {
	t.Helper()
	svc, err := backend.ForKind(kind, store.NewMemory())
	require.NoError(t, err)
	svr := server.NewServer()
	require.NoError(t, svr.Register(svc))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go svr.Serve(lis)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		svr.Shutdown(ctx)
	})
	return lis.Addr().String()
}

func TestServeBothSurfaces(t *testing.T) {
	cfg := &config.Config{
		Gateway: config.GatewayConfig{Playground: true},
		Backends: config.BackendsConfig{
			Products: config.BackendConfig{Addr: startBackend(t, resource.KindProduct)},
			Users:    config.BackendConfig{Addr: startBackend(t, resource.KindUser), Codec: "binary"},
		},
	}
	require.NoError(t, cfg.Validate())

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + lis.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, lis) }()

	resp, err := http.Post(base+"/products", "application/json", strings.NewReader(`{"name":"Pen","category":"Stationery","price":2}`))
	require.NoError(t, err)
	var created map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	body, _ := json.Marshal(map[string]string{"query": `{ products { id name } users { id } }`})
	resp, err = http.Post(base+"/graphql", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	var graphResp struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&graphResp))
	resp.Body.Close()
	assert.Equal(t, []any{map[string]any{"id": created["id"], "name": "Pen"}}, graphResp.Data["products"])
	assert.Equal(t, []any{}, graphResp.Data["users"])

	resp, err = http.Get(base + "/graphql")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	var metrics bytes.Buffer
	metrics.ReadFrom(resp.Body)
	resp.Body.Close()
	assert.Contains(t, metrics.String(), "polygate_gateway_requests_total")

	resp, err = http.Get(base + "/orders")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestServeBackendDown(t *testing.T) {
	dead, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := dead.Addr().String()
	dead.Close()

	cfg := &config.Config{Backends: config.BackendsConfig{
		Products: config.BackendConfig{Addr: addr, DialTimeout: time.Second},
		Users:    config.BackendConfig{Addr: addr, DialTimeout: time.Second},
	}}
	require.NoError(t, cfg.Validate())

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go serve(ctx, cfg, lis)

	resp, err := http.Get("http://" + lis.Addr().String() + "/users")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

type staticRegistry struct {
	registry.Registry
	instances []registry.ServiceInstance
}

func (r staticRegistry) Discover(ctx context.Context, service string) ([]registry.ServiceInstance, error) {
	var out []registry.ServiceInstance
	for _, inst := range r.instances {
		if service == "" || inst.Service == service {
			out = append(out, inst)
		}
	}
	return out, nil
}

func TestListBackends(t *testing.T) {
	reg := staticRegistry{instances: []registry.ServiceInstance{
		{Service: "UserService", Addr: "10.0.0.2:50052", Codec: "json"},
		{Service: "ProductService", Addr: "10.0.0.1:50051", Codec: "binary"},
	}}

	var out bytes.Buffer
	require.NoError(t, listBackends(context.Background(), reg, "", &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "SERVICE"))
	assert.Contains(t, lines[1], "ProductService")
	assert.Contains(t, lines[2], "UserService")

	out.Reset()
	require.NoError(t, listBackends(context.Background(), reg, "UserService", &out))
	assert.NotContains(t, out.String(), "ProductService")
}
