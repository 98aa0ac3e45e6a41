package registry

// etcd layout:
//
//	Key:   /polygate/{ServiceName}/{Addr}
//	Value: JSON-encoded ServiceInstance
//
// Entries are attached to a TTL lease renewed by KeepAlive: if the backend dies without
// deregistering, the lease expires and the entry goes with it.

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const keyPrefix = "/polygate/"

// EtcdRegistry implements Registry on etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client

	mu     sync.Mutex
	leases map[string]lease // key → lease of a registration made by this process
}

type lease struct {
	id     clientv3.LeaseID
	cancel context.CancelFunc
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, dialTimeout time.Duration) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to etcd: %w", err)
	}
	return &EtcdRegistry{client: c, leases: make(map[string]lease)}, nil
}

func instanceKey(serviceName, addr string) string {
	return keyPrefix + serviceName + "/" + addr
}

// Register grants a lease, writes the entry under it and keeps the lease alive in the
// background until Deregister or Close.
func (r *EtcdRegistry) Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error {
	grant, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("grant lease: %w", err)
	}

	instance.Service = serviceName
	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	key := instanceKey(serviceName, instance.Addr)
	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(grant.ID)); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}

	// The keepalive outlives ctx, which only bounds the registration itself.
	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := r.client.KeepAlive(kaCtx, grant.ID)
	if err != nil {
		cancel()
		return fmt.Errorf("keepalive: %w", err)
	}
	go func() {
		for range ch {
		}
		log.Debug().Str("key", key).Msg("etcd keepalive stopped")
	}()

	r.mu.Lock()
	if old, ok := r.leases[key]; ok {
		old.cancel()
	}
	r.leases[key] = lease{id: grant.ID, cancel: cancel}
	r.mu.Unlock()
	return nil
}

// Deregister removes the entry and revokes the lease if this process created it.
func (r *EtcdRegistry) Deregister(ctx context.Context, serviceName string, addr string) error {
	key := instanceKey(serviceName, addr)

	r.mu.Lock()
	l, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()

	if ok {
		l.cancel()
		if _, err := r.client.Revoke(ctx, l.id); err != nil {
			return fmt.Errorf("revoke lease for %s: %w", key, err)
		}
		return nil
	}

	if _, err := r.client.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Discover lists every registered instance of serviceName. An empty serviceName lists
// every service.
func (r *EtcdRegistry) Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error) {
	prefix := keyPrefix
	if serviceName != "" {
		prefix += serviceName + "/"
	}

	resp, err := r.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", prefix, err)
	}

	instances := make([]ServiceInstance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance ServiceInstance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			log.Warn().Err(err).Str("key", string(kv.Key)).Msg("skipping malformed registry entry")
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Close stops every keepalive and closes the etcd client. Leases left behind expire on
// their own.
func (r *EtcdRegistry) Close() error {
	r.mu.Lock()
	for key, l := range r.leases {
		l.cancel()
		delete(r.leases, key)
	}
	r.mu.Unlock()
	return r.client.Close()
}
