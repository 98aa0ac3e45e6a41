// Package registry publishes backend addresses so operators can see which backends are
// live. The gateway itself is configured with fixed addresses and never routes through it.
package registry

import "context"

// ServiceInstance is one running backend.
type ServiceInstance struct {
	Service string `json:"service"`
	Addr    string `json:"addr"`
	Codec   string `json:"codec,omitempty"`
	Version string `json:"version,omitempty"`
}

type Registry interface {
	// Register publishes instance under serviceName for as long as the process keeps its
	// lease alive (ttl seconds without renewal and the entry disappears).
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	Close() error
}
