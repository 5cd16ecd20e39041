// Package registry provides service registration and discovery.
//
// Servers register their advertised address under a service name; clients
// discover the instance list before picking a target. Two implementations
// exist: Etcd for multi-node deployments and Memory for tests and
// single-process setups.
package registry

import "context"

// Instance is one reachable endpoint of a service.
type Instance struct {
	Addr    string
	Weight  int // Relative capacity, used by weighted balancers
	Version string
}

type Registry interface {
	// Register announces an instance under serviceName. ttlSeconds bounds
	// how long the entry survives without renewal, for backends that
	// support expiry.
	Register(ctx context.Context, serviceName string, inst Instance, ttlSeconds int64) error

	// Deregister removes the instance with the given address.
	Deregister(ctx context.Context, serviceName, addr string) error

	// Discover returns all currently registered instances.
	Discover(ctx context.Context, serviceName string) ([]Instance, error)

	// Watch emits the full instance list after every change. The channel
	// closes when ctx is done.
	Watch(ctx context.Context, serviceName string) (<-chan []Instance, error)
}
