package loadbalance

import (
	"sync/atomic"

	"muxrpc/registry"
)

// RoundRobin cycles through instances with a lock-free atomic counter.
type RoundRobin struct {
	counter atomic.Int64
}

func (b *RoundRobin) Pick(instances []registry.Instance) (*registry.Instance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}
	idx := b.counter.Add(1) % int64(len(instances))
	return &instances[idx], nil
}

func (b *RoundRobin) Name() string {
	return "RoundRobin"
}
