// Package loadbalance selects a target instance for each outgoing call.
//
// Strategies:
//   - RoundRobin:     stateless services with equal-capacity instances
//   - WeightedRandom: heterogeneous instances, weight ∝ capacity
//   - HashRing:       key affinity for stateful services (separate API,
//     since it picks by key rather than by list position)
package loadbalance

import (
	"errors"

	"muxrpc/registry"
)

// ErrNoInstances is returned when discovery produced an empty list.
var ErrNoInstances = errors.New("loadbalance: no instances available")

// Balancer picks one instance per call. Implementations must be
// goroutine-safe; Pick runs on every request.
type Balancer interface {
	Pick(instances []registry.Instance) (*registry.Instance, error)
	Name() string
}
