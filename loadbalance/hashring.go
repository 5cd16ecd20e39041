package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"sync"

	"muxrpc/registry"
)

// HashRing maps keys to instances on a consistent-hash ring, so the same key
// reaches the same instance as long as the instance set is stable. Each real
// instance contributes many virtual nodes; without them a few instances
// cluster on the ring and load skews badly.
//
// HashRing picks by key, not by list position, so it sits outside the
// Balancer interface. Update rebuilds the ring when discovery reports a
// changed instance set.
type HashRing struct {
	replicas int

	mu    sync.RWMutex
	ring  []uint32
	nodes map[uint32]registry.Instance
}

// NewHashRing creates a ring with the given virtual nodes per instance.
// replicas <= 0 selects 100.
func NewHashRing(replicas int) *HashRing {
	if replicas <= 0 {
		replicas = 100
	}
	return &HashRing{
		replicas: replicas,
		nodes:    make(map[uint32]registry.Instance),
	}
}

// Update replaces the ring contents with the given instance set.
func (b *HashRing) Update(instances []registry.Instance) {
	ring := make([]uint32, 0, len(instances)*b.replicas)
	nodes := make(map[uint32]registry.Instance, len(instances)*b.replicas)

	for _, inst := range instances {
		for i := 0; i < b.replicas; i++ {
			h := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", inst.Addr, i)))
			ring = append(ring, h)
			nodes[h] = inst
		}
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i] < ring[j] })

	b.mu.Lock()
	b.ring = ring
	b.nodes = nodes
	b.mu.Unlock()
}

// Pick returns the instance owning key: the first ring node clockwise from
// the key's hash, wrapping past zero.
func (b *HashRing) Pick(key string) (*registry.Instance, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.ring) == 0 {
		return nil, ErrNoInstances
	}

	h := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool { return b.ring[i] >= h })
	if idx == len(b.ring) {
		idx = 0
	}
	inst := b.nodes[b.ring[idx]]
	return &inst, nil
}

func (b *HashRing) Name() string {
	return "HashRing"
}
