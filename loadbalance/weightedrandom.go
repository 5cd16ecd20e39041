package loadbalance

import (
	"math/rand"

	"muxrpc/registry"
)

// WeightedRandom picks instances with probability proportional to weight.
// Instances with non-positive weight are treated as weight 1 so a
// misconfigured entry still receives traffic.
type WeightedRandom struct{}

func (b *WeightedRandom) Pick(instances []registry.Instance) (*registry.Instance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	total := 0
	for _, inst := range instances {
		total += effectiveWeight(inst)
	}

	r := rand.Intn(total)
	for i := range instances {
		r -= effectiveWeight(instances[i])
		if r < 0 {
			return &instances[i], nil
		}
	}
	return &instances[len(instances)-1], nil
}

func (b *WeightedRandom) Name() string {
	return "WeightedRandom"
}

func effectiveWeight(inst registry.Instance) int {
	if inst.Weight <= 0 {
		return 1
	}
	return inst.Weight
}
