package registry

import (
	"context"
	"sync"
)

// Memory is an in-process Registry for tests and single-node deployments.
// TTLs are accepted but not enforced; entries live until deregistered.
type Memory struct {
	mu       sync.RWMutex
	services map[string]map[string]Instance // service → addr → instance
	watchers map[string][]chan []Instance
}

func NewMemory() *Memory {
	return &Memory{
		services: make(map[string]map[string]Instance),
		watchers: make(map[string][]chan []Instance),
	}
}

func (r *Memory) Register(ctx context.Context, serviceName string, inst Instance, ttlSeconds int64) error {
	r.mu.Lock()
	byAddr, ok := r.services[serviceName]
	if !ok {
		byAddr = make(map[string]Instance)
		r.services[serviceName] = byAddr
	}
	byAddr[inst.Addr] = inst
	r.mu.Unlock()

	r.notify(serviceName)
	return nil
}

func (r *Memory) Deregister(ctx context.Context, serviceName, addr string) error {
	r.mu.Lock()
	if byAddr, ok := r.services[serviceName]; ok {
		delete(byAddr, addr)
	}
	r.mu.Unlock()

	r.notify(serviceName)
	return nil
}

func (r *Memory) Discover(ctx context.Context, serviceName string) ([]Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instances := make([]Instance, 0, len(r.services[serviceName]))
	for _, inst := range r.services[serviceName] {
		instances = append(instances, inst)
	}
	return instances, nil
}

func (r *Memory) Watch(ctx context.Context, serviceName string) (<-chan []Instance, error) {
	ch := make(chan []Instance, 1)

	r.mu.Lock()
	r.watchers[serviceName] = append(r.watchers[serviceName], ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		watchers := r.watchers[serviceName]
		for i, w := range watchers {
			if w == ch {
				r.watchers[serviceName] = append(watchers[:i], watchers[i+1:]...)
				break
			}
		}
		r.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

// notify pushes the current instance list to every watcher, dropping the
// update for watchers that have not drained the previous one.
func (r *Memory) notify(serviceName string) {
	instances, _ := r.Discover(context.Background(), serviceName)

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ch := range r.watchers[serviceName] {
		select {
		case ch <- instances:
		default:
		}
	}
}
