package registry

import (
	"context"
	"encoding/json"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// keyPrefix namespaces all registry entries in etcd:
//
//	/muxrpc/{serviceName}/{addr} → JSON-encoded Instance
const keyPrefix = "/muxrpc/"

// Etcd implements Registry on etcd v3.
//
// Registration is lease-based: each entry carries a TTL lease that a
// background KeepAlive renews. A crashed server stops renewing and its entry
// expires on its own, so clients never discover dead instances for long.
type Etcd struct {
	client *clientv3.Client // thread-safe, shared across goroutines
	log    *zap.Logger
}

// NewEtcd connects to the given etcd endpoints.
func NewEtcd(endpoints []string, log *zap.Logger) (*Etcd, error) {
	if log == nil {
		log = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return &Etcd{client: c, log: log}, nil
}

// Close releases the etcd client. Leases held by this process stop renewing
// and expire after their TTL.
func (r *Etcd) Close() error {
	return r.client.Close()
}

func key(serviceName, addr string) string {
	return keyPrefix + serviceName + "/" + addr
}

// Register grants a TTL lease, stores the instance under it, and keeps the
// lease alive in the background. The lease id stays local to this call so
// concurrent registrations through one Etcd value do not race.
func (r *Etcd) Register(ctx context.Context, serviceName string, inst Instance, ttlSeconds int64) error {
	lease, err := r.client.Grant(ctx, ttlSeconds)
	if err != nil {
		return err
	}

	val, err := json.Marshal(inst)
	if err != nil {
		return err
	}

	if _, err := r.client.Put(ctx, key(serviceName, inst.Addr), string(val), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}
	// Drain renewal acks; an exhausted channel means the lease is gone.
	go func() {
		for range ch {
		}
		r.log.Debug("lease renewal stopped",
			zap.String("service", serviceName),
			zap.String("addr", inst.Addr))
	}()
	return nil
}

func (r *Etcd) Deregister(ctx context.Context, serviceName, addr string) error {
	_, err := r.client.Delete(ctx, key(serviceName, addr))
	return err
}

func (r *Etcd) Discover(ctx context.Context, serviceName string) ([]Instance, error) {
	resp, err := r.client.Get(ctx, keyPrefix+serviceName+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var inst Instance
		if err := json.Unmarshal(kv.Value, &inst); err != nil {
			r.log.Warn("skipping malformed registry entry", zap.ByteString("key", kv.Key))
			continue
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// Watch re-fetches the full instance list on every change under the service
// prefix. Re-fetching is simpler than folding individual watch events and
// the lists are small.
func (r *Etcd) Watch(ctx context.Context, serviceName string) (<-chan []Instance, error) {
	ch := make(chan []Instance, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, keyPrefix+serviceName+"/", clientv3.WithPrefix())
		for range watchChan {
			instances, err := r.Discover(ctx, serviceName)
			if err != nil {
				r.log.Warn("discover after watch event failed", zap.Error(err))
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}
