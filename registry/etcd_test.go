package registry

import (
	"context"
	"testing"
	"time"
)

// Requires a local etcd on 127.0.0.1:2379; skipped when unreachable.
func TestEtcdRegisterDiscover(t *testing.T) {
	reg, err := NewEtcd([]string{"127.0.0.1:2379"}, nil)
	if err != nil {
		t.Skipf("etcd not available: %v", err)
	}
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := reg.client.Status(ctx, "127.0.0.1:2379"); err != nil {
		t.Skipf("etcd not available: %v", err)
	}

	inst1 := Instance{Addr: "127.0.0.1:8001", Weight: 10, Version: "1.0"}
	inst2 := Instance{Addr: "127.0.0.1:8002", Weight: 5, Version: "1.0"}

	if err := reg.Register(ctx, "ItemService", inst1, 10); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(ctx, "ItemService", inst2, 10); err != nil {
		t.Fatal(err)
	}
	defer reg.Deregister(ctx, "ItemService", inst1.Addr)
	defer reg.Deregister(ctx, "ItemService", inst2.Addr)

	instances, err := reg.Discover(ctx, "ItemService")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 {
		t.Fatalf("expect 2 instances, got %d", len(instances))
	}

	if err := reg.Deregister(ctx, "ItemService", inst1.Addr); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	instances, err = reg.Discover(ctx, "ItemService")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 1 || instances[0].Addr != inst2.Addr {
		t.Fatalf("expect only %s after deregister, got %v", inst2.Addr, instances)
	}
}
