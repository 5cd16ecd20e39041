package test

import (
	"context"
	"testing"
	"time"

	"muxrpc/client"
	"muxrpc/codec"
	"muxrpc/envelope"
	"muxrpc/itemservice"
	"muxrpc/registry"
)

func setupBench(b *testing.B, addr string) *itemservice.Client {
	b.Helper()

	srv, err := itemservice.NewServer(&itemStore{}, nil)
	if err != nil {
		b.Fatal(err)
	}
	reg := registry.NewMemory()
	go srv.Serve("tcp", addr, "127.0.0.1"+addr, reg)
	b.Cleanup(func() { srv.Shutdown(3 * time.Second) })
	time.Sleep(100 * time.Millisecond)

	cli := itemservice.NewClient(reg, &client.Options{PoolSize: 8})
	b.Cleanup(cli.Close)
	return cli
}

// Serial calls over one multiplexed connection.
func BenchmarkSerialCall(b *testing.B) {
	cli := setupBench(b, ":29090")
	req := &itemservice.GetItemRequest{ID: 1}
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := cli.GetItem(context.Background(), req); err != nil {
			b.Fatal(err)
		}
	}
}

// Concurrent callers sharing pooled multiplexed connections.
func BenchmarkConcurrentCall(b *testing.B) {
	cli := setupBench(b, ":29091")
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		req := &itemservice.GetItemRequest{ID: 1}
		for pb.Next() {
			if _, err := cli.GetItem(context.Background(), req); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

// Pure codec throughput, no network.
func BenchmarkCodecRoundTrip(b *testing.B) {
	item := &itemservice.Item{
		ID:      1,
		Title:   "Item 1",
		Content: "This is the content for item 1",
		Extra:   map[string]string{"lang": "en"},
	}
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		data, err := codec.Marshal(item)
		if err != nil {
			b.Fatal(err)
		}
		var out itemservice.Item
		if err := codec.Unmarshal(data, &out); err != nil {
			b.Fatal(err)
		}
	}
}

// Envelope marshalling on its own.
func BenchmarkEnvelopeRoundTrip(b *testing.B) {
	env := &envelope.Envelope{
		Seq:     42,
		Kind:    envelope.KindCall,
		Method:  "GetItem",
		Payload: []byte{0x0a, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00},
	}
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		data, err := env.Marshal()
		if err != nil {
			b.Fatal(err)
		}
		var out envelope.Envelope
		if err := out.Unmarshal(data); err != nil {
			b.Fatal(err)
		}
	}
}
