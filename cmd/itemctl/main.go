// Command itemctl fetches an item from a running itemd.
//
//	itemctl [-etcd 127.0.0.1:2379 | -addr 127.0.0.1:9090] [-id 1024] [-view]
package main

import (
	"context"
	"flag"
	"strings"
	"time"

	"go.uber.org/zap"

	"muxrpc/client"
	"muxrpc/itemservice"
	"muxrpc/registry"
)

func main() {
	etcdEndpoints := flag.String("etcd", "", "comma-separated etcd endpoints for discovery")
	addr := flag.String("addr", "127.0.0.1:9090", "server address, used when -etcd is unset")
	id := flag.Int64("id", 1024, "item id to fetch")
	view := flag.Bool("view", false, "also report a view event (one-way)")
	timeout := flag.Duration("timeout", 5*time.Second, "per-call timeout")
	flag.Parse()

	log, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx := context.Background()

	var reg registry.Registry
	if *etcdEndpoints != "" {
		etcdReg, err := registry.NewEtcd(strings.Split(*etcdEndpoints, ","), log)
		if err != nil {
			log.Fatal("etcd registry unavailable", zap.Error(err))
		}
		defer etcdReg.Close()
		reg = etcdReg
	} else {
		mem := registry.NewMemory()
		mem.Register(ctx, itemservice.Descriptor.Name(), registry.Instance{Addr: *addr}, 0)
		reg = mem
	}

	cli := itemservice.NewClient(reg, &client.Options{
		CallTimeout: *timeout,
		Logger:      log,
	})
	defer cli.Close()

	resp, err := cli.GetItem(ctx, &itemservice.GetItemRequest{ID: *id})
	if err != nil {
		log.Fatal("GetItem failed", zap.Error(err))
	}
	log.Info("got item",
		zap.Int64("id", resp.Item.ID),
		zap.String("title", resp.Item.Title),
		zap.String("content", resp.Item.Content))

	if *view {
		if err := cli.ReportView(ctx, &itemservice.ViewEvent{ItemID: *id, Viewer: "itemctl"}); err != nil {
			log.Fatal("ReportView failed", zap.Error(err))
		}
		log.Info("view reported", zap.Int64("id", *id))
	}
}
