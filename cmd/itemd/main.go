// Command itemd serves the example ItemService over muxrpc.
//
//	itemd [-config itemd.toml]
//
// With etcd endpoints configured it registers itself for discovery;
// otherwise it just listens.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"muxrpc/itemservice"
	"muxrpc/middleware"
	"muxrpc/registry"
	"muxrpc/server"
)

// store is the demo ItemService implementation: it fabricates items on
// demand, the way the canonical example service does.
type store struct{}

func (store) GetItem(ctx context.Context, req *itemservice.GetItemRequest) (*itemservice.GetItemResponse, error) {
	if req.ID < 0 {
		return nil, &itemservice.ItemNotFound{ID: req.ID}
	}
	return &itemservice.GetItemResponse{
		Item: itemservice.Item{
			ID:      req.ID,
			Title:   fmt.Sprintf("Item %d", req.ID),
			Content: fmt.Sprintf("This is the content for item %d", req.ID),
			Extra:   map[string]string{},
		},
	}, nil
}

func (store) ReportView(ctx context.Context, ev *itemservice.ViewEvent) error {
	return nil
}

func main() {
	configPath := flag.String("config", "", "path to TOML config")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "itemd: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := loadServerConfig(*configPath)
	if err != nil {
		log.Fatal("bad config", zap.Error(err))
	}

	srv, err := itemservice.NewServer(store{}, &server.Options{
		Logger:      log,
		RegistryTTL: cfg.RegistryTTL,
	})
	if err != nil {
		log.Fatal("server setup failed", zap.Error(err))
	}
	srv.Use(middleware.Recovery(log))
	srv.Use(middleware.Logging(log))
	if cfg.RateLimit > 0 {
		srv.Use(middleware.RateLimit(cfg.RateLimit, cfg.RateBurst))
	}
	srv.Use(middleware.Timeout(cfg.handlerTimeout))

	var reg registry.Registry
	if len(cfg.EtcdEndpoints) > 0 {
		etcdReg, err := registry.NewEtcd(cfg.EtcdEndpoints, log)
		if err != nil {
			log.Fatal("etcd registry unavailable", zap.Error(err))
		}
		defer etcdReg.Close()
		reg = etcdReg
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve("tcp", cfg.Listen, cfg.AdvertiseAddr, reg)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatal("serve failed", zap.Error(err))
		}
	case sig := <-sigCh:
		log.Info("shutting down", zap.Stringer("signal", sig))
		if err := srv.Shutdown(10 * time.Second); err != nil {
			log.Warn("shutdown incomplete", zap.Error(err))
		}
	}
}
