package main

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

type serverConfig struct {
	Listen        string   `toml:"listen"`
	AdvertiseAddr string   `toml:"advertise_addr"`
	EtcdEndpoints []string `toml:"etcd_endpoints"`
	RegistryTTL   int64    `toml:"registry_ttl_seconds"`

	RateLimit      float64 `toml:"rate_limit"`
	RateBurst      int     `toml:"rate_burst"`
	HandlerTimeout string  `toml:"handler_timeout"`

	handlerTimeout time.Duration
}

func defaultServerConfig() serverConfig {
	return serverConfig{
		Listen:         ":9090",
		AdvertiseAddr:  "127.0.0.1:9090",
		RegistryTTL:    10,
		handlerTimeout: 5 * time.Second,
	}
}

func loadServerConfig(path string) (serverConfig, error) {
	cfg := defaultServerConfig()
	if path == "" {
		return cfg, nil
	}

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return serverConfig{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if meta.IsDefined("handler_timeout") {
		d, err := time.ParseDuration(cfg.HandlerTimeout)
		if err != nil {
			return serverConfig{}, fmt.Errorf("parse handler_timeout: %w", err)
		}
		cfg.handlerTimeout = d
	}
	return cfg, nil
}
