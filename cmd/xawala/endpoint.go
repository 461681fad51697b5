package main

import (
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/trickstertwo/xlog"

	"github.com/trickstertwo/xawala"
	"github.com/trickstertwo/xawala/config"
	"github.com/trickstertwo/xawala/dedup"
)

// buildEndpoint wires an Endpoint from cfg. The returned cleanup releases
// resources created here besides the endpoint itself.
func buildEndpoint(cfg *config.Config, logger *xlog.Logger, observers ...xawala.Observer) (*xawala.Endpoint, func(), error) {
	b := cfg.Apply(xawala.NewEndpointBuilder()).
		WithLogger(logger).
		WithObserver(observers...)

	cleanup := func() {}
	if cfg.Dedup.Enabled {
		filter, closeFilter := newDedupFilter(cfg.Dedup)
		cleanup = closeFilter
		b.WithIncomingMiddleware(dedup.Middleware(filter))
	}

	ep, err := b.Build()
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("build endpoint: %w", err)
	}
	return ep, cleanup, nil
}

func newDedupFilter(cfg config.DedupConfig) (dedup.Filter, func()) {
	if cfg.RedisAddr == "" {
		return dedup.NewMemoryFilter(nil), func() {}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	f := dedup.NewRedisFilter(rdb, dedup.WithMaxTTL(cfg.MaxTTL))
	return f, func() { _ = rdb.Close() }
}

func readContent(inline, file string) ([]byte, error) {
	if file == "" {
		return []byte(inline), nil
	}
	return os.ReadFile(file)
}
