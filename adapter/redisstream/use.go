package redisstream

import (
	"fmt"

	"github.com/trickstertwo/xawala"
)

const TransportName = "redis-streams"

func init() {
	if err := xawala.RegisterTransport(TransportName, func(cfg map[string]any) (xawala.Transport, error) {
		return NewTransport(ConfigFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("xawala: failed to register transport %q: %w", TransportName, err))
	}
}

// Use builds an Endpoint on Redis Streams, installs it as the default Endpoint and returns it.
func Use(cfg Config, opts ...Option) *xawala.Endpoint {
	eb := xawala.NewEndpointBuilder().
		WithTransport(TransportName, cfg.toMap())

	for _, o := range opts {
		if o != nil {
			o(eb)
		}
	}
	ep, err := eb.Build()
	if err != nil {
		panic(fmt.Errorf("redisstream.Use: %w", err))
	}

	xawala.SetDefault(ep)
	return ep
}
