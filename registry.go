package xawala

import (
	"errors"
	"sync"
)

// TransportFactory constructs transports from a config blob.
type TransportFactory func(cfg map[string]any) (Transport, error)

// CodecFactory constructs codecs via Factory pattern.
type CodecFactory func() Codec

var (
	transportRegistryMu sync.RWMutex
	transportRegistry   = map[string]TransportFactory{}

	codecRegistryMu sync.RWMutex
	codecRegistry   = map[string]CodecFactory{
		"structured": func() Codec { return StructuredCodec{} },
		"binary":     func() Codec { return BinaryCodec{} },
	}
)

// RegisterTransport registers a backend adapter.
func RegisterTransport(name string, factory TransportFactory) error {
	if name == "" {
		return errors.New("transport name must not be empty")
	}
	if factory == nil {
		return errors.New("transport factory must not be nil")
	}
	transportRegistryMu.Lock()
	transportRegistry[name] = factory
	transportRegistryMu.Unlock()
	return nil
}

// NewTransport constructs a transport by name with config.
func NewTransport(name string, cfg map[string]any) (Transport, error) {
	transportRegistryMu.RLock()
	f, ok := transportRegistry[name]
	transportRegistryMu.RUnlock()
	if !ok {
		return nil, ErrUnknownTransport{name: name}
	}
	return f(cfg)
}

// RegisterCodec registers a codec factory by name.
func RegisterCodec(name string, factory CodecFactory) error {
	if name == "" {
		return errors.New("codec name must not be empty")
	}
	if factory == nil {
		return errors.New("codec factory must not be nil")
	}
	codecRegistryMu.Lock()
	codecRegistry[name] = factory
	codecRegistryMu.Unlock()
	return nil
}

// NewCodec constructs a codec by name or returns an error.
func NewCodec(name string) (Codec, error) {
	codecRegistryMu.RLock()
	f, ok := codecRegistry[name]
	codecRegistryMu.RUnlock()
	if !ok {
		return nil, ErrUnknownCodec{name: name}
	}
	return f(), nil
}
