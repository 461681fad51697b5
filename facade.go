package xawala

import (
	"context"
	"sync"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

var (
	defaultEndpoint   *Endpoint
	defaultEndpointMu sync.RWMutex

	defaultConverter   *Converter
	defaultConverterMu sync.Mutex
)

// Default returns the process-wide Endpoint installed with SetDefault.
func Default() (*Endpoint, error) {
	defaultEndpointMu.RLock()
	defer defaultEndpointMu.RUnlock()
	if defaultEndpoint == nil {
		return nil, ErrDefaultEndpointNotSet
	}
	return defaultEndpoint, nil
}

// SetDefault replaces the process-wide default Endpoint.
func SetDefault(e *Endpoint) {
	if e == nil {
		panic("xawala: SetDefault called with nil Endpoint")
	}
	defaultEndpointMu.Lock()
	defaultEndpoint = e
	defaultEndpointMu.Unlock()
}

// Send is the Facade using the default endpoint.
func Send(ctx context.Context, msg OutgoingServiceMessage) (string, error) {
	e, err := Default()
	if err != nil {
		return "", err
	}
	return e.Send(ctx, msg)
}

// Receive is the Facade using the default endpoint.
func Receive(ctx context.Context, group string, handler IncomingHandler) (Subscription, error) {
	e, err := Default()
	if err != nil {
		return nil, err
	}
	return e.Receive(ctx, group, handler)
}

// DefaultConverter returns the process-wide Converter, creating it on first use.
func DefaultConverter() *Converter {
	defaultConverterMu.Lock()
	defer defaultConverterMu.Unlock()
	if defaultConverter == nil {
		defaultConverter = NewConverter()
	}
	return defaultConverter
}

// SetDefaultConverter replaces the process-wide Converter.
func SetDefaultConverter(c *Converter) {
	if c == nil {
		panic("xawala: SetDefaultConverter called with nil Converter")
	}
	defaultConverterMu.Lock()
	defaultConverter = c
	defaultConverterMu.Unlock()
}

// MakeIncomingServiceMessage converts evt with the default converter.
func MakeIncomingServiceMessage(evt cloudevents.Event) (IncomingServiceMessage, error) {
	return DefaultConverter().MakeIncomingServiceMessage(evt)
}

// MakeOutgoingCloudEvent converts msg with the default converter.
func MakeOutgoingCloudEvent(msg OutgoingServiceMessage) cloudevents.Event {
	return DefaultConverter().MakeOutgoingCloudEvent(msg)
}
