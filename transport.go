package xawala

import (
	"context"
)

// Delivery encapsulates a received envelope with Ack/Nack semantics.
type Delivery interface {
	Envelope() *Envelope
	Ack(ctx context.Context) error
	// Nack rejects the envelope. Transports redeliver it unless IsPermanent(reason).
	Nack(ctx context.Context, reason error) error
}

// Handler processes a single envelope. Return error to trigger Nack/Retry.
type Handler func(ctx context.Context, env *Envelope) error

// Middleware composes processing concerns around a Handler.
type Middleware func(next Handler) Handler

// IncomingHandler processes a converted incoming service message.
type IncomingHandler func(ctx context.Context, msg IncomingServiceMessage) error

// IncomingMiddleware composes processing concerns around an IncomingHandler.
type IncomingMiddleware func(next IncomingHandler) IncomingHandler

// Subscription represents an active subscription that can be closed.
type Subscription interface {
	Close() error
}

// Transport is the Strategy interface for message brokers/backends.
type Transport interface {
	// Publish sends envelopes to a topic/stream.
	Publish(ctx context.Context, topic string, envs ...*Envelope) error
	// Subscribe binds a handler to a topic/stream within a consumer group.
	// The transport should drive delivery in background and honor ctx.
	Subscribe(ctx context.Context, topic, group string, handler func(Delivery)) (Subscription, error)
	// Close releases resources.
	Close(ctx context.Context) error
}
