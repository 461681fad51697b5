package xawala

import (
	"context"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// Observer receives endpoint lifecycle events. Implementations should be non-blocking.
type Observer interface {
	OnEvent(e LifecycleEvent)
}

// HealthChecker provides health status for production monitoring.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

// API represents the complete endpoint surface for extensibility.
type API interface {
	Send(ctx context.Context, msg OutgoingServiceMessage) (string, error)
	SendBatch(ctx context.Context, msgs ...OutgoingServiceMessage) ([]string, error)
	Publish(ctx context.Context, topic string, events ...*cloudevents.Event) error
	Receive(ctx context.Context, group string, handler IncomingHandler) (Subscription, error)
	Close(ctx context.Context) error
	GetMetrics() Metrics
	Health(ctx context.Context) HealthStatus
	AddObserver(obs Observer)
	RemoveObserver(obs Observer)
}

var _ API = (*Endpoint)(nil)
var _ HealthChecker = (*Endpoint)(nil)
