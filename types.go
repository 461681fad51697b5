package xawala

import (
	"time"
)

// Envelope is the unit traveling the transport. Payload is produced by a Codec.
type Envelope struct {
	ID         string            // Unique message identifier (transport may assign if empty)
	Name       string            // CloudEvent type, for routing/metrics
	Payload    []byte            // Encoded event
	Metadata   map[string]string // Headers (binary mode attributes, tracing, etc)
	ProducedAt time.Time         // Production timestamp (from injected clock)
}

// EventType enumerates endpoint lifecycle events for the Observer pattern.
type EventType string

const (
	PublishStart EventType = "publish_start"
	PublishDone  EventType = "publish_done"
	ConsumeStart EventType = "consume_start"
	ConsumeDone  EventType = "consume_done"
	Ack          EventType = "ack"
	Nack         EventType = "nack"
	Reject       EventType = "reject" // event could not be decoded or converted
	Error        EventType = "error"
)

// LifecycleEvent carries telemetry for observers.
type LifecycleEvent struct {
	Type      EventType
	Topic     string
	Group     string
	MessageID string
	EventName string
	ParcelID  string
	Duration  time.Duration
	Err       error

	// Internal: attached for async dispatch
	observers []Observer
}

// PoolStats returns telemetry about the observer pool.
type PoolStats struct {
	Dropped      uint64 // Events dropped due to full buffer
	Processed    uint64 // Events successfully processed
	ActiveEvents int    // Current queue depth
	Workers      int    // Number of dispatch goroutines
	BufferSize   int    // Channel capacity
}

// Metrics defines observable telemetry for the endpoint.
type Metrics struct {
	Sent                uint64
	Received            uint64
	Acked               uint64
	Nacked              uint64
	Rejected            uint64
	Errors              uint64
	EventsDropped       uint64
	AvgProcessingTimeMs float64
}

// HealthStatus indicates endpoint health for Kubernetes probes.
type HealthStatus struct {
	Status    string // "healthy", "degraded", "unhealthy"
	Metrics   Metrics
	Timestamp time.Time
	Message   string
}
