// Package metrics exports endpoint lifecycle events as Prometheus metrics.
package metrics

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/trickstertwo/xawala"
)

const namespace = "xawala"

// Observer is an xawala.Observer that counts lifecycle events and records
// publish/consume durations.
type Observer struct {
	events   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

var _ xawala.Observer = (*Observer)(nil)

// NewObserver creates an Observer and registers its collectors with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewObserver(reg prometheus.Registerer) (*Observer, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	o := &Observer{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Endpoint lifecycle events by type and topic",
		}, []string{"type", "topic"}),

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_duration_seconds",
			Help:      "Publish and consume durations",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 16),
		}, []string{"type", "topic"}),
	}

	if err := reg.Register(o.events); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		o.events = are.ExistingCollector.(*prometheus.CounterVec)
	}
	if err := reg.Register(o.duration); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		o.duration = are.ExistingCollector.(*prometheus.HistogramVec)
	}
	return o, nil
}

func (o *Observer) OnEvent(e xawala.LifecycleEvent) {
	typ := string(e.Type)
	o.events.WithLabelValues(typ, e.Topic).Inc()

	switch e.Type {
	case xawala.PublishDone, xawala.ConsumeDone:
		o.duration.WithLabelValues(typ, e.Topic).Observe(e.Duration.Seconds())
	}
}

// RegisterEndpoint exposes the endpoint's health counters as gauges.
// Gauges already registered with reg are kept; they keep reporting the
// endpoint they were first registered for.
func RegisterEndpoint(reg prometheus.Registerer, ep *xawala.Endpoint) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	gauge := func(name, help string, f func(xawala.Metrics) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "endpoint",
			Name:      name,
			Help:      help,
		}, func() float64 { return f(ep.GetMetrics()) })
	}

	collectors := []prometheus.Collector{
		gauge("avg_processing_ms", "Moving average of processing time", func(m xawala.Metrics) float64 {
			return m.AvgProcessingTimeMs
		}),
		gauge("observer_events_dropped", "Lifecycle events dropped by the observer pool", func(m xawala.Metrics) float64 {
			return float64(m.EventsDropped)
		}),
		gauge("healthy", "1 when the endpoint reports healthy", func(xawala.Metrics) float64 {
			if ep.Health(context.Background()).Status == "healthy" {
				return 1
			}
			return 0
		}),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return err
			}
		}
	}
	return nil
}
