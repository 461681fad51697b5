package metrics

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/xawala"
	"github.com/trickstertwo/xawala/adapter/memory"
	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xlog/adapter/zerolog"
)

func TestObserver_CountsEventsByTypeAndTopic(t *testing.T) {
	reg := prometheus.NewRegistry()
	o, err := NewObserver(reg)
	require.NoError(t, err)

	o.OnEvent(xawala.LifecycleEvent{Type: xawala.ConsumeStart, Topic: "in"})
	o.OnEvent(xawala.LifecycleEvent{Type: xawala.ConsumeDone, Topic: "in", Duration: 20 * time.Millisecond})
	o.OnEvent(xawala.LifecycleEvent{Type: xawala.Reject, Topic: "in"})
	o.OnEvent(xawala.LifecycleEvent{Type: xawala.Reject, Topic: "in"})
	o.OnEvent(xawala.LifecycleEvent{Type: xawala.PublishDone, Topic: "out", Duration: time.Millisecond})

	assert.Equal(t, 1.0, testutil.ToFloat64(o.events.WithLabelValues("consume_start", "in")))
	assert.Equal(t, 2.0, testutil.ToFloat64(o.events.WithLabelValues("reject", "in")))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.events.WithLabelValues("publish_done", "out")))
	assert.Equal(t, 2, testutil.CollectAndCount(o.duration))
}

func TestNewObserver_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewObserver(reg)
	require.NoError(t, err)
	second, err := NewObserver(reg)
	require.NoError(t, err)

	first.OnEvent(xawala.LifecycleEvent{Type: xawala.Ack, Topic: "in"})
	second.OnEvent(xawala.LifecycleEvent{Type: xawala.Ack, Topic: "in"})

	assert.Equal(t, 2.0, testutil.ToFloat64(first.events.WithLabelValues("ack", "in")))
}

func TestRegisterEndpoint_ExposesHealthGauges(t *testing.T) {
	logger := zerolog.Use(zerolog.Config{MinLevel: xlog.LevelError, Writer: io.Discard})
	ep, err := xawala.NewEndpointBuilder().
		WithLogger(logger).
		WithTransportInstance(memory.NewTransport(memory.Config{})).
		Build()
	require.NoError(t, err)
	defer ep.Close(context.Background())

	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterEndpoint(reg, ep))
	require.NoError(t, RegisterEndpoint(reg, ep), "registering twice keeps the existing gauges")

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.ElementsMatch(t, []string{
		"xawala_endpoint_avg_processing_ms",
		"xawala_endpoint_observer_events_dropped",
		"xawala_endpoint_healthy",
	}, names)

	for _, f := range families {
		assert.Len(t, f.GetMetric(), 1)
		if f.GetName() == "xawala_endpoint_healthy" {
			assert.Equal(t, 1.0, f.GetMetric()[0].GetGauge().GetValue())
		}
	}
}
