package xawala_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/xawala"
	"github.com/trickstertwo/xawala/adapter/memory"
	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xlog/adapter/zerolog"
)

func quietLogger() *xlog.Logger {
	return zerolog.Use(zerolog.Config{MinLevel: xlog.LevelError, Writer: io.Discard})
}

func newTestEndpoint(t *testing.T, configure func(*xawala.EndpointBuilder)) (*xawala.Endpoint, *memory.Transport) {
	t.Helper()
	tr := memory.NewTransport(memory.Config{AssignIDs: true})
	b := xawala.NewEndpointBuilder().
		WithTransportInstance(tr).
		WithLogger(quietLogger())
	if configure != nil {
		configure(b)
	}
	ep, err := b.Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = ep.Close(context.Background()) })
	return ep, tr
}

func incomingEvent(t *testing.T, id string) *cloudevents.Event {
	t.Helper()
	evt := cloudevents.NewEvent()
	evt.SetID(id)
	evt.SetType(xawala.IncomingServiceMessageType)
	evt.SetSource("0peer")
	evt.SetSubject("0app")
	evt.SetTime(time.Now().Add(-time.Minute))
	evt.SetExtension(xawala.ExpiryExtension, xawala.FormatTimestamp(time.Now().Add(time.Hour)))
	require.NoError(t, evt.SetData("text/plain", []byte("hello "+id)))
	return &evt
}

func TestEndpoint_ReceiveDeliversConvertedMessages(t *testing.T) {
	for _, codec := range []string{"structured", "binary"} {
		t.Run(codec, func(t *testing.T) {
			ep, tr := newTestEndpoint(t, func(b *xawala.EndpointBuilder) { b.WithCodec(codec) })
			ctx := context.Background()

			got := make(chan xawala.IncomingServiceMessage, 1)
			sub, err := ep.Receive(ctx, "app", func(_ context.Context, msg xawala.IncomingServiceMessage) error {
				got <- msg
				return nil
			})
			require.NoError(t, err)
			defer sub.Close()

			require.NoError(t, ep.Publish(ctx, ep.Topics().Incoming, incomingEvent(t, "parcel-1")))

			select {
			case msg := <-got:
				assert.Equal(t, "parcel-1", msg.ParcelID)
				assert.Equal(t, "0peer", msg.SenderID)
				assert.Equal(t, "0app", msg.RecipientID)
				assert.Equal(t, "text/plain", msg.ContentType)
				assert.Equal(t, []byte("hello parcel-1"), msg.Content)
			case <-time.After(2 * time.Second):
				t.Fatal("message not delivered")
			}

			assert.Eventually(t, func() bool { return tr.Stats().Acked == 1 }, 2*time.Second, 5*time.Millisecond)
			m := ep.GetMetrics()
			assert.Equal(t, uint64(1), m.Received)
			assert.Equal(t, uint64(1), m.Acked)
		})
	}
}

func TestEndpoint_ReceiveRejectsInvalidEvents(t *testing.T) {
	var rejects atomic.Int32
	ep, tr := newTestEndpoint(t, func(b *xawala.EndpointBuilder) {
		b.WithObserver(xawala.ObserverFunc(func(e xawala.LifecycleEvent) {
			if e.Type == xawala.Reject {
				assert.ErrorIs(t, e.Err, xawala.ErrInvalidEventType)
				rejects.Add(1)
			}
		}))
	})
	ctx := context.Background()

	var calls atomic.Int32
	sub, err := ep.Receive(ctx, "app", func(context.Context, xawala.IncomingServiceMessage) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, err)
	defer sub.Close()

	wrongType := incomingEvent(t, "parcel-2")
	wrongType.SetType(xawala.OutgoingServiceMessageType)
	require.NoError(t, ep.Publish(ctx, ep.Topics().Incoming, wrongType))

	assert.Eventually(t, func() bool { return tr.Stats().DeadLettered == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return rejects.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, uint64(1), ep.GetMetrics().Rejected)
}

func TestEndpoint_ReceiveRedeliversAfterTransientFailure(t *testing.T) {
	ep, tr := newTestEndpoint(t, nil)
	ctx := context.Background()

	var attempts atomic.Int32
	done := make(chan struct{})
	sub, err := ep.Receive(ctx, "app", func(context.Context, xawala.IncomingServiceMessage) error {
		if attempts.Add(1) == 1 {
			return errors.New("database unavailable")
		}
		close(done)
		return nil
	})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, ep.Publish(ctx, ep.Topics().Incoming, incomingEvent(t, "parcel-3")))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("message not redelivered")
	}
	assert.Eventually(t, func() bool { return tr.Stats().Acked == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), tr.Stats().Redelivered)
	assert.Equal(t, uint64(1), ep.GetMetrics().Nacked)
}

func TestEndpoint_ReceiveValidatesArguments(t *testing.T) {
	ep, _ := newTestEndpoint(t, nil)
	noop := func(context.Context, xawala.IncomingServiceMessage) error { return nil }

	_, err := ep.Receive(context.Background(), "", noop)
	assert.ErrorIs(t, err, xawala.ErrInvalidSubscription)

	_, err = ep.Receive(context.Background(), "app", nil)
	assert.ErrorIs(t, err, xawala.ErrInvalidSubscription)
}

// captureOutgoing subscribes directly on the transport to observe what Send publishes.
func captureOutgoing(t *testing.T, ep *xawala.Endpoint, tr *memory.Transport) (<-chan *cloudevents.Event, func()) {
	t.Helper()
	out := make(chan *cloudevents.Event, 16)
	sub, err := tr.Subscribe(context.Background(), ep.Topics().Outgoing, "probe", func(d xawala.Delivery) {
		evt, err := ep.Codec().Decode(d.Envelope())
		assert.NoError(t, err)
		_ = d.Ack(context.Background())
		out <- evt
	})
	require.NoError(t, err)
	return out, func() { _ = sub.Close() }
}

func TestEndpoint_SendPublishesOutgoingEvents(t *testing.T) {
	ep, tr := newTestEndpoint(t, func(b *xawala.EndpointBuilder) {
		b.WithTopics(xawala.Topics{Outgoing: "pets.outgoing"})
	})
	out, stop := captureOutgoing(t, ep, tr)
	defer stop()

	id, err := ep.Send(context.Background(), xawala.OutgoingServiceMessage{
		ServiceMessage: xawala.ServiceMessage{
			SenderID:    "0app",
			RecipientID: "0peer",
			ContentType: "application/json",
			Content:     []byte(`{"pet":"cat"}`),
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	select {
	case evt := <-out:
		assert.Equal(t, id, evt.ID())
		assert.Equal(t, xawala.OutgoingServiceMessageType, evt.Type())
		assert.Equal(t, "0app", evt.Source())
		assert.Equal(t, "0peer", evt.Subject())
		assert.Equal(t, []byte(`{"pet":"cat"}`), evt.Data())
		assert.Contains(t, evt.Extensions(), xawala.ExpiryExtension)
	case <-time.After(2 * time.Second):
		t.Fatal("outgoing event not published")
	}
	assert.Equal(t, uint64(1), ep.GetMetrics().Sent)
}

func TestEndpoint_SendBatch(t *testing.T) {
	ep, tr := newTestEndpoint(t, nil)
	out, stop := captureOutgoing(t, ep, tr)
	defer stop()

	ids, err := ep.SendBatch(context.Background(),
		xawala.OutgoingServiceMessage{ParcelID: "a", ServiceMessage: xawala.ServiceMessage{RecipientID: "0peer", ContentType: "text/plain", Content: []byte("1")}},
		xawala.OutgoingServiceMessage{ParcelID: "b", ServiceMessage: xawala.ServiceMessage{RecipientID: "0peer", ContentType: "text/plain", Content: []byte("2")}},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	seen := map[string]bool{}
	for range ids {
		select {
		case evt := <-out:
			seen[evt.ID()] = true
		case <-time.After(2 * time.Second):
			t.Fatal("outgoing event not published")
		}
	}
	assert.Equal(t, map[string]bool{"a": true, "b": true}, seen)

	ids, err = ep.SendBatch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestEndpoint_CloseIsIdempotent(t *testing.T) {
	ep, _ := newTestEndpoint(t, nil)
	ctx := context.Background()

	assert.Equal(t, "healthy", ep.Health(ctx).Status)
	require.NoError(t, ep.Close(ctx))
	require.NoError(t, ep.Close(ctx))

	_, err := ep.Send(ctx, xawala.OutgoingServiceMessage{})
	assert.ErrorIs(t, err, xawala.ErrEndpointClosed)
	_, err = ep.Receive(ctx, "app", func(context.Context, xawala.IncomingServiceMessage) error { return nil })
	assert.ErrorIs(t, err, xawala.ErrEndpointClosed)
	assert.Equal(t, "unhealthy", ep.Health(ctx).Status)
}

func TestEndpoint_ObserverPoolDispatchesAsynchronously(t *testing.T) {
	var mu sync.Mutex
	var types []xawala.EventType
	ep, tr := newTestEndpoint(t, func(b *xawala.EndpointBuilder) {
		b.WithObserverPool(2, 64).WithObserver(xawala.ObserverFunc(func(e xawala.LifecycleEvent) {
			mu.Lock()
			types = append(types, e.Type)
			mu.Unlock()
		}))
	})
	_, stop := captureOutgoing(t, ep, tr)
	defer stop()

	_, err := ep.Send(context.Background(), xawala.OutgoingServiceMessage{
		ServiceMessage: xawala.ServiceMessage{RecipientID: "0peer", ContentType: "text/plain", Content: []byte("x")},
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(types) == 2
	}, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.ElementsMatch(t, []xawala.EventType{xawala.PublishStart, xawala.PublishDone}, types)
	mu.Unlock()
}

func TestFacade_UsesDefaultEndpoint(t *testing.T) {
	ep, tr := newTestEndpoint(t, nil)
	out, stop := captureOutgoing(t, ep, tr)
	defer stop()

	xawala.SetDefault(ep)
	got, err := xawala.Default()
	require.NoError(t, err)
	assert.Same(t, ep, got)

	id, err := xawala.Send(context.Background(), xawala.OutgoingServiceMessage{
		ParcelID:       "facade-1",
		ServiceMessage: xawala.ServiceMessage{RecipientID: "0peer", ContentType: "text/plain", Content: []byte("x")},
	})
	require.NoError(t, err)
	assert.Equal(t, "facade-1", id)

	select {
	case evt := <-out:
		assert.Equal(t, "facade-1", evt.ID())
	case <-time.After(2 * time.Second):
		t.Fatal("outgoing event not published")
	}
}
