package nats

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/xawala"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	url := os.Getenv("XAWALA_NATS_URL")
	if url == "" {
		t.Skip("XAWALA_NATS_URL not set")
	}
	cfg := Defaults()
	cfg.URL = url
	cfg.ConnectTimeout = 2 * time.Second
	return cfg
}

func TestConfigFromMap(t *testing.T) {
	cfg := ConfigFromMap(map[string]any{
		"url":            "nats://broker:4222",
		"concurrency":    8,
		"reconnect_wait": "500ms",
		"dead_letter":    "awala.dlq",
	})
	assert.Equal(t, "nats://broker:4222", cfg.URL)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.Equal(t, 500*time.Millisecond, cfg.ReconnectWait)
	assert.Equal(t, "awala.dlq", cfg.DeadLetter)
	assert.Equal(t, "xawala", cfg.Name)
	require.NoError(t, cfg.Validate())
}

func TestConfig_ValidateRejectsMixedCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Username = "app"
	cfg.Token = "secret"
	assert.Error(t, cfg.Validate())
}

func TestMessageMapping_PreservesEnvelope(t *testing.T) {
	produced := time.Unix(0, 1_700_000_000_000_000_001)
	env := &xawala.Envelope{
		ID:      "parcel-1",
		Name:    xawala.OutgoingServiceMessageType,
		Payload: []byte(`{"hello":"world"}`),
		Metadata: map[string]string{
			"content-type": "application/json",
			"ce-expiry":    "2024-04-01T00:00:00Z",
		},
		ProducedAt: produced,
	}

	msg := toMsg("awala.outgoing", env)
	assert.Equal(t, "awala.outgoing", msg.Subject)
	assert.Equal(t, []string{"application/json"}, msg.Header[headerMetaPrefix+"content-type"])

	got := fromMsg(msg)
	assert.Equal(t, env.ID, got.ID)
	assert.Equal(t, env.Name, got.Name)
	assert.Equal(t, env.Payload, got.Payload)
	assert.Equal(t, env.Metadata, got.Metadata)
	assert.True(t, produced.Equal(got.ProducedAt))
}

func TestMessageMapping_IgnoresForeignHeaders(t *testing.T) {
	msg := natsgo.NewMsg("s")
	msg.Header["Nats-Msg-Id"] = []string{"x"}
	msg.Header[headerID] = []string{"p"}

	got := fromMsg(msg)
	assert.Equal(t, "p", got.ID)
	assert.Empty(t, got.Metadata)
}

func TestTransport_RoundTripAndDeadLetter(t *testing.T) {
	cfg := testConfig(t)
	cfg.DeadLetter = "xawala.test.dlq"

	tr, err := NewTransport(cfg)
	require.NoError(t, err)
	defer tr.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	nt := tr.(*transport)
	dlq := make(chan *natsgo.Msg, 1)
	dlqSub, err := nt.conn.ChanSubscribe(cfg.DeadLetter, dlq)
	require.NoError(t, err)
	defer dlqSub.Unsubscribe()

	received := make(chan *xawala.Envelope, 1)
	sub, err := tr.Subscribe(ctx, "xawala.test.incoming", "workers", func(d xawala.Delivery) {
		received <- d.Envelope()
		_ = d.Nack(ctx, xawala.Permanent(errors.New("bad event")))
	})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, tr.Publish(ctx, "xawala.test.incoming", &xawala.Envelope{ID: "p-1", Name: "n", Payload: []byte("{}")}))

	select {
	case env := <-received:
		assert.Equal(t, "p-1", env.ID)
	case <-ctx.Done():
		t.Fatal("timeout waiting for delivery")
	}

	select {
	case msg := <-dlq:
		assert.Equal(t, "true", msg.Header.Get(headerPermanent))
		assert.Equal(t, "p-1", fromMsg(msg).ID)
	case <-ctx.Done():
		t.Fatal("timeout waiting for dead letter")
	}
}
