package redisstream

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/xawala"
)

// testConfig returns a Config pointed at XAWALA_REDIS_ADDR, skipping the test when Redis is unreachable.
func testConfig(t testing.TB) (Config, *redis.Client) {
	t.Helper()
	addr := os.Getenv("XAWALA_REDIS_ADDR")
	if addr == "" {
		t.Skip("XAWALA_REDIS_ADDR not set")
	}

	cfg := Defaults()
	cfg.Addr = addr
	cfg.Password = os.Getenv("XAWALA_REDIS_PASSWORD")
	cfg.Group = fmt.Sprintf("test-group-%d", time.Now().UnixNano())
	cfg.Block = 200 * time.Millisecond

	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return cfg, client
}

func cleanupStream(client *redis.Client, streams ...string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, s := range streams {
		_ = client.Del(ctx, s).Err()
	}
}

func uniqueTopic(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func TestConfigFromMap_ParsesDurationStrings(t *testing.T) {
	cfg := ConfigFromMap(map[string]any{
		"addr":           "redis:6379",
		"group":          "awala",
		"concurrency":    4,
		"block":          "250ms",
		"claim_min_idle": "30s",
		"dead_letter":    "awala.dlq",
		"max_len_approx": 1000,
	})

	assert.Equal(t, "redis:6379", cfg.Addr)
	assert.Equal(t, "awala", cfg.Group)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.Block)
	assert.Equal(t, 30*time.Second, cfg.ClaimMinIdle)
	assert.Equal(t, "awala.dlq", cfg.DeadLetter)
	assert.Equal(t, int64(1000), cfg.MaxLenApprox)
	assert.Equal(t, "$", cfg.StartID)
	require.NoError(t, cfg.Validate())
}

func TestConfigFromMap_KeepsDefaultsForBadValues(t *testing.T) {
	cfg := ConfigFromMap(map[string]any{
		"block":       "soon",
		"concurrency": -1,
		"addr":        "",
	})
	def := Defaults()
	assert.Equal(t, def.Block, cfg.Block)
	assert.Equal(t, def.Concurrency, cfg.Concurrency)
	assert.Equal(t, def.Addr, cfg.Addr)
}

func TestDefaults_EnableClaiming(t *testing.T) {
	cfg := Defaults()
	assert.Greater(t, cfg.ClaimMinIdle, time.Duration(0))
	assert.Greater(t, cfg.ClaimInterval, time.Duration(0))
	require.NoError(t, cfg.Validate())

	fromMap := ConfigFromMap(map[string]any{"addr": "redis:6379"})
	assert.Equal(t, cfg.ClaimMinIdle, fromMap.ClaimMinIdle)

	disabled := ConfigFromMap(map[string]any{"claim_min_idle": "0s"})
	assert.Equal(t, time.Duration(0), disabled.ClaimMinIdle)
}

func TestConfig_ValidateRejectsClaimWithoutInterval(t *testing.T) {
	cfg := Defaults()
	cfg.ClaimMinIdle = time.Second
	cfg.ClaimInterval = 0
	assert.Error(t, cfg.Validate())
}

func TestDecodeEnvelope_FromRedisValues(t *testing.T) {
	produced := time.Unix(0, 1_700_000_000_123_456_789)
	env := &xawala.Envelope{
		ID:         "parcel-1",
		Name:       xawala.IncomingServiceMessageType,
		Payload:    []byte{0x00, 0xff, 0x10},
		Metadata:   map[string]string{"content-type": "application/cloudevents+json"},
		ProducedAt: produced,
	}

	// Redis returns every field as a string.
	raw := make(map[string]any)
	for k, v := range encodeEnvelope(env) {
		switch x := v.(type) {
		case []byte:
			raw[k] = string(x)
		case int64:
			raw[k] = fmt.Sprintf("%d", x)
		default:
			raw[k] = x
		}
	}

	got := decodeEnvelope("1700000000000-0", raw)
	assert.Equal(t, "parcel-1", got.ID)
	assert.Equal(t, env.Name, got.Name)
	assert.Equal(t, env.Payload, got.Payload)
	assert.Equal(t, env.Metadata, got.Metadata)
	assert.True(t, produced.Equal(got.ProducedAt))
}

func TestDecodeEnvelope_FallsBackToStreamID(t *testing.T) {
	got := decodeEnvelope("42-0", map[string]any{fieldName: "x"})
	assert.Equal(t, "42-0", got.ID)
	assert.Empty(t, got.Payload)
	assert.True(t, got.ProducedAt.IsZero())
}

func TestPublish_AppendsEntries(t *testing.T) {
	cfg, client := testConfig(t)
	topic := uniqueTopic("publish")
	defer cleanupStream(client, topic)

	tr, err := NewTransport(cfg)
	require.NoError(t, err)
	defer tr.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	envs := make([]*xawala.Envelope, 10)
	for i := range envs {
		envs[i] = &xawala.Envelope{
			ID:         fmt.Sprintf("p-%d", i),
			Name:       xawala.OutgoingServiceMessageType,
			Payload:    []byte(fmt.Sprintf(`{"i":%d}`, i)),
			ProducedAt: time.Now(),
		}
	}
	require.NoError(t, tr.Publish(ctx, topic, envs...))

	n, err := client.XLen(ctx, topic).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(len(envs)), n)

	stats, ok := StatsOf(tr)
	require.True(t, ok)
	assert.Equal(t, uint64(len(envs)), stats.Published)
}

func TestSubscribe_ConsumesAllEntries(t *testing.T) {
	cfg, client := testConfig(t)
	cfg.Concurrency = 4
	topic := uniqueTopic("consume")
	defer cleanupStream(client, topic)

	tr, err := NewTransport(cfg)
	require.NoError(t, err)
	defer tr.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const total = 50
	var consumed atomic.Int64
	done := make(chan struct{})

	sub, err := tr.Subscribe(ctx, topic, cfg.Group, func(d xawala.Delivery) {
		assert.NotEmpty(t, d.Envelope().ID)
		_ = d.Ack(ctx)
		if consumed.Add(1) == total {
			close(done)
		}
	})
	require.NoError(t, err)
	defer sub.Close()

	envs := make([]*xawala.Envelope, total)
	for i := range envs {
		envs[i] = &xawala.Envelope{ID: fmt.Sprintf("p-%d", i), Payload: []byte("x")}
	}
	require.NoError(t, tr.Publish(ctx, topic, envs...))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for entries (consumed %d/%d)", consumed.Load(), total)
	}

	pending, err := client.XPending(ctx, topic, cfg.Group).Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}

func TestNack_WritesToDeadLetter(t *testing.T) {
	cfg, client := testConfig(t)
	topic := uniqueTopic("dlq-topic")
	cfg.DeadLetter = topic + ".dlq"
	defer cleanupStream(client, topic, cfg.DeadLetter)

	tr, err := NewTransport(cfg)
	require.NoError(t, err)
	defer tr.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	nacked := make(chan struct{})
	sub, err := tr.Subscribe(ctx, topic, cfg.Group, func(d xawala.Delivery) {
		_ = d.Nack(ctx, xawala.Permanent(errors.New("bad event")))
		close(nacked)
	})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, tr.Publish(ctx, topic, &xawala.Envelope{ID: "p-1", Name: "n", Payload: []byte("{}")}))

	select {
	case <-nacked:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for delivery")
	}

	entries, err := client.XRange(ctx, cfg.DeadLetter, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, topic, entries[0].Values[fieldOrigTopic])
	assert.Equal(t, "p-1", entries[0].Values[fieldID])
	assert.Equal(t, "true", entries[0].Values[fieldPermanent])

	pending, err := client.XPending(ctx, topic, cfg.Group).Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}

func TestNack_TransientStaysPending(t *testing.T) {
	cfg, client := testConfig(t)
	topic := uniqueTopic("pending")
	defer cleanupStream(client, topic)

	tr, err := NewTransport(cfg)
	require.NoError(t, err)
	defer tr.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	nacked := make(chan struct{})
	sub, err := tr.Subscribe(ctx, topic, cfg.Group, func(d xawala.Delivery) {
		_ = d.Nack(ctx, errors.New("downstream unavailable"))
		close(nacked)
	})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, tr.Publish(ctx, topic, &xawala.Envelope{ID: "p-1", Payload: []byte("{}")}))

	select {
	case <-nacked:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for delivery")
	}

	pending, err := client.XPending(ctx, topic, cfg.Group).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending.Count)
}

func TestNack_TransientIsRedeliveredByClaiming(t *testing.T) {
	cfg, client := testConfig(t)
	cfg.ClaimMinIdle = 200 * time.Millisecond
	cfg.ClaimInterval = 100 * time.Millisecond
	topic := uniqueTopic("reclaim")
	defer cleanupStream(client, topic)

	tr, err := NewTransport(cfg)
	require.NoError(t, err)
	defer tr.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var attempts atomic.Int32
	acked := make(chan struct{})
	sub, err := tr.Subscribe(ctx, topic, cfg.Group, func(d xawala.Delivery) {
		n := attempts.Add(1)
		if n == 1 {
			_ = d.Nack(ctx, errors.New("downstream unavailable"))
			return
		}
		assert.Equal(t, "p-1", d.Envelope().ID)
		assert.NoError(t, d.Ack(ctx))
		if n == 2 {
			close(acked)
		}
	})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, tr.Publish(ctx, topic, &xawala.Envelope{ID: "p-1", Payload: []byte("{}")}))

	select {
	case <-acked:
	case <-time.After(5 * time.Second):
		t.Fatal("nacked entry was never redelivered")
	}

	pending, err := client.XPending(ctx, topic, cfg.Group).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending.Count)
	stats, ok := StatsOf(tr)
	require.True(t, ok)
	assert.GreaterOrEqual(t, stats.Claimed, uint64(1))
}

func BenchmarkPublish_Batch(b *testing.B) {
	cfg, client := testConfig(b)
	topic := uniqueTopic("bench")
	defer cleanupStream(client, topic)

	tr, err := NewTransport(cfg)
	require.NoError(b, err)
	defer tr.Close(context.Background())

	envs := make([]*xawala.Envelope, 100)
	for i := range envs {
		envs[i] = &xawala.Envelope{Name: "bench", Payload: []byte(`{"bench":true}`), ProducedAt: time.Now()}
	}

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := tr.Publish(ctx, topic, envs...); err != nil {
			b.Fatal(err)
		}
	}
}
