package redisstream

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/trickstertwo/xawala"
)

// delivery implements xawala.Delivery for Redis Streams.
type delivery struct {
	t     *transport
	topic string
	group string
	id    string // stream entry id
	env   *xawala.Envelope

	// Ensures Ack happens exactly once
	onceAck *sync.Once
}

func (d *delivery) Envelope() *xawala.Envelope {
	return d.env
}

// Ack acknowledges an entry, marking it as processed.
func (d *delivery) Ack(ctx context.Context) error {
	var err error
	d.onceAck.Do(func() {
		err = d.t.client.XAck(ctx, d.topic, d.group, d.id).Err()
		if err == nil {
			d.t.metrics.acked.Add(1)
			if d.t.cfg.AutoDeleteOnAck {
				_ = d.t.client.XDel(ctx, d.topic, d.id).Err()
			}
		}
	})
	return err
}

// Nack rejects an entry. Redis Streams has no NACK, so:
//  1. with a dead-letter stream, the entry is copied there and acked;
//  2. without one, permanent failures are acked (dropped) and others stay
//     pending for redelivery through claiming.
func (d *delivery) Nack(ctx context.Context, reason error) error {
	d.t.metrics.nacked.Add(1)
	permanent := xawala.IsPermanent(reason)

	if dl := d.t.cfg.DeadLetter; dl != "" {
		values := make(map[string]any, 7+len(d.env.Metadata))
		values[fieldOrigTopic] = d.topic
		values[fieldOrigID] = d.id
		values[fieldError] = fmt.Sprintf("%v", reason)
		values[fieldPermanent] = strconv.FormatBool(permanent)
		values[fieldID] = d.env.ID
		values[fieldName] = d.env.Name
		values[fieldPayload] = d.env.Payload
		for k, v := range d.env.Metadata {
			values[fieldMetaPrefix+k] = v
		}

		if err := d.t.client.XAdd(ctx, &redis.XAddArgs{
			Stream: dl,
			ID:     "*",
			Values: values,
		}).Err(); err != nil {
			return fmt.Errorf("dead-letter %s: %w", d.id, err)
		}
		d.t.metrics.deadLettered.Add(1)
		return d.Ack(ctx)
	}

	if permanent {
		return d.Ack(ctx)
	}
	return nil
}

// decodeEnvelope reconstructs an envelope from stream entry values.
// The envelope id is the producer's id when present, the stream entry id otherwise.
func decodeEnvelope(streamID string, vals map[string]any) *xawala.Envelope {
	env := &xawala.Envelope{ID: streamID}

	if v, ok := vals[fieldID]; ok {
		if s := asString(v); s != "" {
			env.ID = s
		}
	}
	if v, ok := vals[fieldName]; ok {
		env.Name = asString(v)
	}

	if v, ok := vals[fieldPayload]; ok {
		switch p := v.(type) {
		case []byte:
			env.Payload = p
		case string:
			env.Payload = []byte(p)
		}
	}

	if pa := vals[fieldProducedAt]; pa != nil {
		if ns, ok := toInt64(pa); ok && ns > 0 {
			env.ProducedAt = time.Unix(0, ns)
		}
	}

	env.Metadata = make(map[string]string, 4)
	for k, v := range vals {
		if name, ok := strings.CutPrefix(k, fieldMetaPrefix); ok {
			env.Metadata[name] = asString(v)
		}
	}

	return env
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprintf("%v", s)
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		if n == "" {
			return 0, false
		}
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return int64(f), true
		}
	case []byte:
		return toInt64(string(n))
	}
	return 0, false
}
