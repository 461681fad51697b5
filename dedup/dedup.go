// Package dedup suppresses duplicate deliveries of the same parcel.
//
// Awala guarantees at-least-once delivery, so an Internet app may receive an
// incoming service message more than once. A parcel id only needs to be
// remembered until the parcel expires; after that the endpoint would reject
// it anyway.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/trickstertwo/xawala"
	"github.com/trickstertwo/xclock"
)

const (
	// DefaultMaxTTL bounds how long a parcel id is remembered.
	DefaultMaxTTL = 180 * 24 * time.Hour

	// minTTL keeps ids of nearly expired parcels long enough to absorb redeliveries in flight.
	minTTL = time.Second

	keyPrefix = "xawala:parcel:"
)

// Filter tracks which parcel ids have already been processed.
type Filter interface {
	// Seen marks parcelID as seen until the given time and reports whether it
	// had been seen before.
	Seen(ctx context.Context, parcelID string, until time.Time) (bool, error)
	// Forget removes parcelID so that a redelivery is processed again.
	Forget(ctx context.Context, parcelID string) error
}

// RedisFilter is a Filter backed by Redis keys with a TTL.
type RedisFilter struct {
	rdb    redis.Cmdable
	clock  xawala.Clock
	maxTTL time.Duration
	prefix string
}

// RedisOption configures a RedisFilter.
type RedisOption func(*RedisFilter)

func WithMaxTTL(d time.Duration) RedisOption {
	return func(f *RedisFilter) {
		if d > 0 {
			f.maxTTL = d
		}
	}
}

// WithKeyPrefix namespaces keys, e.g. per app.
func WithKeyPrefix(p string) RedisOption {
	return func(f *RedisFilter) {
		if p != "" {
			f.prefix = p
		}
	}
}

func WithRedisClock(c xawala.Clock) RedisOption {
	return func(f *RedisFilter) {
		if c != nil {
			f.clock = c
		}
	}
}

// NewRedisFilter creates a dedup filter backed by Redis.
func NewRedisFilter(rdb redis.Cmdable, opts ...RedisOption) *RedisFilter {
	f := &RedisFilter{
		rdb:    rdb,
		clock:  xclock.Default(),
		maxTTL: DefaultMaxTTL,
		prefix: keyPrefix,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Seen sets the parcel key with SET NX, expiring when the parcel does.
func (f *RedisFilter) Seen(ctx context.Context, parcelID string, until time.Time) (bool, error) {
	ttl := f.ttl(until)
	set, err := f.rdb.SetNX(ctx, f.prefix+parcelID, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}
	return !set, nil
}

func (f *RedisFilter) Forget(ctx context.Context, parcelID string) error {
	if err := f.rdb.Del(ctx, f.prefix+parcelID).Err(); err != nil {
		return fmt.Errorf("dedup DEL: %w", err)
	}
	return nil
}

func (f *RedisFilter) ttl(until time.Time) time.Duration {
	ttl := until.Sub(f.clock.Now())
	return min(max(ttl, minTTL), f.maxTTL)
}

// MemoryFilter is a process-local Filter for tests and single-instance apps.
type MemoryFilter struct {
	clock xawala.Clock

	mu    sync.Mutex
	seen  map[string]time.Time
	calls int
}

// NewMemoryFilter creates an empty MemoryFilter. A nil clock uses xclock.Default().
func NewMemoryFilter(clock xawala.Clock) *MemoryFilter {
	if clock == nil {
		clock = xclock.Default()
	}
	return &MemoryFilter{clock: clock, seen: make(map[string]time.Time)}
}

func (f *MemoryFilter) Seen(_ context.Context, parcelID string, until time.Time) (bool, error) {
	now := f.clock.Now()

	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.calls%1024 == 0 {
		f.purge(now)
	}

	if exp, ok := f.seen[parcelID]; ok && now.Before(exp) {
		return true, nil
	}
	f.seen[parcelID] = maxTime(until, now.Add(minTTL))
	return false, nil
}

func (f *MemoryFilter) Forget(_ context.Context, parcelID string) error {
	f.mu.Lock()
	delete(f.seen, parcelID)
	f.mu.Unlock()
	return nil
}

// Len returns the number of remembered parcel ids, including expired ones not yet purged.
func (f *MemoryFilter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

func (f *MemoryFilter) purge(now time.Time) {
	for id, exp := range f.seen {
		if !now.Before(exp) {
			delete(f.seen, id)
		}
	}
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
