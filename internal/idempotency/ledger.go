// Package idempotency records which inbound deliveries have already been
// processed so retried webhooks and duplicated tool calls are ignored safely.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"clinicvoice_backend/platform/logger"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "dedup:"

// placeholder marks a key claimed by an in-flight delivery whose result has
// not been cached yet. A concurrent retry sees the claim and backs off.
const placeholder = "__processing__"

// ErrInFlight is returned when a duplicate arrives while the first delivery
// is still being processed.
var ErrInFlight = errors.New("delivery is already being processed")

// Record is what the ledger stores per dedup key.
type Record struct {
	FirstSeenAt time.Time       `json:"firstSeenAt"`
	Result      json.RawMessage `json:"result"`
}

// Ledger is a Redis-backed key/value store with TTL. Claims rely on Redis's
// atomic SET NX; no further locking is needed.
type Ledger struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

// New creates a ledger from a redis URL.
func New(redisURL string, ttl time.Duration, log *logger.Logger) (*Ledger, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewWithClient(redis.NewClient(opt), ttl, log), nil
}

// NewWithClient creates a ledger around an existing client. Tests use this
// with miniredis.
func NewWithClient(client *redis.Client, ttl time.Duration, log *logger.Logger) *Ledger {
	return &Ledger{client: client, ttl: ttl, log: log}
}

// Claim attempts to register key as seen. It returns (nil, true) when this is
// the first sighting, and the cached record with false on a duplicate.
// A duplicate of an in-flight delivery returns ErrInFlight.
func (l *Ledger) Claim(ctx context.Context, key string) (*Record, bool, error) {
	ok, err := l.client.SetNX(ctx, keyPrefix+key, placeholder, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("ledger claim: %w", err)
	}
	if ok {
		return nil, true, nil
	}

	raw, err := l.client.Get(ctx, keyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Expired between SetNX and Get; treat as first sighting.
			return l.Claim(ctx, key)
		}
		return nil, false, fmt.Errorf("ledger read: %w", err)
	}
	if raw == placeholder {
		return nil, false, ErrInFlight
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, false, fmt.Errorf("ledger decode: %w", err)
	}
	return &rec, false, nil
}

// Complete stores the cached result for a previously claimed key. The record
// is read-only afterward and expires with the ledger TTL.
func (l *Ledger) Complete(ctx context.Context, key string, result interface{}) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("ledger encode: %w", err)
	}
	rec := Record{FirstSeenAt: time.Now().UTC(), Result: payload}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("ledger encode: %w", err)
	}
	return l.client.Set(ctx, keyPrefix+key, data, l.ttl).Err()
}

// Release frees a claimed key after a processing failure so the provider's
// retry can attempt it again.
func (l *Ledger) Release(ctx context.Context, key string) {
	if err := l.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		l.log.Error("ledger release failed", "key", key, "error", err.Error())
	}
}

// Do runs fn exactly once per key. On a duplicate it returns the cached
// result bytes without invoking fn.
func (l *Ledger) Do(ctx context.Context, key string, fn func(ctx context.Context) (interface{}, error)) (json.RawMessage, bool, error) {
	rec, first, err := l.Claim(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !first {
		return rec.Result, true, nil
	}

	result, err := fn(ctx)
	if err != nil {
		l.Release(ctx, key)
		return nil, false, err
	}
	if err := l.Complete(ctx, key, result); err != nil {
		// The work itself succeeded; a caching failure must not fail the
		// delivery. The worst case is one redundant reprocessing.
		l.log.Error("ledger complete failed", "key", key, "error", err.Error())
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return nil, false, fmt.Errorf("ledger encode: %w", err)
	}
	return payload, false, nil
}

// Close releases the underlying client.
func (l *Ledger) Close() error {
	return l.client.Close()
}
