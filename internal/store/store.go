package store

import (
	"context"
	"errors"
	"time"
)

// Key prefixes follow the legacy key space so operators can inspect the store
// with plain redis-cli.
const (
	sessionKeyPrefix   = "CALL_SESSION:"
	rateLimitKeyPrefix = "RATE_LIMIT:"
	outboxKeyPrefix    = "OUTBOX:"

	SessionKeyPattern = sessionKeyPrefix + "*"
	OutboxKeyPattern  = outboxKeyPrefix + "*"
)

var (
	ErrKeyNotFound     = errors.New("store: key not found")
	ErrVersionConflict = errors.New("store: version conflict")

	// ErrTransientState is surfaced after bounded internal retries against an
	// unavailable store. It is the only error that makes the system unhealthy.
	ErrTransientState = errors.New("store: transient state store error")
)

// Store is a typed key/value abstraction with per-key TTL and atomic
// compare-and-transition primitives. Values are stored as JSON documents;
// values written through CompareAndPut must carry a top-level "version"
// number field.
type Store interface {
	// Get decodes the value at key into dest. Returns ErrKeyNotFound for
	// missing or expired keys.
	Get(ctx context.Context, key string, dest any) error

	// Put writes the value unconditionally with the given TTL.
	Put(ctx context.Context, key string, value any, ttl time.Duration) error

	// PutIfAbsent writes the value only if the key does not exist. The
	// returned bool reports whether the write happened.
	PutIfAbsent(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)

	// CompareAndPut writes the value only if the stored document's version
	// equals expectedVersion. Returns ErrVersionConflict on mismatch and
	// ErrKeyNotFound if the key is missing or expired.
	CompareAndPut(ctx context.Context, key string, expectedVersion int64, value any, ttl time.Duration) error

	Delete(ctx context.Context, key string) error

	// Keys returns the keys matching a glob pattern. Intended for the
	// dispatcher scan and stats sampling, not hot paths.
	Keys(ctx context.Context, pattern string) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}

func SessionKey(callID string) string {
	return sessionKeyPrefix + callID
}

func RateLimitKey(phoneHash string) string {
	return rateLimitKeyPrefix + phoneHash
}

func OutboxKey(eventID string) string {
	return outboxKeyPrefix + eventID
}
