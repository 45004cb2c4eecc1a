package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"time"
)

// Result classifies a typed cache read. A HitNull means the absence of
// the entity was cached on an earlier lookup (negative cache); callers
// must treat it as an authoritative "does not exist" and skip the
// backing store.
type Result int

const (
	Miss Result = iota
	Hit
	HitNull
)

var jsonNull = []byte("null")

// GetJSON reads key and decodes the stored JSON into T. A stored null
// reports HitNull with the zero value; an absent key reports Miss.
func GetJSON[T any](ctx context.Context, c Cache, key string) (T, Result, error) {
	var zero T

	raw, found, err := c.Get(ctx, key)
	if err != nil || !found {
		return zero, Miss, err
	}
	if bytes.Equal(bytes.TrimSpace(raw), jsonNull) {
		return zero, HitNull, nil
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		// A corrupt entry behaves like a miss so the caller refreshes it.
		return zero, Miss, nil
	}
	return v, Hit, nil
}

// SetJSON stores value under key as JSON with the given TTL.
func SetJSON(ctx context.Context, c Cache, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, raw, ttl)
}

// SetNull negative-caches the absence of an entity under key.
func SetNull(ctx context.Context, c Cache, key string, ttl time.Duration) error {
	return c.Set(ctx, key, jsonNull, ttl)
}
