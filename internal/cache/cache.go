// Package cache provides the byte-level key/value cache used for geocoding
// results and dashboard stats, backed by process memory or Redis.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Cache stores opaque values with a TTL. A miss is (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// GetJSON loads key and decodes it into dest.
func GetJSON(ctx context.Context, c Cache, key string, dest interface{}) (bool, error) {
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("decoding cached %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes value and stores it under key.
func SetJSON(ctx context.Context, c Cache, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return c.Set(ctx, key, raw, ttl)
}

type instrumented struct {
	Cache
	hits, misses, errors prometheus.Counter
}

// Instrument counts lookups of c in requests, labelled by cache name and
// result (hit, miss, error).
func Instrument(c Cache, name string, requests *prometheus.CounterVec) Cache {
	return &instrumented{
		Cache:  c,
		hits:   requests.WithLabelValues(name, "hit"),
		misses: requests.WithLabelValues(name, "miss"),
		errors: requests.WithLabelValues(name, "error"),
	}
}

func (i *instrumented) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok, err := i.Cache.Get(ctx, key)
	switch {
	case err != nil:
		i.errors.Inc()
	case ok:
		i.hits.Inc()
	default:
		i.misses.Inc()
	}
	return v, ok, err
}
