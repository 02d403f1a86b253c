// Package cache defines the key-value substrate used for room versions,
// snapshots, rendered fragments and rate-limit counters.
//
// Every operation is atomic for a single key only. There are no cross-key
// transactions; callers must keep each invariant scoped to one key.
package cache

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// IncrFallback is the value Incr stores and returns when the counter is
// missing, expired or not numeric. Callers seed counters at 1 before the
// first increment, so 2 is the successor of that baseline.
const IncrFallback int64 = 2

// ErrNotNumeric is returned by GetInt when the stored value is not an integer.
var ErrNotNumeric = errors.New("cache value is not numeric")

// Store is a key-value store with per-key TTL and atomic increment.
// A ttl <= 0 means the entry does not expire.
type Store interface {
	// Get returns the value and true, or nil and false when absent or expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	// Incr atomically adds one to a numeric entry and returns the new value,
	// keeping the entry's expiry. A missing or non-numeric entry is replaced
	// by IncrFallback with fallbackTTL.
	Incr(ctx context.Context, key string, fallbackTTL time.Duration) (int64, error)
	Delete(ctx context.Context, key string) error
}

// GetInt reads a counter. ok is false when the key is absent.
func GetInt(ctx context.Context, s Store, key string) (n int64, ok bool, err error) {
	b, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return 0, false, err
	}
	n, err = strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, true, ErrNotNumeric
	}
	return n, true, nil
}

// SetInt stores a counter.
func SetInt(ctx context.Context, s Store, key string, n int64, ttl time.Duration) error {
	return s.Set(ctx, key, []byte(strconv.FormatInt(n, 10)), ttl)
}

// Counter is a fixed-window counter over a Store: the first hit sets the
// count to 1 for window, later hits increment until limit is reached.
// Limited reports whether the current hit is over the limit; an over-limit
// hit is not counted.
func Counter(ctx context.Context, s Store, key string, limit int64, window time.Duration) (limited bool, err error) {
	n, ok, err := GetInt(ctx, s, key)
	if err != nil && !errors.Is(err, ErrNotNumeric) {
		return false, err
	}
	if !ok || errors.Is(err, ErrNotNumeric) {
		return false, SetInt(ctx, s, key, 1, window)
	}
	if n >= limit {
		return true, nil
	}
	_, err = s.Incr(ctx, key, window)
	return false, err
}
