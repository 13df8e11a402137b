// Package store provides the durable key/value storage layer used to
// persist task state. It exposes a small TTL-aware interface with an
// in-memory implementation for tests and single-process deployments,
// and a Redis-backed implementation for everything else.
package store

import (
	"context"
	"errors"
	"time"
)

// Common errors returned by Store implementations.
var (
	// ErrNotFound is returned when the requested key does not exist
	// or has expired.
	ErrNotFound = errors.New("store: key not found")
)

// Store defines the interface for durable TTL key/value storage.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value stored under key.
	// Returns ErrNotFound if the key does not exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A non-zero ttl bounds the lifetime
	// of the entry; a zero ttl stores it without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes the entry stored under key. Deleting a missing
	// key is not an error.
	Delete(ctx context.Context, key string) error

	// ScanKeys returns all keys matching the given glob-style pattern
	// (e.g. "task:*"). The order of the returned keys is unspecified.
	ScanKeys(ctx context.Context, pattern string) ([]string, error)
}
