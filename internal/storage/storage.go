// Package storage defines the key/value persistence contract the session
// controller and catalog cache write through, plus two implementations: an
// in-memory store for tests and an embedded SQLite store for durable local
// state.
//
// Values are JSON-serializable blobs. All store failures are considered
// recoverable by callers — the core logs and continues wherever a failed
// write would otherwise interrupt user work.
package storage

import (
	"context"
	"errors"
)

// Well-known keys used by the core.
const (
	KeyCardSets          = "cardSets"
	KeyCardSetsTimestamp = "cardSetsTimestamp"
	KeyCurrentSession    = "currentSession"
	KeySessionHistory    = "sessionHistory"
	KeyLastSession       = "lastSession"
)

// ErrNotFound is returned by Get when no value exists for the key.
var ErrNotFound = errors.New("storage: key not found")

// KV is the narrow persistence contract. Implementations must be safe for
// concurrent use.
type KV interface {
	// Get returns the raw JSON value stored under key, or [ErrNotFound].
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any existing value.
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}
