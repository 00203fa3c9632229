// Package store provides the durable key-value storage that is the single
// source of truth across restarts.
//
// Values are opaque bytes under fixed string keys. The in-memory views held by
// the queue and badge cache are always rebuildable from this store; nothing
// flows the other way.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key has never been set or was removed.
var ErrNotFound = errors.New("store: key not found")

// KV is the durable key-value contract. Implementations must be safe for
// concurrent use. Failures other than ErrNotFound are *types.StorageError.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error

	// SetMany writes every pair atomically: either all values are stored or none.
	SetMany(ctx context.Context, values map[string][]byte) error

	Close() error
}
