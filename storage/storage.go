// Package storage defines the snapshot persistence contract. Backends
// store opaque blobs by key; the engine decides what goes in them and how
// to recover when a loaded blob is unusable.
package storage

import "context"

// SnapshotStore persists opaque snapshot blobs.
type SnapshotStore interface {
	// Save writes the blob under key, replacing any previous value.
	Save(ctx context.Context, key string, data []byte) error
	// Load returns the blob stored under key, or errors.ErrKeyNotFound.
	Load(ctx context.Context, key string) ([]byte, error)
	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Close releases backend resources.
	Close() error
}

// Noop discards all writes and never finds a key. Used when persistence
// is disabled.
type Noop struct{}

// NewNoop returns a store that persists nothing.
func NewNoop() *Noop { return &Noop{} }

// Save discards the blob.
func (*Noop) Save(context.Context, string, []byte) error { return nil }

// Load always reports the key as missing.
func (*Noop) Load(_ context.Context, key string) ([]byte, error) {
	return nil, notFound(key)
}

// Delete is a no-op.
func (*Noop) Delete(context.Context, string) error { return nil }

// Close is a no-op.
func (*Noop) Close() error { return nil }
