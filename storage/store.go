/*
Package storage provides the chunk key-value store used by image formats.  Every read
and write returns a Future so callers can issue many chunk operations before waiting
on any of them.  Stores are backed by gocloud.dev blob buckets: local directories,
in-memory buckets for "mem://" locations, and cloud buckets for "gs://" and "s3://".
*/
package storage

import (
	"context"
)

// Store is an asynchronous key-value store of encoded chunks and metadata documents.
type Store interface {
	// Get returns a Future for the value of key.  A missing key resolves to a nil
	// value and a nil error.
	Get(ctx context.Context, key string) *Future

	// GetRange returns a Future for length bytes of key starting at offset.  A missing
	// key resolves to a nil value and a nil error.
	GetRange(ctx context.Context, key string, offset, length int64) *Future

	// Put returns a Future that resolves once value has been durably stored under key.
	// Each Put is all-or-nothing: readers never observe a partially written value.
	Put(ctx context.Context, key string, value []byte) *Future

	// Delete removes key.  Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists returns true if key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Size returns the size in bytes of the value stored under key.
	Size(ctx context.Context, key string) (int64, error)

	// Keys returns all keys with the given prefix in lexicographic order.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close waits for outstanding operations and releases the store.
	Close() error

	String() string
}
