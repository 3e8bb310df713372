// Package storage defines the BlobStore interface for the flat,
// capability-addressed object store that holds simulation results.
// Folder structure is a projection over key prefixes; the store itself
// has no directory objects.
package storage

import (
	"context"
	"io"
	"time"
)

// MaxRemoveBatch is the largest number of keys a single Remove call may
// carry, matching the backing store's per-call delete limit.
const MaxRemoveBatch = 1000

// Object is one entry from a prefix listing. IsPrefix marks a common
// prefix (a virtual folder) rather than a stored object.
type Object struct {
	Key          string
	Name         string
	Size         int64
	LastModified time.Time
	IsPrefix     bool
}

// BlobStore is the interface for object storage backends.
type BlobStore interface {
	// List returns the entries directly under prefix: stored objects
	// plus the common prefixes one level down.
	List(ctx context.Context, prefix string) ([]Object, error)

	// Upload stores content at the given key.
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error

	// Download retrieves an object and its size.
	Download(ctx context.Context, key string) (io.ReadCloser, int64, error)

	// Remove deletes up to MaxRemoveBatch keys in one call. Any failed
	// key fails the whole call.
	Remove(ctx context.Context, keys []string) error

	// SignedURL returns a time-limited URL for direct download.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)

	// Close releases any resources held by the backend.
	Close() error
}
