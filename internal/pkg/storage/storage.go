// Package storage publishes generated media to object storage.
package storage

import (
	"context"
	"io"
)

// Storage is an object store addressed by key.
type Storage interface {
	// Put stores the object at key, replacing any existing one.
	Put(ctx context.Context, key string, reader io.Reader, contentType string) error

	// Delete removes the object. Returns nil if it doesn't exist.
	Delete(ctx context.Context, key string) error

	// GetURL returns the public URL for key.
	GetURL(key string) string
}
