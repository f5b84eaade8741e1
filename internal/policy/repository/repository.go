// Package repository reads raw policy documents from the configured backend.
package repository

import "context"

// Source returns the JSON document stored under key, or nil when no document exists.
// An error means the backend could not be read.
type Source interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Writer stores a document only when the key is not present yet. Used by the seeder.
type Writer interface {
	PutIfAbsent(ctx context.Context, key string, doc []byte) (bool, error)
}
