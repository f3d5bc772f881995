// Package storage archives accepted records to blob stores. Backends live in
// the gcs, local and memory subpackages; postgres provides a relational
// archive and the seed source.
package storage

import (
	"context"
	"io"
)

// BlobStore writes one object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// NoOpStore accepts and discards every object.
type NoOpStore struct{}

// PutObject discards r.
func (NoOpStore) PutObject(_ context.Context, path string, _ string, _ io.Reader) (string, error) {
	return "noop://" + path, nil
}
