package domain

import (
	"context"
	"io"
)

// BlobWriter uploads objects to cold storage. Used by the archiver to move
// aged exit history out of the primary database.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}
