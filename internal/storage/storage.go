// Package storage provides the blob store holding source XML files and CDR
// receipts. Documents reference blobs by opaque ref, never by raw bytes.
package storage

import "context"

// BlobStore stores opaque blobs. Put returns a ref the caller persists; Get
// resolves it. A missing ref surfaces sentinel.ErrNotFound.
type BlobStore interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}
