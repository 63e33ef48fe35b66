package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a content reference does not resolve.
var ErrNotFound = errors.New("storage: content not found")

// ContentRef identifies a payload held by a ContentStore.
type ContentRef struct {
	// ID is the self-describing content identifier, "sha256:<hex>".
	ID string
	// Hash is the lowercase hexadecimal SHA-256 of the payload.
	Hash string
	Size int64
}

// NewContentRef builds a reference for a payload with the given hash.
func NewContentRef(hashHex string, size int64) ContentRef {
	return ContentRef{ID: "sha256:" + hashHex, Hash: hashHex, Size: size}
}

// ContentStore is the content-addressed target that receives assembled
// multipart payloads. Put consumes r to EOF and returns a reference to the
// stored bytes. Storing identical content twice yields the same reference.
type ContentStore interface {
	Put(ctx context.Context, bucket string, r io.Reader) (ContentRef, error)
	Get(ctx context.Context, bucket string, hashHex string) ([]byte, error)
}

// contextReader stops yielding data once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
