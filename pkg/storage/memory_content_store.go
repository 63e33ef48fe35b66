package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
)

// MemoryContentStore keeps payloads in memory, keyed by bucket and SHA-256.
type MemoryContentStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

var _ ContentStore = (*MemoryContentStore)(nil)

func NewMemoryContentStore() *MemoryContentStore {
	return &MemoryContentStore{blobs: make(map[string][]byte)}
}

func memoryKey(bucket, hashHex string) string {
	return bucket + "/" + hashHex
}

func (s *MemoryContentStore) Put(ctx context.Context, bucket string, r io.Reader) (ContentRef, error) {
	data, err := io.ReadAll(contextReader{ctx: ctx, r: r})
	if err != nil {
		return ContentRef{}, fmt.Errorf("read content: %w", err)
	}

	sum := sha256.Sum256(data)
	hashHex := hex.EncodeToString(sum[:])

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[memoryKey(bucket, hashHex)] = data
	return NewContentRef(hashHex, int64(len(data))), nil
}

func (s *MemoryContentStore) Get(ctx context.Context, bucket string, hashHex string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[memoryKey(bucket, hashHex)]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(data), nil
}

// Len returns the number of stored payloads.
func (s *MemoryContentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
