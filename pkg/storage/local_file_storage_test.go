package storage_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/eteran/stagegate/pkg/storage"

	"github.com/stretchr/testify/require"
)

func hashOf(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

func TestLocalFileStoragePutAndGet(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	dataDir := t.TempDir()
	engine := storage.NewLocalFileStorage(dataDir)
	bucket := "example"

	payload := []byte("hello local storage")
	hashHex := hashOf(payload)

	ref, err := engine.Put(ctx, bucket, bytes.NewReader(payload))
	require.NoError(t, err, "Put error")
	require.Equal(t, hashHex, ref.Hash)
	require.Equal(t, "sha256:"+hashHex, ref.ID)
	require.Equal(t, int64(len(payload)), ref.Size)

	objPath := filepath.Join(dataDir, bucket, hashHex[:2], hashHex)
	info, err := os.Stat(objPath)
	require.NoError(t, err, "expected object file to exist")
	require.False(t, info.IsDir(), "object path should be a file")

	got, err := engine.Get(ctx, bucket, hashHex)
	require.NoError(t, err, "Get error")
	require.Equal(t, payload, got, "payload mismatch")

	entries, err := os.ReadDir(filepath.Join(dataDir, ".incoming"))
	require.NoError(t, err, "ReadDir error")
	require.Empty(t, entries, "temp files should be cleaned up")
}

func TestLocalFileStoragePutIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	engine := storage.NewLocalFileStorage(t.TempDir())

	first, err := engine.Put(ctx, "bucket", strings.NewReader("same bytes"))
	require.NoError(t, err, "first Put error")
	second, err := engine.Put(ctx, "bucket", strings.NewReader("same bytes"))
	require.NoError(t, err, "second Put error")
	require.Equal(t, first, second)
}

func TestLocalFileStorageGetMissing(t *testing.T) {
	t.Parallel()

	engine := storage.NewLocalFileStorage(t.TempDir())

	_, err := engine.Get(t.Context(), "bucket", strings.Repeat("0", 64))
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = engine.Get(t.Context(), "bucket", "a")
	require.Error(t, err, "expected error for too-short hash")
}

func TestLocalFileStorageHardLinksAcrossBuckets(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	dataDir := t.TempDir()
	engine := storage.NewLocalFileStorage(dataDir)

	payload := []byte("shared payload")
	hashHex := hashOf(payload)

	_, err := engine.Put(ctx, "bucket1", bytes.NewReader(payload))
	require.NoError(t, err, "Put bucket1 error")
	_, err = engine.Put(ctx, "bucket2", bytes.NewReader(payload))
	require.NoError(t, err, "Put bucket2 error")

	info1, err := os.Stat(filepath.Join(dataDir, "bucket1", hashHex[:2], hashHex))
	require.NoError(t, err, "expected object file for bucket1")
	info2, err := os.Stat(filepath.Join(dataDir, "bucket2", hashHex[:2], hashHex))
	require.NoError(t, err, "expected object file for bucket2")

	require.Equal(t, info1.Size(), info2.Size(), "sizes should match")
	require.True(t, os.SameFile(info1, info2), "files should be hard-linked (same inode)")
}

func TestLocalFileStorageCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	engine := storage.NewLocalFileStorage(t.TempDir())
	_, err := engine.Put(ctx, "bucket", strings.NewReader("data"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestMemoryContentStore(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	store := storage.NewMemoryContentStore()

	payload := []byte("in memory")
	ref, err := store.Put(ctx, "bucket", bytes.NewReader(payload))
	require.NoError(t, err, "Put error")
	require.Equal(t, hashOf(payload), ref.Hash)
	require.Equal(t, 1, store.Len())

	got, err := store.Get(ctx, "bucket", ref.Hash)
	require.NoError(t, err, "Get error")
	require.Equal(t, payload, got)

	_, err = store.Get(ctx, "other", ref.Hash)
	require.ErrorIs(t, err, storage.ErrNotFound)
}
