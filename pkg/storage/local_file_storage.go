package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

const tempDirName = ".incoming"

// LocalFileStorage is a ContentStore that keeps payloads on the local
// filesystem under a content-addressed layout rooted at dataDir. Each bucket
// gets its own subdirectory, and within each bucket payloads are addressed by
// their full SHA-256 hexadecimal hash, with the first two characters used as
// a subdirectory prefix.
type LocalFileStorage struct {
	dataDir string
}

var _ ContentStore = (*LocalFileStorage)(nil)

// NewLocalFileStorage creates a new LocalFileStorage rooted at dataDir.
func NewLocalFileStorage(dataDir string) *LocalFileStorage {
	return &LocalFileStorage{dataDir: dataDir}
}

// ObjectPath computes the full filesystem path for the payload identified by
// hashHex within the given bucket.
func ObjectPath(directory string, bucket string, hashHex string) (string, error) {
	if len(hashHex) < 2 {
		return "", fmt.Errorf("invalid hash length: %d", len(hashHex))
	}
	return filepath.Join(directory, bucket, hashHex[:2], hashHex), nil
}

// LocateExistingObject returns paths in other buckets that already hold a
// regular file with the same hash and size as targetObject.
func LocateExistingObject(directory string, targetObject string, hashHex string, size int64) []string {
	pattern := filepath.Join(directory, "*", hashHex[:2], hashHex)
	matches, _ := filepath.Glob(pattern)

	var results []string
	for _, existing := range matches {
		if existing == targetObject {
			continue
		}
		info, err := os.Stat(existing)
		if err != nil || !info.Mode().IsRegular() || info.Size() != size {
			continue
		}
		results = append(results, existing)
	}
	return results
}

// Put streams r into a temporary file while hashing it, then moves the file
// into its content-addressed location. Identical payloads already present in
// another bucket are hard linked instead of copied.
func (s *LocalFileStorage) Put(ctx context.Context, bucket string, r io.Reader) (ContentRef, error) {
	tmpDir := filepath.Join(s.dataDir, tempDirName)
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return ContentRef{}, fmt.Errorf("create temp dir: %w", err)
	}

	tmp, err := os.CreateTemp(tmpDir, "content-*")
	if err != nil {
		return ContentRef{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err := os.Remove(tmpPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Debug("Failed to remove content temp file", "path", tmpPath, "err", err)
		}
	}()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), contextReader{ctx: ctx, r: r})
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return ContentRef{}, fmt.Errorf("write content: %w", err)
	}

	hashHex := hex.EncodeToString(h.Sum(nil))
	if err := s.placeFile(bucket, hashHex, tmpPath, size); err != nil {
		return ContentRef{}, err
	}
	return NewContentRef(hashHex, size), nil
}

// placeFile moves the payload at tempPath to its final location, reusing an
// existing copy from another bucket when one is available.
func (s *LocalFileStorage) placeFile(bucket string, hashHex string, tempPath string, size int64) error {
	objPath, err := ObjectPath(s.dataDir, bucket, hashHex)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(objPath), 0o755); err != nil {
		return err
	}

	if info, err := os.Stat(objPath); err == nil && info.Mode().IsRegular() && info.Size() == size {
		return nil
	}

	for _, existing := range LocateExistingObject(s.dataDir, objPath, hashHex, size) {
		if err := linkOrCopyFile(existing, objPath); err == nil {
			return nil
		}
	}

	return moveFile(tempPath, objPath)
}

// Get reads the payload stored under hashHex in bucket.
func (s *LocalFileStorage) Get(ctx context.Context, bucket string, hashHex string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	objPath, err := ObjectPath(s.dataDir, bucket, hashHex)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(objPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}
