package s3_test

import (
	"bytes"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"

	"github.com/eteran/stagegate/pkg/staging"
	"github.com/eteran/stagegate/pkg/staging/s3"
	"github.com/eteran/stagegate/pkg/staging/stagingtest"

	"github.com/stretchr/testify/require"
)

func setupFakeS3(t *testing.T) s3.Config {
	t.Helper()
	backend := s3mem.New()
	fs := gofakes3.New(backend)
	server := httptest.NewServer(fs.Server())
	t.Cleanup(server.Close)

	bucket := "multipart-uploads"
	require.NoError(t, backend.CreateBucket(bucket), "create bucket")

	return s3.Config{
		Endpoint:       strings.TrimPrefix(server.URL, "http://"),
		Region:         "us-east-1",
		Bucket:         bucket,
		AccessKey:      "test",
		SecretKey:      "test",
		Insecure:       true,
		ForcePathStyle: true,
	}
}

func TestStoreConformance(t *testing.T) {
	t.Parallel()

	store, err := s3.New(setupFakeS3(t))
	require.NoError(t, err, "New error")
	stagingtest.Run(t, store)
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := s3.New(s3.Config{Endpoint: "localhost:9000"})
	require.Error(t, err, "bucket is required")

	_, err = s3.New(s3.Config{Bucket: "b"})
	require.Error(t, err, "endpoint is required")

	_, err = s3.New(s3.Config{Bucket: "b", Endpoint: "http://localhost:9000"})
	require.NoError(t, err, "scheme prefixed endpoint")
}

func TestUploadStoresRawBytesOverHTTP(t *testing.T) {
	t.Parallel()

	store, err := s3.New(setupFakeS3(t))
	require.NoError(t, err, "New error")
	ctx := t.Context()

	bodies := map[string]io.Reader{
		"strings": strings.NewReader("hello"),
		"bytes":   bytes.NewReader([]byte("hello")),
		"tee":     io.TeeReader(strings.NewReader("hello"), io.Discard),
	}
	for name, body := range bodies {
		require.NoError(t, store.Upload(ctx, "s+k+u/"+name, body), "Upload %s", name)

		data, err := store.Get(ctx, "s+k+u/"+name)
		require.NoError(t, err, "Get %s", name)
		require.Equal(t, "hello", string(data), "%s body stored without chunk framing", name)
	}
}

func TestMissingBucketIsNotNotFound(t *testing.T) {
	t.Parallel()

	cfg := setupFakeS3(t)
	cfg.Bucket = "no-such-bucket"
	store, err := s3.New(cfg)
	require.NoError(t, err, "New error")

	_, err = store.Get(t.Context(), "s+k+u/marker")
	require.Error(t, err)
	require.NotErrorIs(t, err, staging.ErrNotFound, "a missing bucket is a read failure")
}
