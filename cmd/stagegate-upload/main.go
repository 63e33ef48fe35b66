package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// DefaultPartSize is the size of every part but the last.
const DefaultPartSize = 8 << 20

// getenv returns the value of the environment variable named by key or
// fallback if the variable is not present.
func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

// NewClient returns a path-style client for the gateway at endpoint.
func NewClient(endpoint, accessKey, secretKey, region string) (*minio.Core, error) {
	secure := true
	switch {
	case strings.HasPrefix(endpoint, "http://"):
		secure = false
		endpoint = strings.TrimPrefix(endpoint, "http://")
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = strings.TrimPrefix(endpoint, "https://")
	}

	return minio.NewCore(endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure:       secure,
		Region:       region,
		BucketLookup: minio.BucketLookupPath,
	})
}

// UploadMultipart sends r to bucket/object as a multipart upload in parts of
// partSize bytes. A failed upload is aborted before returning.
func UploadMultipart(ctx context.Context, client *minio.Core, bucket, object string, r io.Reader, partSize int) (minio.UploadInfo, error) {
	if partSize <= 0 {
		return minio.UploadInfo{}, fmt.Errorf("part size must be positive, got %d", partSize)
	}

	uploadID, err := client.NewMultipartUpload(ctx, bucket, object, minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return minio.UploadInfo{}, fmt.Errorf("failed to initiate multipart upload: %w", err)
	}

	log := slog.With("bucket", bucket, "object", object, "upload_id", uploadID)
	log.Info("Started multipart upload")

	info, err := uploadParts(ctx, client, bucket, object, uploadID, r, partSize, log)
	if err != nil {
		if abortErr := client.AbortMultipartUpload(context.WithoutCancel(ctx), bucket, object, uploadID); abortErr != nil {
			log.Error("Failed to abort multipart upload", "err", abortErr)
		}
		return minio.UploadInfo{}, err
	}
	return info, nil
}

func uploadParts(ctx context.Context, client *minio.Core, bucket, object, uploadID string, r io.Reader, partSize int, log *slog.Logger) (minio.UploadInfo, error) {
	var parts []minio.CompletePart
	var total int64
	buf := make([]byte, partSize)

	for partNumber := 1; ; partNumber++ {
		n, readErr := io.ReadFull(r, buf)
		if n == 0 && errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil && !errors.Is(readErr, io.ErrUnexpectedEOF) {
			return minio.UploadInfo{}, fmt.Errorf("failed to read part %d: %w", partNumber, readErr)
		}

		objPart, err := client.PutObjectPart(ctx, bucket, object, uploadID, partNumber, bytes.NewReader(buf[:n]), int64(n), minio.PutObjectPartOptions{})
		if err != nil {
			return minio.UploadInfo{}, fmt.Errorf("failed to upload part %d: %w", partNumber, err)
		}
		parts = append(parts, minio.CompletePart{PartNumber: partNumber, ETag: objPart.ETag})
		total += int64(n)
		log.Debug("Uploaded part", "part", partNumber, "size", humanize.Bytes(uint64(n)))

		if readErr != nil {
			break
		}
	}

	info, err := client.CompleteMultipartUpload(ctx, bucket, object, uploadID, parts, minio.PutObjectOptions{})
	if err != nil {
		return minio.UploadInfo{}, fmt.Errorf("failed to complete multipart upload: %w", err)
	}

	log.Info("Completed multipart upload", "parts", len(parts), "total_size", humanize.Bytes(uint64(total)), "etag", info.ETag)
	return info, nil
}

func run(ctx context.Context, path, bucket, object string) error {
	endpoint := getenv("STAGEGATE_ENDPOINT", "http://localhost:9000")
	accessKey := getenv("STAGEGATE_ACCESS_KEY", "")
	secretKey := getenv("STAGEGATE_SECRET_KEY", "")
	region := getenv("STAGEGATE_REGION", "us-east-1")

	partSize := DefaultPartSize
	if v := os.Getenv("STAGEGATE_PART_SIZE"); v != "" {
		n, err := humanize.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("invalid STAGEGATE_PART_SIZE %q: %w", v, err)
		}
		partSize = int(n)
	}

	client, err := NewClient(endpoint, accessKey, secretKey, region)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = UploadMultipart(ctx, client, bucket, object, f, partSize)
	return err
}

func main() {
	if len(os.Args) != 4 {
		fmt.Fprintln(os.Stderr, "usage: stagegate-upload <file> <bucket> <object>")
		os.Exit(2)
	}

	if err := run(context.Background(), os.Args[1], os.Args[2], os.Args[3]); err != nil {
		slog.Error("Upload failed", "err", err)
		os.Exit(1)
	}
}
