// Package s3 implements staging.Store on any S3-compatible endpoint using
// minio-go.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/eteran/stagegate/pkg/staging"
)

// Config configures the S3-compatible staging store.
type Config struct {
	Endpoint       string
	Region         string
	Bucket         string
	AccessKey      string
	SecretKey      string
	Insecure       bool
	ForcePathStyle bool
	// PageSize limits keys per listing page. Zero uses the server default.
	PageSize int
	// PartSize is the buffer used when uploading bodies of unknown length.
	PartSize  uint64
	Transport http.RoundTripper
}

const defaultPartSize = 16 << 20

// Store implements staging.Store.
type Store struct {
	client *minio.Client
	core   minio.Core
	cfg    Config
}

var _ staging.Store = (*Store)(nil)

// New connects to the endpoint described by cfg. Static credentials are used
// when both keys are set; otherwise the environment and AWS credential files
// are consulted.
func New(cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("s3: endpoint is required")
	}
	if cfg.PartSize == 0 {
		cfg.PartSize = defaultPartSize
	}
	if strings.Contains(endpoint, "://") {
		scheme, host, _ := strings.Cut(endpoint, "://")
		endpoint = host
		if scheme == "http" {
			cfg.Insecure = true
		}
	}

	var creds *credentials.Credentials
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	} else {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{},
		})
	}

	options := &minio.Options{
		Creds:     creds,
		Secure:    !cfg.Insecure,
		Region:    cfg.Region,
		Transport: cfg.Transport,
	}
	if cfg.ForcePathStyle {
		options.BucketLookup = minio.BucketLookupPath
	}

	client, err := minio.New(endpoint, options)
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}
	return &Store{client: client, core: minio.Core{Client: client}, cfg: cfg}, nil
}

func (s *Store) Upload(ctx context.Context, path string, body io.Reader) error {
	// Over plain HTTP minio-go would otherwise send aws-chunked framing,
	// which not every S3-compatible server decodes.
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, path, body, -1, minio.PutObjectOptions{
		ContentType:          "application/octet-stream",
		PartSize:             s.cfg.PartSize,
		DisableContentSha256: true,
	})
	if err != nil {
		return fmt.Errorf("s3: put %q: %w", path, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, path, minio.GetObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, staging.ErrNotFound
		}
		return nil, fmt.Errorf("s3: get %q: %w", path, err)
	}
	defer obj.Close()

	// GetObject is lazy; a missing key surfaces on the first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, staging.ErrNotFound
		}
		return nil, fmt.Errorf("s3: read %q: %w", path, err)
	}
	return data, nil
}

func (s *Store) List(ctx context.Context, req staging.ListRequest) (staging.ListPage, error) {
	if err := ctx.Err(); err != nil {
		return staging.ListPage{}, err
	}
	res, err := s.core.ListObjectsV2(s.cfg.Bucket, req.Prefix, "", req.PageToken, req.Delimiter, s.cfg.PageSize)
	if err != nil {
		return staging.ListPage{}, fmt.Errorf("s3: list %q: %w", req.Prefix, err)
	}

	page := staging.ListPage{
		Items:    make([]string, 0, len(res.Contents)),
		Prefixes: make([]string, 0, len(res.CommonPrefixes)),
	}
	for _, obj := range res.Contents {
		page.Items = append(page.Items, obj.Key)
	}
	for _, p := range res.CommonPrefixes {
		page.Prefixes = append(page.Prefixes, p.Prefix)
	}
	if res.IsTruncated {
		page.NextPageToken = res.NextContinuationToken
	}
	return page, nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	if err := s.client.RemoveObject(ctx, s.cfg.Bucket, path, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("s3: delete %q: %w", path, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var resp minio.ErrorResponse
	if !errors.As(err, &resp) {
		return false
	}
	switch resp.Code {
	case "NoSuchKey", "NotFound":
		return true
	case "":
		return resp.StatusCode == http.StatusNotFound
	}
	return false
}
