// Package aws implements staging.Store on Amazon S3 using aws-sdk-go-v2.
package aws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithy "github.com/aws/smithy-go"

	"github.com/eteran/stagegate/pkg/staging"
)

// Config configures the S3 staging store. Endpoint is optional and selects
// an S3-compatible service instead of AWS.
type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Insecure        bool
	UsePathStyle    bool
	PageSize        int32
}

// Store implements staging.Store.
type Store struct {
	client *s3.Client
	cfg    Config
}

var _ staging.Store = (*Store)(nil)

// New loads the default AWS configuration chain (overridden by static keys
// when set) and returns a store bound to cfg.Bucket.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("aws: bucket is required")
	}
	if cfg.Region == "" {
		return nil, errors.New("aws: region is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithHTTPClient(newHTTPClient()),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("aws: load config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint == "" {
			return
		}
		endpoint := strings.TrimSpace(cfg.Endpoint)
		if !strings.Contains(endpoint, "://") {
			scheme := "https"
			if cfg.Insecure {
				scheme = "http"
			}
			endpoint = scheme + "://" + endpoint
		}
		o.BaseEndpoint = aws.String(endpoint)
		// Most S3-compatible services reject the newer default checksums.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	return &Store{client: client, cfg: cfg}, nil
}

// newHTTPClient returns a buildable client so the SDK can still apply
// AWS_CA_BUNDLE to its transport.
func newHTTPClient() *awshttp.BuildableClient {
	return awshttp.NewBuildableClient().WithTransportOptions(func(t *http.Transport) {
		t.MaxIdleConnsPerHost = 64
		t.IdleConnTimeout = 90 * time.Second
	})
}

func (s *Store) Upload(ctx context.Context, path string, body io.Reader) error {
	// PutObject signs the payload, which needs a seekable body.
	rs, ok := body.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(body)
		if err != nil {
			return fmt.Errorf("aws: read body for %q: %w", path, err)
		}
		rs = bytes.NewReader(data)
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(path),
		Body:        rs,
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("aws: put %q: %w", path, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, staging.ErrNotFound
		}
		return nil, fmt.Errorf("aws: get %q: %w", path, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("aws: read %q: %w", path, err)
	}
	return data, nil
}

func (s *Store) List(ctx context.Context, req staging.ListRequest) (staging.ListPage, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(req.Prefix),
	}
	if req.Delimiter != "" {
		input.Delimiter = aws.String(req.Delimiter)
	}
	if req.PageToken != "" {
		input.ContinuationToken = aws.String(req.PageToken)
	}
	if s.cfg.PageSize > 0 {
		input.MaxKeys = aws.Int32(s.cfg.PageSize)
	}

	out, err := s.client.ListObjectsV2(ctx, input)
	if err != nil {
		return staging.ListPage{}, fmt.Errorf("aws: list %q: %w", req.Prefix, err)
	}

	page := staging.ListPage{
		Items:    make([]string, 0, len(out.Contents)),
		Prefixes: make([]string, 0, len(out.CommonPrefixes)),
	}
	for _, obj := range out.Contents {
		page.Items = append(page.Items, aws.ToString(obj.Key))
	}
	for _, p := range out.CommonPrefixes {
		page.Prefixes = append(page.Prefixes, aws.ToString(p.Prefix))
	}
	if aws.ToBool(out.IsTruncated) {
		page.NextPageToken = aws.ToString(out.NextContinuationToken)
	}
	return page, nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(path),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("aws: delete %q: %w", path, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		case "NoSuchBucket":
			return false
		}
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == http.StatusNotFound
	}
	return false
}
