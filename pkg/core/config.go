package core

import (
	"context"
	"io"
	"log/slog"

	"github.com/eteran/stagegate/pkg/auth"
	"github.com/eteran/stagegate/pkg/metrics"
	"github.com/eteran/stagegate/pkg/multipart"
)

// Uploads is the multipart session lifecycle the dispatcher drives.
// *multipart.Manager implements it.
type Uploads interface {
	Create(ctx context.Context, bucket, key, uploadID string) error
	CheckExists(ctx context.Context, bucket, key, uploadID string) (bool, error)
	UploadPart(ctx context.Context, bucket, key, uploadID string, n int, body io.Reader) error
	Complete(ctx context.Context, bucket, key, uploadID string) (multipart.CompleteResult, error)
	Abort(ctx context.Context, bucket, key, uploadID string) error
}

// BucketAuthorizer gates every mutating call. *auth.Resolver implements it.
type BucketAuthorizer interface {
	AuthorizeBucketWrite(ctx context.Context, user auth.User, bucket string) (bool, error)
}

var (
	_ Uploads          = (*multipart.Manager)(nil)
	_ BucketAuthorizer = (*auth.Resolver)(nil)
)

type Config struct {
	Uploads          Uploads
	Authorizer       BucketAuthorizer
	Authenticator    auth.AuthEngine
	Metrics          *metrics.Metrics
	MultipartMetrics *metrics.MultipartMetrics
	Logger           *slog.Logger
	NewUploadID      func() string
}

type ConfigOption func(*Config)

func WithUploads(uploads Uploads) ConfigOption {
	return func(cfg *Config) {
		cfg.Uploads = uploads
	}
}

func WithAuthorizer(authorizer BucketAuthorizer) ConfigOption {
	return func(cfg *Config) {
		cfg.Authorizer = authorizer
	}
}

func WithAuthEngine(authenticator auth.AuthEngine) ConfigOption {
	return func(cfg *Config) {
		cfg.Authenticator = authenticator
	}
}

// WithMetrics enables HTTP and multipart metrics on m's registry.
func WithMetrics(m *metrics.Metrics) ConfigOption {
	return func(cfg *Config) {
		cfg.Metrics = m
		cfg.MultipartMetrics = metrics.NewMultipartMetrics(m.Registry())
	}
}

func WithLogger(logger *slog.Logger) ConfigOption {
	return func(cfg *Config) {
		cfg.Logger = logger
	}
}

// WithUploadIDGenerator replaces the default random UUID upload ids.
func WithUploadIDGenerator(fn func() string) ConfigOption {
	return func(cfg *Config) {
		cfg.NewUploadID = fn
	}
}

func NewConfig(opts ...ConfigOption) Config {
	cfg := Config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
