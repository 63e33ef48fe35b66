package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/eteran/stagegate/pkg/registry"
	"github.com/eteran/stagegate/pkg/s3err"
)

// Resolver releases secret keys only for access keys the access registry
// marks as S3 enabled. The access and secret registries are independent
// stores.
type Resolver struct {
	access  registry.Store
	secrets registry.Store
	policy  BucketWritePolicy
	logger  *slog.Logger
}

var _ SecretSource = (*Resolver)(nil)

type ResolverOption func(*Resolver)

func WithBucketWritePolicy(policy BucketWritePolicy) ResolverOption {
	return func(r *Resolver) {
		r.policy = policy
	}
}

func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver returns a Resolver reading ACCESS_KEYS from access and KEYS
// from secrets. Bucket writes default to AllowAuthenticated.
func NewResolver(access, secrets registry.Store, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		access:  access,
		secrets: secrets,
		policy:  AllowAuthenticated{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AuthenticateAndAuthorize checks that accessKey exists and is enabled for
// S3.
func (r *Resolver) AuthenticateAndAuthorize(ctx context.Context, accessKey string) (registry.AccessKeyRecord, error) {
	doc, found, err := r.access.Lookup(ctx, registry.AccessKeysCollection, accessKey)
	if err != nil {
		r.logger.Error("Look up access key", "access_key", accessKey, "err", err)
		return registry.AccessKeyRecord{}, s3err.InternalError.Wrap(fmt.Errorf("access registry: %w", err))
	}
	if !found {
		return registry.AccessKeyRecord{}, s3err.InvalidAccessKeyId.Wrap(fmt.Errorf("access key %q not in access registry", accessKey))
	}

	rec, err := doc.AccessKeyRecord()
	if err != nil {
		r.logger.Error("Decode access key record", "access_key", accessKey, "err", err)
		return registry.AccessKeyRecord{}, s3err.InternalError.Wrap(err)
	}
	if !rec.IsS3Enabled {
		return registry.AccessKeyRecord{}, s3err.NotSignedUp.Wrap(fmt.Errorf("access key %q is not enabled for S3", accessKey))
	}
	return rec, nil
}

// ResolveSecret reads the secret key for accessKey. It performs no
// authorization of its own; use GetSecretKey.
func (r *Resolver) ResolveSecret(ctx context.Context, accessKey string) (string, error) {
	doc, found, err := r.secrets.Lookup(ctx, registry.SecretKeysCollection, accessKey)
	if err != nil {
		r.logger.Error("Look up secret key", "access_key", accessKey, "err", err)
		return "", s3err.InternalError.Wrap(fmt.Errorf("secret registry: %w", err))
	}
	if !found {
		return "", s3err.InvalidAccessKeyId.Wrap(fmt.Errorf("access key %q not in secret registry", accessKey))
	}

	secret, err := doc.SecretKey()
	if err != nil {
		r.logger.Error("Decode secret key", "access_key", accessKey, "err", err)
		return "", s3err.InternalError.Wrap(err)
	}
	return secret, nil
}

// GetSecretKey authorizes accessKey and only then resolves its secret.
func (r *Resolver) GetSecretKey(ctx context.Context, accessKey string) (string, error) {
	if _, err := r.AuthenticateAndAuthorize(ctx, accessKey); err != nil {
		return "", err
	}
	return r.ResolveSecret(ctx, accessKey)
}

// AuthorizeBucketWrite reports whether user may run mutating multipart
// operations on bucket. It fails only when the policy cannot be evaluated.
func (r *Resolver) AuthorizeBucketWrite(ctx context.Context, user User, bucket string) (bool, error) {
	allowed, err := r.policy.AllowBucketWrite(ctx, user, bucket)
	if err != nil {
		r.logger.Error("Evaluate bucket write policy", "access_key", user.AccessKeyID, "bucket", bucket, "err", err)
		return false, s3err.InternalError.Wrap(err)
	}
	return allowed, nil
}
