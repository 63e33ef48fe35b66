package auth

import (
	"context"
	"fmt"
	"slices"

	"github.com/eteran/stagegate/pkg/registry"
)

// WildcardBucket grants access to every bucket.
const WildcardBucket = "*"

// BucketWritePolicy decides whether an authenticated user may write to a
// bucket. Implementations must not have side effects; an error means the
// policy could not be evaluated.
type BucketWritePolicy interface {
	AllowBucketWrite(ctx context.Context, user User, bucket string) (bool, error)
}

// AllowAuthenticated permits every authenticated user to write to every
// bucket.
type AllowAuthenticated struct{}

func (AllowAuthenticated) AllowBucketWrite(ctx context.Context, user User, bucket string) (bool, error) {
	return user.AccessKeyID != "", nil
}

// StaticBucketPolicy maps access keys to the buckets they may write.
type StaticBucketPolicy map[string][]string

func (p StaticBucketPolicy) AllowBucketWrite(ctx context.Context, user User, bucket string) (bool, error) {
	return grants(p[user.AccessKeyID], bucket), nil
}

// RegistryBucketPolicy reads grants from the BUCKET_GRANTS collection of a
// registry. Keys without a grant document may not write anywhere.
type RegistryBucketPolicy struct {
	store registry.Store
}

func NewRegistryBucketPolicy(store registry.Store) *RegistryBucketPolicy {
	return &RegistryBucketPolicy{store: store}
}

func (p *RegistryBucketPolicy) AllowBucketWrite(ctx context.Context, user User, bucket string) (bool, error) {
	doc, found, err := p.store.Lookup(ctx, registry.BucketGrantsCollection, user.AccessKeyID)
	if err != nil {
		return false, fmt.Errorf("bucket grants: %w", err)
	}
	if !found {
		return false, nil
	}
	rec, err := doc.BucketGrantRecord()
	if err != nil {
		return false, err
	}
	return grants(rec.Buckets, bucket), nil
}

func grants(buckets []string, bucket string) bool {
	return slices.Contains(buckets, WildcardBucket) || slices.Contains(buckets, bucket)
}
