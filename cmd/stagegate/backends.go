package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/eteran/stagegate/pkg/auth"
	"github.com/eteran/stagegate/pkg/registry"
	regmemory "github.com/eteran/stagegate/pkg/registry/memory"
	"github.com/eteran/stagegate/pkg/registry/secretsmanager"
	"github.com/eteran/stagegate/pkg/registry/sqlite"
	"github.com/eteran/stagegate/pkg/staging"
	stagingaws "github.com/eteran/stagegate/pkg/staging/aws"
	"github.com/eteran/stagegate/pkg/staging/azure"
	stagingmemory "github.com/eteran/stagegate/pkg/staging/memory"
	stagings3 "github.com/eteran/stagegate/pkg/staging/s3"
)

// openStaging builds the staging store selected by --staging.
func openStaging(ctx context.Context, s Settings) (staging.Store, error) {
	switch s.Staging {
	case "memory", "mem":
		return stagingmemory.New(), nil
	case "s3", "minio":
		return stagings3.New(stagings3.Config{
			Endpoint:       s.StagingEndpoint,
			Region:         s.StagingRegion,
			Bucket:         s.StagingBucket,
			AccessKey:      s.StagingAccessKey,
			SecretKey:      s.StagingSecretKey,
			Insecure:       s.StagingInsecure,
			ForcePathStyle: s.StagingPathStyle,
			PageSize:       s.StagingPageSize,
		})
	case "aws":
		return stagingaws.New(ctx, stagingaws.Config{
			Endpoint:        s.StagingEndpoint,
			Region:          s.StagingRegion,
			Bucket:          s.StagingBucket,
			AccessKeyID:     s.StagingAccessKey,
			SecretAccessKey: s.StagingSecretKey,
			Insecure:        s.StagingInsecure,
			UsePathStyle:    s.StagingPathStyle,
			PageSize:        int32(s.StagingPageSize),
		})
	case "azure":
		return azure.New(ctx, azure.Config{
			Account:          s.AzureAccount,
			AccountKey:       s.AzureAccountKey,
			Endpoint:         s.StagingEndpoint,
			ConnectionString: s.AzureConnection,
			Container:        s.StagingBucket,
			PageSize:         int32(s.StagingPageSize),
			CreateContainer:  s.AzureCreateContainer,
		})
	default:
		return nil, fmt.Errorf("unknown staging backend %q", s.Staging)
	}
}

// registries holds the opened record stores and closes what needs closing.
type registries struct {
	access  registry.Store
	secrets registry.Store
	closers []io.Closer
}

func (r *registries) Close() error {
	var errs []error
	for _, c := range r.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// openRegistries opens the access and secret registries. Identical
// locations share one store.
func openRegistries(ctx context.Context, s Settings) (*registries, error) {
	regs := &registries{}

	access, err := openRegistry(ctx, s, s.AccessRegistry, regs)
	if err != nil {
		return nil, fmt.Errorf("access registry: %w", err)
	}
	regs.access = access

	if s.SecretRegistry == s.AccessRegistry {
		regs.secrets = access
	} else {
		secrets, err := openRegistry(ctx, s, s.SecretRegistry, regs)
		if err != nil {
			_ = regs.Close()
			return nil, fmt.Errorf("secret registry: %w", err)
		}
		regs.secrets = secrets
	}

	if s.StaticAccessKey != "" {
		if err := seedStaticKey(ctx, regs, s.StaticAccessKey, s.StaticSecretKey); err != nil {
			_ = regs.Close()
			return nil, err
		}
	}
	return regs, nil
}

func openRegistry(ctx context.Context, s Settings, location string, regs *registries) (registry.Store, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", location, err)
	}

	switch u.Scheme {
	case "memory", "mem":
		return regmemory.New(), nil
	case "sqlite":
		path := u.Path
		if u.Host != "" {
			path = u.Host + path
		}
		if path == "" {
			return nil, fmt.Errorf("sqlite registry %q has no path", location)
		}
		store, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, err
		}
		regs.closers = append(regs.closers, store)
		return store, nil
	case "secretsmanager":
		return secretsmanager.New(ctx, secretsmanager.Config{
			Region:   u.Host,
			Endpoint: s.SecretsManagerEndpoint,
			Prefix:   strings.TrimPrefix(u.Path, "/"),
		})
	default:
		return nil, fmt.Errorf("unknown registry scheme in %q", location)
	}
}

type seedable interface {
	Put(ctx context.Context, collection, key string, doc registry.Document) error
}

// memorySeeder adapts the in-memory registry to seedable.
type memorySeeder struct{ *regmemory.Store }

func (m memorySeeder) Put(ctx context.Context, collection, key string, doc registry.Document) error {
	m.Store.Put(collection, key, doc)
	return nil
}

func asSeedable(store registry.Store) (seedable, bool) {
	switch st := store.(type) {
	case *regmemory.Store:
		return memorySeeder{st}, true
	case *sqlite.Store:
		return st, true
	}
	return nil, false
}

// seedStaticKey installs an enabled access key and its secret. Only the
// memory and sqlite registries are writable.
func seedStaticKey(ctx context.Context, regs *registries, accessKey, secretKey string) error {
	access, ok := asSeedable(regs.access)
	if !ok {
		return errors.New("--static-access-key needs a memory or sqlite access registry")
	}
	secrets, ok := asSeedable(regs.secrets)
	if !ok {
		return errors.New("--static-access-key needs a memory or sqlite secret registry")
	}

	record, err := registry.EncodeDocument(registry.AccessKeyRecord{ID: accessKey, IsS3Enabled: true})
	if err != nil {
		return err
	}
	secret, err := registry.EncodeDocument(secretKey)
	if err != nil {
		return err
	}
	if err := access.Put(ctx, registry.AccessKeysCollection, accessKey, record); err != nil {
		return fmt.Errorf("seed access key: %w", err)
	}
	if err := secrets.Put(ctx, registry.SecretKeysCollection, accessKey, secret); err != nil {
		return fmt.Errorf("seed secret key: %w", err)
	}
	return nil
}

// bucketPolicy builds the policy selected by --bucket-policy.
func bucketPolicy(s Settings, regs *registries) (auth.BucketWritePolicy, error) {
	switch s.BucketPolicy {
	case "", "authenticated":
		return auth.AllowAuthenticated{}, nil
	case "registry":
		return auth.NewRegistryBucketPolicy(regs.access), nil
	default:
		return nil, fmt.Errorf("unknown bucket policy %q", s.BucketPolicy)
	}
}
