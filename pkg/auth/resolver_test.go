package auth_test

import (
	"errors"
	"testing"

	"github.com/eteran/stagegate/pkg/auth"
	"github.com/eteran/stagegate/pkg/registry"
	"github.com/eteran/stagegate/pkg/registry/memory"
	"github.com/eteran/stagegate/pkg/s3err"

	"github.com/stretchr/testify/require"
)

func seedAccess(store *memory.Store, accessKey string, enabled bool) {
	store.Put(registry.AccessKeysCollection, accessKey, registry.MustEncodeDocument(registry.AccessKeyRecord{
		ID:          "user-" + accessKey,
		IsS3Enabled: enabled,
	}))
}

func seedSecret(store *memory.Store, accessKey, secret string) {
	store.Put(registry.SecretKeysCollection, accessKey, registry.MustEncodeDocument(secret))
}

func TestGetSecretKey(t *testing.T) {
	t.Parallel()

	access, secrets := memory.New(), memory.New()
	seedAccess(access, "enabled", true)
	seedSecret(secrets, "enabled", "s3cr3t")
	resolver := auth.NewResolver(access, secrets)

	secret, err := resolver.GetSecretKey(t.Context(), "enabled")
	require.NoError(t, err, "GetSecretKey error")
	require.Equal(t, "s3cr3t", secret)
}

func TestGetSecretKeyAuthorizesBeforeResolving(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		accessKey string
		want      error
	}{
		{name: "unknown key", accessKey: "missing", want: s3err.InvalidAccessKeyId},
		{name: "not enabled", accessKey: "disabled", want: s3err.NotSignedUp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			access, secrets := memory.New(), memory.New()
			seedAccess(access, "disabled", false)
			seedSecret(secrets, "disabled", "s3cr3t")
			seedSecret(secrets, "missing", "s3cr3t")
			resolver := auth.NewResolver(access, secrets)

			_, err := resolver.GetSecretKey(t.Context(), tt.accessKey)
			require.ErrorIs(t, err, tt.want)
			require.Equal(t, []memory.Lookup{{Collection: registry.AccessKeysCollection, Key: tt.accessKey}}, access.Calls())
			require.Empty(t, secrets.Calls(), "secret registry must not be queried")
		})
	}
}

func TestGetSecretKeyCallOrder(t *testing.T) {
	t.Parallel()

	shared := memory.New()
	seedAccess(shared, "ak", true)
	seedSecret(shared, "ak", "s")
	resolver := auth.NewResolver(shared, shared)

	_, err := resolver.GetSecretKey(t.Context(), "ak")
	require.NoError(t, err)
	require.Equal(t, []memory.Lookup{
		{Collection: registry.AccessKeysCollection, Key: "ak"},
		{Collection: registry.SecretKeysCollection, Key: "ak"},
	}, shared.Calls())
}

func TestGetSecretKeyMissingSecret(t *testing.T) {
	t.Parallel()

	access, secrets := memory.New(), memory.New()
	seedAccess(access, "ak", true)
	resolver := auth.NewResolver(access, secrets)

	_, err := resolver.GetSecretKey(t.Context(), "ak")
	require.ErrorIs(t, err, s3err.InvalidAccessKeyId)
}

func TestResolverStoreFailuresBecomeInternalError(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused to db.internal:5432")

	access, secrets := memory.New(), memory.New()
	access.SetFailFunc(func(collection, key string) error { return boom })
	resolver := auth.NewResolver(access, secrets)

	_, err := resolver.AuthenticateAndAuthorize(t.Context(), "ak")
	require.ErrorIs(t, err, s3err.InternalError)
	require.ErrorIs(t, err, boom, "cause is kept for logging")
	require.NotContains(t, s3err.From(err).Error(), "db.internal", "detail must not reach the client")

	access, secrets = memory.New(), memory.New()
	seedAccess(access, "ak", true)
	secrets.SetFailFunc(func(collection, key string) error { return boom })
	resolver = auth.NewResolver(access, secrets)

	_, err = resolver.GetSecretKey(t.Context(), "ak")
	require.ErrorIs(t, err, s3err.InternalError)
}

func TestResolverMalformedDocuments(t *testing.T) {
	t.Parallel()

	access, secrets := memory.New(), memory.New()
	access.Put(registry.AccessKeysCollection, "ak", registry.Document(`not json`))
	resolver := auth.NewResolver(access, secrets)

	_, err := resolver.AuthenticateAndAuthorize(t.Context(), "ak")
	require.ErrorIs(t, err, s3err.InternalError)

	seedAccess(access, "ak", true)
	secrets.Put(registry.SecretKeysCollection, "ak", registry.Document(`{"nested":true}`))
	_, err = resolver.GetSecretKey(t.Context(), "ak")
	require.ErrorIs(t, err, s3err.InternalError)
}
