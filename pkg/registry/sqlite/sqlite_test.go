package sqlite_test

import (
	"path/filepath"
	"testing"

	"github.com/eteran/stagegate/pkg/registry"
	"github.com/eteran/stagegate/pkg/registry/sqlite"

	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(t.Context(), filepath.Join(t.TempDir(), "registry.sqlite"))
	require.NoError(t, err, "Open error")
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPutLookupDelete(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	store := openStore(t)

	rec := registry.AccessKeyRecord{ID: "user-1", IsS3Enabled: true}
	require.NoError(t, store.Put(ctx, registry.AccessKeysCollection, "AK", registry.MustEncodeDocument(rec)))

	doc, found, err := store.Lookup(ctx, registry.AccessKeysCollection, "AK")
	require.NoError(t, err, "Lookup error")
	require.True(t, found)
	got, err := doc.AccessKeyRecord()
	require.NoError(t, err, "decode error")
	require.Equal(t, rec, got)

	_, found, err = store.Lookup(ctx, registry.SecretKeysCollection, "AK")
	require.NoError(t, err, "Lookup error")
	require.False(t, found)

	rec.IsS3Enabled = false
	require.NoError(t, store.Put(ctx, registry.AccessKeysCollection, "AK", registry.MustEncodeDocument(rec)), "replace")
	doc, _, err = store.Lookup(ctx, registry.AccessKeysCollection, "AK")
	require.NoError(t, err, "Lookup error")
	got, err = doc.AccessKeyRecord()
	require.NoError(t, err, "decode error")
	require.False(t, got.IsS3Enabled)

	require.NoError(t, store.Delete(ctx, registry.AccessKeysCollection, "AK"))
	require.NoError(t, store.Delete(ctx, registry.AccessKeysCollection, "AK"), "delete twice")
	_, found, err = store.Lookup(ctx, registry.AccessKeysCollection, "AK")
	require.NoError(t, err, "Lookup error")
	require.False(t, found)
}

func TestReopenKeepsDocuments(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	dsn := filepath.Join(t.TempDir(), "registry.sqlite")

	store, err := sqlite.Open(ctx, dsn)
	require.NoError(t, err, "Open error")
	require.NoError(t, store.Put(ctx, registry.SecretKeysCollection, "AK", registry.MustEncodeDocument("secret")))
	require.NoError(t, store.Close())

	store, err = sqlite.Open(ctx, dsn)
	require.NoError(t, err, "reopen error")
	defer store.Close()

	doc, found, err := store.Lookup(ctx, registry.SecretKeysCollection, "AK")
	require.NoError(t, err, "Lookup error")
	require.True(t, found)
	secret, err := doc.SecretKey()
	require.NoError(t, err)
	require.Equal(t, "secret", secret)
}

func TestLookupAfterClose(t *testing.T) {
	t.Parallel()

	store, err := sqlite.Open(t.Context(), filepath.Join(t.TempDir(), "registry.sqlite"))
	require.NoError(t, err, "Open error")
	require.NoError(t, store.Close())

	_, _, err = store.Lookup(t.Context(), registry.AccessKeysCollection, "AK")
	require.Error(t, err, "closed database must surface as a store error")
}
