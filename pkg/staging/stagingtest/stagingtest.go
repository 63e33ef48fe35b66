// Package stagingtest holds a behavioural test suite shared by every
// staging.Store implementation.
package stagingtest

import (
	"bytes"
	"sort"
	"strings"
	"testing"

	"github.com/eteran/stagegate/pkg/staging"

	"github.com/stretchr/testify/require"
)

// Run exercises store, which must start out empty.
func Run(t *testing.T, store staging.Store) {
	t.Helper()
	ctx := t.Context()

	_, err := store.Get(ctx, "missing/object")
	require.ErrorIs(t, err, staging.ErrNotFound, "Get of a missing object")

	paths := []string{
		"root-item",
		"s1+k+u/marker",
		"s1+k+u/1",
		"s1+k+u/2",
		"s2%2Fx+k+u/marker",
		"s2%2Fx+k+u/deep/3",
	}
	for _, p := range paths {
		require.NoError(t, store.Upload(ctx, p, strings.NewReader("v1:"+p)), "Upload %q", p)
	}

	require.NoError(t, store.Upload(ctx, "s1+k+u/1", bytes.NewReader([]byte("v2"))), "overwrite")
	data, err := store.Get(ctx, "s1+k+u/1")
	require.NoError(t, err, "Get after overwrite")
	require.Equal(t, "v2", string(data))

	data, err = store.Get(ctx, "s2%2Fx+k+u/marker")
	require.NoError(t, err, "Get of escaped path")
	require.Equal(t, "v1:s2%2Fx+k+u/marker", string(data))

	items, prefixes := drain(t, store, staging.ListRequest{Delimiter: staging.Delimiter})
	require.Equal(t, []string{"root-item"}, items)
	require.Equal(t, []string{"s1+k+u/", "s2%2Fx+k+u/"}, prefixes)

	items, prefixes = drain(t, store, staging.ListRequest{Prefix: "s2%2Fx+k+u/", Delimiter: staging.Delimiter})
	require.Equal(t, []string{"s2%2Fx+k+u/marker"}, items)
	require.Equal(t, []string{"s2%2Fx+k+u/deep/"}, prefixes)

	items, _ = drain(t, store, staging.ListRequest{Prefix: "s1+k+u/", Delimiter: staging.Delimiter})
	require.Equal(t, []string{"s1+k+u/1", "s1+k+u/2", "s1+k+u/marker"}, items)

	for _, p := range paths {
		require.NoError(t, store.Delete(ctx, p), "Delete %q", p)
	}
	items, prefixes = drain(t, store, staging.ListRequest{Delimiter: staging.Delimiter})
	require.Empty(t, items)
	require.Empty(t, prefixes)

	_, err = store.Get(ctx, "root-item")
	require.ErrorIs(t, err, staging.ErrNotFound, "Get after Delete")
}

func drain(t *testing.T, store staging.Store, req staging.ListRequest) ([]string, []string) {
	t.Helper()
	var items, prefixes []string
	err := staging.Walk(t.Context(), store, req, func(page staging.ListPage) error {
		items = append(items, page.Items...)
		prefixes = append(prefixes, page.Prefixes...)
		return nil
	})
	require.NoError(t, err, "list %q", req.Prefix)
	sort.Strings(items)
	sort.Strings(prefixes)
	return items, prefixes
}
