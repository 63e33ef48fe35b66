package memory_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/eteran/stagegate/pkg/staging"
	"github.com/eteran/stagegate/pkg/staging/memory"
	"github.com/eteran/stagegate/pkg/staging/stagingtest"

	"github.com/stretchr/testify/require"
)

func seed(store *memory.Store, paths ...string) {
	for _, p := range paths {
		store.Put(p, []byte(p))
	}
}

func TestListGroupsByDelimiter(t *testing.T) {
	t.Parallel()

	store := memory.New()
	seed(store, "loose", "u1/marker", "u1/1", "u2/marker", "u2/nested/1")

	page, err := store.List(t.Context(), staging.ListRequest{Delimiter: "/"})
	require.NoError(t, err, "List error")
	require.Equal(t, []string{"loose"}, page.Items)
	require.Equal(t, []string{"u1/", "u2/"}, page.Prefixes)
	require.Empty(t, page.NextPageToken)

	page, err = store.List(t.Context(), staging.ListRequest{Prefix: "u2/", Delimiter: "/"})
	require.NoError(t, err, "List error")
	require.Equal(t, []string{"u2/marker"}, page.Items)
	require.Equal(t, []string{"u2/nested/"}, page.Prefixes)
}

func TestListWithoutDelimiterIsFlat(t *testing.T) {
	t.Parallel()

	store := memory.New()
	seed(store, "a/1", "a/b/2", "c")

	page, err := store.List(t.Context(), staging.ListRequest{Prefix: "a/"})
	require.NoError(t, err, "List error")
	require.Equal(t, []string{"a/1", "a/b/2"}, page.Items)
	require.Empty(t, page.Prefixes)
}

func TestWalkDrainsAllPages(t *testing.T) {
	t.Parallel()

	for pageSize := 1; pageSize <= 5; pageSize++ {
		store := memory.NewWithConfig(memory.Config{PageSize: pageSize})
		seed(store, "x", "y/1", "y/2", "z/1", "zz")

		var items, prefixes []string
		pages := 0
		err := staging.Walk(t.Context(), store, staging.ListRequest{Delimiter: "/"}, func(p staging.ListPage) error {
			pages++
			require.LessOrEqual(t, len(p.Items)+len(p.Prefixes), pageSize)
			items = append(items, p.Items...)
			prefixes = append(prefixes, p.Prefixes...)
			return nil
		})
		require.NoError(t, err, "Walk error")
		require.Equal(t, []string{"x", "zz"}, items, "page size %d", pageSize)
		require.Equal(t, []string{"y/", "z/"}, prefixes, "page size %d", pageSize)
		require.GreaterOrEqual(t, pages, 4/pageSize)
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	t.Parallel()

	store := memory.New()
	_, err := store.Get(t.Context(), "missing")
	require.ErrorIs(t, err, staging.ErrNotFound)
}

func TestUploadOverwritesAndGetCopies(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	store := memory.New()
	require.NoError(t, store.Upload(ctx, "p", strings.NewReader("first")))
	require.NoError(t, store.Upload(ctx, "p", strings.NewReader("second")))

	data, err := store.Get(ctx, "p")
	require.NoError(t, err, "Get error")
	require.Equal(t, "second", string(data))

	data[0] = 'X'
	again, err := store.Get(ctx, "p")
	require.NoError(t, err, "Get error")
	require.Equal(t, "second", string(again), "Get must return a copy")
}

func TestFailFuncAndCallLog(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	store := memory.New()
	seed(store, "a", "b")
	boom := errors.New("boom")
	store.SetFailFunc(func(op memory.Op, path string) error {
		if op == memory.OpDelete && path == "b" {
			return boom
		}
		return nil
	})

	require.NoError(t, store.Delete(ctx, "a"))
	require.ErrorIs(t, store.Delete(ctx, "b"), boom)
	require.Equal(t, []string{"b"}, store.Paths())
	require.Equal(t, []memory.Call{
		{Op: memory.OpDelete, Path: "a"},
		{Op: memory.OpDelete, Path: "b"},
	}, store.Calls())
}

func TestCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	store := memory.New()
	require.ErrorIs(t, store.Upload(ctx, "a", strings.NewReader("x")), context.Canceled)
	_, err := store.List(ctx, staging.ListRequest{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestConformance(t *testing.T) {
	t.Parallel()

	for _, pageSize := range []int{0, 1, 2} {
		stagingtest.Run(t, memory.NewWithConfig(memory.Config{PageSize: pageSize}))
	}
}
