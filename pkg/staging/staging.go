// Package staging defines the object store that holds in-flight multipart
// uploads. Implementations are bound to a single bucket (or container) at
// construction and address objects by slash-separated paths.
package staging

import (
	"context"
	"errors"
	"io"
)

// Delimiter separates path segments in the staging store.
const Delimiter = "/"

// ErrNotFound is returned by Get when the object does not exist.
var ErrNotFound = errors.New("staging: object not found")

// ListRequest selects one page of a listing.
type ListRequest struct {
	Prefix    string
	Delimiter string
	PageToken string
}

// ListPage is one page of results. Prefixes holds the common prefixes
// ("sub-directories") when a delimiter was supplied; each ends with the
// delimiter. An empty NextPageToken means the listing is exhausted.
type ListPage struct {
	Items         []string
	Prefixes      []string
	NextPageToken string
}

// Store is the staging object store.
type Store interface {
	// Upload writes body to path, replacing any existing object.
	Upload(ctx context.Context, path string, body io.Reader) error

	// Get reads the full object at path. It returns ErrNotFound when the
	// object does not exist.
	Get(ctx context.Context, path string) ([]byte, error)

	// List returns a single page of objects and common prefixes.
	List(ctx context.Context, req ListRequest) (ListPage, error)

	// Delete removes the object at path.
	Delete(ctx context.Context, path string) error
}

// Walk drains every page of the listing described by req, calling fn once
// per page. Iteration stops at the first error from the store or from fn.
func Walk(ctx context.Context, store Store, req ListRequest, fn func(ListPage) error) error {
	for {
		page, err := store.List(ctx, req)
		if err != nil {
			return err
		}
		if err := fn(page); err != nil {
			return err
		}
		if page.NextPageToken == "" {
			return nil
		}
		req.PageToken = page.NextPageToken
	}
}
