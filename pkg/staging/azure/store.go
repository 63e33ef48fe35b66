// Package azure implements staging.Store on Azure Blob Storage.
package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/eteran/stagegate/pkg/staging"
)

// Config configures the Azure staging store. ConnectionString, when set,
// takes precedence over Account/AccountKey.
type Config struct {
	Account          string
	AccountKey       string
	Endpoint         string
	ConnectionString string
	Container        string
	PageSize         int32
	CreateContainer  bool
}

// Store implements staging.Store.
type Store struct {
	client    *azblob.Client
	container string
	pageSize  int32
}

var _ staging.Store = (*Store)(nil)

// ServiceURL returns the blob endpoint for cfg.
func (cfg Config) ServiceURL() string {
	if cfg.Endpoint != "" {
		return strings.TrimRight(cfg.Endpoint, "/") + "/"
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.Account)
}

func (cfg Config) validate() error {
	if cfg.Container == "" {
		return errors.New("azure: container is required")
	}
	if cfg.ConnectionString != "" {
		return nil
	}
	if cfg.Account == "" {
		return errors.New("azure: account is required")
	}
	if cfg.AccountKey == "" {
		return errors.New("azure: account key or connection string is required")
	}
	return nil
}

// New builds a client for cfg. When cfg.CreateContainer is set the
// container is created if it does not exist yet.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	opts := &azblob.ClientOptions{
		ClientOptions: policy.ClientOptions{
			Transport: &http.Client{Timeout: 5 * time.Minute},
		},
	}

	var (
		client *azblob.Client
		err    error
	)
	if cfg.ConnectionString != "" {
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, opts)
	} else {
		cred, credErr := azblob.NewSharedKeyCredential(cfg.Account, cfg.AccountKey)
		if credErr != nil {
			return nil, fmt.Errorf("azure: build credentials: %w", credErr)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(cfg.ServiceURL(), cred, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("azure: create client: %w", err)
	}

	if cfg.CreateContainer {
		_, err = client.CreateContainer(ctx, cfg.Container, nil)
		if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
			return nil, fmt.Errorf("azure: create container: %w", err)
		}
	}

	return &Store{client: client, container: cfg.Container, pageSize: cfg.PageSize}, nil
}

func (s *Store) Upload(ctx context.Context, path string, body io.Reader) error {
	_, err := s.client.UploadStream(ctx, s.container, path, body, nil)
	if err != nil {
		return fmt.Errorf("azure: upload %q: %w", path, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, path, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, staging.ErrNotFound
		}
		return nil, fmt.Errorf("azure: get %q: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("azure: read %q: %w", path, err)
	}
	return data, nil
}

// List fetches exactly one page. Azure's continuation marker is used as
// the page token verbatim.
func (s *Store) List(ctx context.Context, req staging.ListRequest) (staging.ListPage, error) {
	// An empty delimiter lists the whole subtree.
	if req.Delimiter == "" {
		return s.listFlat(ctx, req)
	}

	opts := &container.ListBlobsHierarchyOptions{}
	if req.Prefix != "" {
		opts.Prefix = &req.Prefix
	}
	if req.PageToken != "" {
		opts.Marker = &req.PageToken
	}
	if s.pageSize > 0 {
		opts.MaxResults = &s.pageSize
	}

	pager := s.client.ServiceClient().NewContainerClient(s.container).NewListBlobsHierarchyPager(req.Delimiter, opts)
	resp, err := pager.NextPage(ctx)
	if err != nil {
		return staging.ListPage{}, fmt.Errorf("azure: list %q: %w", req.Prefix, err)
	}

	var page staging.ListPage
	if resp.Segment != nil {
		for _, item := range resp.Segment.BlobItems {
			if item != nil && item.Name != nil {
				page.Items = append(page.Items, *item.Name)
			}
		}
		for _, prefix := range resp.Segment.BlobPrefixes {
			if prefix != nil && prefix.Name != nil {
				page.Prefixes = append(page.Prefixes, *prefix.Name)
			}
		}
	}
	if resp.NextMarker != nil {
		page.NextPageToken = *resp.NextMarker
	}
	return page, nil
}

func (s *Store) listFlat(ctx context.Context, req staging.ListRequest) (staging.ListPage, error) {
	opts := &azblob.ListBlobsFlatOptions{}
	if req.Prefix != "" {
		opts.Prefix = &req.Prefix
	}
	if req.PageToken != "" {
		opts.Marker = &req.PageToken
	}
	if s.pageSize > 0 {
		opts.MaxResults = &s.pageSize
	}

	pager := s.client.NewListBlobsFlatPager(s.container, opts)
	resp, err := pager.NextPage(ctx)
	if err != nil {
		return staging.ListPage{}, fmt.Errorf("azure: list %q: %w", req.Prefix, err)
	}

	var page staging.ListPage
	if resp.Segment != nil {
		for _, item := range resp.Segment.BlobItems {
			if item != nil && item.Name != nil {
				page.Items = append(page.Items, *item.Name)
			}
		}
	}
	if resp.NextMarker != nil {
		page.NextPageToken = *resp.NextMarker
	}
	return page, nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteBlob(ctx, s.container, path, nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("azure: delete %q: %w", path, err)
	}
	return nil
}

func isNotFound(err error) bool {
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return true
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusNotFound
	}
	return false
}
