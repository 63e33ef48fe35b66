// Package multipart orchestrates S3 multipart uploads whose parts are staged
// in an external object store. All session state lives in the staging store:
// a marker object records when the session was created and each part is a
// separate object named by its part number.
package multipart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/eteran/stagegate/pkg/s3err"
	"github.com/eteran/stagegate/pkg/staging"
	"github.com/eteran/stagegate/pkg/storage"
)

// DefaultRetention is how long a session may stay open before the cleanup
// sweep removes it.
const DefaultRetention = 7 * 24 * time.Hour

// Manager runs the multipart session lifecycle against a staging store and
// hands completed payloads to a content store.
type Manager struct {
	store     staging.Store
	target    storage.ContentStore
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

type ManagerOption func(*Manager)

// WithRetention sets the age after which the sweep expires a session.
func WithRetention(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.retention = d
	}
}

// WithClock replaces the time source used for markers and expiry.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLogger sets the logger used for session and sweep events.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager returns a Manager over store that delivers completed uploads
// to target.
func NewManager(store staging.Store, target storage.ContentStore, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:     store,
		target:    target,
		retention: DefaultRetention,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CompleteResult describes a successfully completed upload.
type CompleteResult struct {
	Content storage.ContentRef
	Parts   int
}

var errFound = errors.New("found")

// Create starts a session by writing its marker. Calling it again for the
// same session rewrites the marker.
func (m *Manager) Create(ctx context.Context, bucket, key, uploadID string) error {
	root := UploadRoot(bucket, key, uploadID)
	stamp := m.now().UTC().Format(time.RFC3339Nano)
	if err := m.store.Upload(ctx, MarkerPath(root), strings.NewReader(stamp)); err != nil {
		m.logger.Error("Write upload marker", "bucket", bucket, "key", key, "upload_id", uploadID, "err", err)
		return s3err.InternalError.Wrap(fmt.Errorf("write marker: %w", err))
	}
	return nil
}

// CheckExists reports whether any object is staged for the session.
func (m *Manager) CheckExists(ctx context.Context, bucket, key, uploadID string) (bool, error) {
	root := UploadRoot(bucket, key, uploadID)
	req := staging.ListRequest{Prefix: SessionPrefix(root), Delimiter: staging.Delimiter}
	err := staging.Walk(ctx, m.store, req, func(page staging.ListPage) error {
		if len(page.Items) > 0 || len(page.Prefixes) > 0 {
			return errFound
		}
		return nil
	})
	switch {
	case errors.Is(err, errFound):
		return true, nil
	case err != nil:
		m.logger.Error("List upload session", "bucket", bucket, "key", key, "upload_id", uploadID, "err", err)
		return false, s3err.InternalError.Wrap(fmt.Errorf("list session: %w", err))
	}
	return false, nil
}

// UploadPart stores part n of the session, replacing any earlier upload of
// the same part. The caller is responsible for checking that the session
// exists and that n is in range.
func (m *Manager) UploadPart(ctx context.Context, bucket, key, uploadID string, n int, body io.Reader) error {
	root := UploadRoot(bucket, key, uploadID)
	if err := m.store.Upload(ctx, PartPath(root, n), body); err != nil {
		m.logger.Error("Write upload part", "bucket", bucket, "key", key, "upload_id", uploadID, "part", n, "err", err)
		return s3err.InternalError.Wrap(fmt.Errorf("write part %d: %w", n, err))
	}
	return nil
}

// collectParts lists the session and records every staged part number.
func (m *Manager) collectParts(ctx context.Context, root string) (*PartTracker, error) {
	tracker := NewPartTracker()
	req := staging.ListRequest{Prefix: SessionPrefix(root), Delimiter: staging.Delimiter}
	err := staging.Walk(ctx, m.store, req, func(page staging.ListPage) error {
		for _, item := range page.Items {
			name := lastSegment(item)
			if name == MarkerName {
				continue
			}
			n, err := strconv.Atoi(name)
			if err != nil || strconv.Itoa(n) != name {
				return s3err.InvalidParts.Wrap(fmt.Errorf("unexpected object %q in upload", item))
			}
			if err := tracker.Add(n); err != nil {
				return s3err.InvalidParts.Wrap(err)
			}
		}
		for _, prefix := range page.Prefixes {
			m.logger.Warn("Ignoring nested prefix in upload", "prefix", prefix)
		}
		return nil
	})
	if err != nil {
		var e *s3err.Error
		if errors.As(err, &e) {
			return nil, err
		}
		return nil, s3err.InternalError.Wrap(fmt.Errorf("list parts: %w", err))
	}
	return tracker, nil
}

// Complete assembles parts 1..max into the target store and removes the
// session. An incomplete session fails with InvalidParts and is left as is.
// If the target store rejects the payload the session is also kept, so the
// call may be retried.
func (m *Manager) Complete(ctx context.Context, bucket, key, uploadID string) (CompleteResult, error) {
	root := UploadRoot(bucket, key, uploadID)

	tracker, err := m.collectParts(ctx, root)
	if err != nil {
		return CompleteResult{}, err
	}
	if !tracker.IsComplete() {
		return CompleteResult{}, s3err.InvalidParts.Wrap(
			fmt.Errorf("upload has %d parts up to %d, missing %v", tracker.Len(), tracker.Max(), tracker.Missing(10)))
	}

	pr, pw := io.Pipe()
	go m.streamParts(ctx, root, tracker.Max(), pw)

	ref, err := m.target.Put(ctx, bucket, pr)
	_ = pr.Close()
	if err != nil {
		m.logger.Error("Hand off completed upload", "bucket", bucket, "key", key, "upload_id", uploadID, "err", err)
		return CompleteResult{}, s3err.InternalError.Wrap(fmt.Errorf("store content: %w", err))
	}

	if err := m.RmRf(ctx, SessionPrefix(root)); err != nil {
		m.logger.Error("Remove completed upload", "bucket", bucket, "key", key, "upload_id", uploadID, "err", err)
		return CompleteResult{}, s3err.InternalError.Wrap(fmt.Errorf("remove staged parts: %w", err))
	}

	m.logger.Info("Completed multipart upload",
		"bucket", bucket,
		"key", key,
		"upload_id", uploadID,
		"parts", tracker.Max(),
		"size", humanize.Bytes(uint64(ref.Size)),
		"content_id", ref.ID,
	)
	return CompleteResult{Content: ref, Parts: tracker.Max()}, nil
}

// streamParts writes parts 1..last to pw in order.
func (m *Manager) streamParts(ctx context.Context, root string, last int, pw *io.PipeWriter) {
	for n := 1; n <= last; n++ {
		data, err := m.store.Get(ctx, PartPath(root, n))
		if err != nil {
			pw.CloseWithError(fmt.Errorf("read part %d: %w", n, err))
			return
		}
		if _, err := pw.Write(data); err != nil {
			return
		}
	}
	_ = pw.Close()
}

// Abort removes every object staged for the session.
func (m *Manager) Abort(ctx context.Context, bucket, key, uploadID string) error {
	root := UploadRoot(bucket, key, uploadID)
	if err := m.RmRf(ctx, SessionPrefix(root)); err != nil {
		m.logger.Error("Abort multipart upload", "bucket", bucket, "key", key, "upload_id", uploadID, "err", err)
		return s3err.InternalError.Wrap(fmt.Errorf("remove staged parts: %w", err))
	}
	return nil
}

// RmRf deletes everything under prefix. Sub-prefixes are expanded from a
// work list rather than by recursion. The first failed delete stops the call.
func (m *Manager) RmRf(ctx context.Context, prefix string) error {
	pending := []string{prefix}
	for len(pending) > 0 {
		current := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		req := staging.ListRequest{Prefix: current, Delimiter: staging.Delimiter}
		err := staging.Walk(ctx, m.store, req, func(page staging.ListPage) error {
			pending = append(pending, page.Prefixes...)
			for _, item := range page.Items {
				if err := m.store.Delete(ctx, item); err != nil {
					return fmt.Errorf("delete %q: %w", item, err)
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("rm -rf %q: %w", current, err)
		}
	}
	return nil
}
