// Package memory provides an in-memory staging store for tests and local
// development. It models the listing semantics of the networked backends,
// including delimiter grouping and page tokens, and can inject failures.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/eteran/stagegate/pkg/staging"
)

// Op names a store operation in the call log and in failure hooks.
type Op string

const (
	OpUpload Op = "upload"
	OpGet    Op = "get"
	OpList   Op = "list"
	OpDelete Op = "delete"
)

// Call is one recorded store invocation. For listings Path holds the prefix.
type Call struct {
	Op   Op
	Path string
}

// FailFunc decides whether an operation on path should fail. Returning nil
// lets the operation proceed.
type FailFunc func(op Op, path string) error

// Config configures the in-memory store.
type Config struct {
	// PageSize caps the number of entries (items plus prefixes) per listing
	// page. Zero means unlimited.
	PageSize int
	Fail     FailFunc
}

// Store implements staging.Store in memory.
type Store struct {
	mu      sync.RWMutex
	objects map[string][]byte
	calls   []Call
	cfg     Config
}

var _ staging.Store = (*Store)(nil)

// New returns an empty store with unlimited page size.
func New() *Store {
	return NewWithConfig(Config{})
}

// NewWithConfig returns an empty store configured by cfg.
func NewWithConfig(cfg Config) *Store {
	return &Store{
		objects: make(map[string][]byte),
		cfg:     cfg,
	}
}

// SetFailFunc replaces the failure hook.
func (s *Store) SetFailFunc(fn FailFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Fail = fn
}

// SetPageSize changes the listing page size.
func (s *Store) SetPageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.PageSize = n
}

// Calls returns a copy of the call log.
func (s *Store) Calls() []Call {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Paths returns every stored object path in lexical order.
func (s *Store) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedPathsLocked()
}

// Put seeds an object without going through the call log or failure hook.
func (s *Store) Put(path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = append([]byte(nil), data...)
}

func (s *Store) record(op Op, path string) error {
	s.calls = append(s.calls, Call{Op: op, Path: path})
	if s.cfg.Fail != nil {
		return s.cfg.Fail(op, path)
	}
	return nil
}

func (s *Store) Upload(ctx context.Context, path string, body io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// Read outside the lock so a slow body does not stall other callers.
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("memory: read body: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(OpUpload, path); err != nil {
		return err
	}
	s.objects[path] = data
	return nil
}

func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(OpGet, path); err != nil {
		return nil, err
	}
	data, ok := s.objects[path]
	if !ok {
		return nil, staging.ErrNotFound
	}
	return bytes.Clone(data), nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(OpDelete, path); err != nil {
		return err
	}
	delete(s.objects, path)
	return nil
}

func (s *Store) List(ctx context.Context, req staging.ListRequest) (staging.ListPage, error) {
	if err := ctx.Err(); err != nil {
		return staging.ListPage{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(OpList, req.Prefix); err != nil {
		return staging.ListPage{}, err
	}

	type entry struct {
		name   string
		prefix bool
	}

	var entries []entry
	seen := make(map[string]struct{})
	for _, key := range s.sortedPathsLocked() {
		if !strings.HasPrefix(key, req.Prefix) {
			continue
		}
		rest := key[len(req.Prefix):]
		if req.Delimiter != "" {
			if idx := strings.Index(rest, req.Delimiter); idx >= 0 {
				common := req.Prefix + rest[:idx+len(req.Delimiter)]
				if _, ok := seen[common]; !ok {
					seen[common] = struct{}{}
					entries = append(entries, entry{name: common, prefix: true})
				}
				continue
			}
		}
		entries = append(entries, entry{name: key})
	}

	if req.PageToken != "" {
		start := sort.Search(len(entries), func(i int) bool {
			return entries[i].name > req.PageToken
		})
		entries = entries[start:]
	}

	var page staging.ListPage
	if s.cfg.PageSize > 0 && len(entries) > s.cfg.PageSize {
		entries = entries[:s.cfg.PageSize]
		page.NextPageToken = entries[len(entries)-1].name
	}
	for _, e := range entries {
		if e.prefix {
			page.Prefixes = append(page.Prefixes, e.name)
		} else {
			page.Items = append(page.Items, e.name)
		}
	}
	return page, nil
}

func (s *Store) sortedPathsLocked() []string {
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
