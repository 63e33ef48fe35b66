// Package memory provides an in-process registry.Store. Every lookup is
// recorded so tests can assert which collections were consulted and in
// what order.
package memory

import (
	"bytes"
	"context"
	"sync"

	"github.com/eteran/stagegate/pkg/registry"
)

// Lookup records one call to Store.Lookup.
type Lookup struct {
	Collection string
	Key        string
}

// FailFunc injects an error for a lookup; returning nil lets it proceed.
type FailFunc func(collection, key string) error

// Store is a map-backed registry.Store.
type Store struct {
	mu    sync.RWMutex
	docs  map[string]map[string]registry.Document
	calls []Lookup
	fail  FailFunc
}

var _ registry.Store = (*Store)(nil)

func New() *Store {
	return &Store{docs: make(map[string]map[string]registry.Document)}
}

// Put stores doc under collection/key, replacing any existing document.
func (s *Store) Put(collection, key string, doc registry.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.docs[collection]
	if !ok {
		c = make(map[string]registry.Document)
		s.docs[collection] = c
	}
	c[key] = bytes.Clone(doc)
}

func (s *Store) SetFailFunc(fn FailFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fn
}

// Calls returns a copy of the lookup log.
func (s *Store) Calls() []Lookup {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Lookup, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *Store) Lookup(ctx context.Context, collection, key string) (registry.Document, bool, error) {
	s.mu.Lock()
	s.calls = append(s.calls, Lookup{Collection: collection, Key: key})
	fail := s.fail
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if fail != nil {
		if err := fail(collection, key); err != nil {
			return nil, false, err
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[collection][key]
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(doc), true, nil
}
