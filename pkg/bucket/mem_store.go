package bucket

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemStore is a thread-safe in-memory Store. It backs tests and ephemeral
// gateways that do not need cached responses to survive a restart.
type MemStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string]*Entry
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{buckets: make(map[string]map[string]*Entry)}
}

// Put stores a copy of the entry, replacing any existing entry for the URL.
func (s *MemStore) Put(_ context.Context, bucketID string, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[bucketID]
	if !ok {
		b = make(map[string]*Entry)
		s.buckets[bucketID] = b
	}
	b[e.URL] = e.Clone()
	return nil
}

// Get returns a copy of the entry stored under url, or ErrNotFound.
func (s *MemStore) Get(_ context.Context, bucketID, url string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.buckets[bucketID]
	if !ok {
		return nil, fmt.Errorf("%s in bucket %s: %w", url, bucketID, ErrNotFound)
	}
	e, ok := b[url]
	if !ok {
		return nil, fmt.Errorf("%s in bucket %s: %w", url, bucketID, ErrNotFound)
	}
	return e.Clone(), nil
}

// Delete removes a single entry. Missing entries are ignored.
func (s *MemStore) Delete(_ context.Context, bucketID, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.buckets[bucketID]; ok {
		delete(b, url)
		if len(b) == 0 {
			delete(s.buckets, bucketID)
		}
	}
	return nil
}

// List returns every entry URL in the bucket, sorted.
func (s *MemStore) List(_ context.Context, bucketID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b := s.buckets[bucketID]
	urls := make([]string, 0, len(b))
	for u := range b {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls, nil
}

// Buckets returns the identities of all buckets holding entries, sorted.
func (s *MemStore) Buckets(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.buckets))
	for id := range s.buckets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteBucket removes a bucket and all its entries.
func (s *MemStore) DeleteBucket(_ context.Context, bucketID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, bucketID)
	return nil
}

// Len returns the number of entries in the bucket.
func (s *MemStore) Len(_ context.Context, bucketID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buckets[bucketID]), nil
}

// Compile-time interface check.
var _ Store = (*MemStore)(nil)
