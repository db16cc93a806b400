// Package memory provides an in-process CacheStorage.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/tinywideclouds/go-shellworker/pkg/worker"
)

// Storage keeps buckets in maps guarded by a single lock.
type Storage struct {
	mu      sync.RWMutex
	buckets map[string]*Bucket
	order   []string
}

func NewStorage() *Storage {
	return &Storage{buckets: make(map[string]*Bucket)}
}

func (s *Storage) Open(_ context.Context, name string) (worker.Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.buckets[name]; ok {
		return b, nil
	}
	b := &Bucket{entries: make(map[string]*worker.Response)}
	s.buckets[name] = b
	s.order = append(s.order, name)
	return b, nil
}

func (s *Storage) Has(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.buckets[name]
	return ok, nil
}

func (s *Storage) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...), nil
}

func (s *Storage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[name]
	if !ok {
		return false, nil
	}
	b.detach()
	delete(s.buckets, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true, nil
}

// Bucket stores clones, and hands out clones, so no caller shares a body
// with storage.
type Bucket struct {
	mu       sync.RWMutex
	entries  map[string]*worker.Response
	detached bool
}

func (b *Bucket) detach() {
	b.mu.Lock()
	b.detached = true
	b.entries = nil
	b.mu.Unlock()
}

func (b *Bucket) Match(_ context.Context, req *worker.Request) (*worker.Response, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	resp, ok := b.entries[req.Key()]
	if !ok {
		return nil, false, nil
	}
	return resp.Clone(), true, nil
}

func (b *Bucket) Put(_ context.Context, req *worker.Request, resp *worker.Response) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.detached {
		return worker.ErrBucketDeleted
	}
	b.entries[req.Key()] = resp.Clone()
	return nil
}

func (b *Bucket) Keys(_ context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.entries))
	for k := range b.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
