package bucket

import (
	"context"
	"sync"

	errs "github.com/matzehuels/neonfeed/pkg/errors"
)

// MemoryStore keeps buckets in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string]Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]map[string]Entry)}
}

func (s *MemoryStore) Names(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.buckets), nil
}

func (s *MemoryStore) Match(ctx context.Context, bucket, key string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.buckets[bucket][key]
	if !ok {
		return Entry{}, false, nil
	}
	return e.clone(), true, nil
}

func (s *MemoryStore) Put(ctx context.Context, bucket, key string, entry Entry) error {
	return s.PutAll(ctx, bucket, map[string]Entry{key: entry})
}

func (s *MemoryStore) PutAll(ctx context.Context, bucket string, entries map[string]Entry) error {
	if err := errs.ValidateBucketName(bucket); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[bucket]
	if !ok {
		b = make(map[string]Entry, len(entries))
		s.buckets[bucket] = b
	}
	for k, e := range entries {
		b[k] = e.clone()
	}
	return nil
}

func (s *MemoryStore) Keys(ctx context.Context, bucket string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.buckets[bucket]), nil
}

func (s *MemoryStore) DeleteBucket(ctx context.Context, bucket string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.buckets[bucket]
	delete(s.buckets, bucket)
	return ok, nil
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
