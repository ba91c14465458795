package bucket

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/matzehuels/neonfeed/pkg/cache"
	errs "github.com/matzehuels/neonfeed/pkg/errors"
)

// FileStore keeps each bucket in its own directory with one JSON file per
// entry.
type FileStore struct {
	mu  sync.RWMutex
	dir string
}

// fileEntry is the on-disk form; the key is kept because file names are hashes.
type fileEntry struct {
	Key   string `json:"key"`
	Entry Entry  `json:"entry"`
}

// NewFileStore creates a file store rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errs.New(errs.ErrCodeInvalidConfig, "file store requires a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create bucket dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the root directory.
func (s *FileStore) Path() string { return s.dir }

func (s *FileStore) Names(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dirs, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read bucket dir: %w", err)
	}
	var names []string
	for _, d := range dirs {
		if !d.IsDir() || errs.ValidateBucketName(d.Name()) != nil {
			continue
		}
		if s.hasEntries(d.Name()) {
			names = append(names, d.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

func (s *FileStore) Match(ctx context.Context, bucket, key string) (Entry, bool, error) {
	if errs.ValidateBucketName(bucket) != nil {
		return Entry{}, false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	path := s.path(bucket, key)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("read entry: %w", err)
	}

	var fe fileEntry
	if err := json.Unmarshal(data, &fe); err != nil || fe.Key != key {
		// Corrupt entry - treat as miss
		_ = os.Remove(path)
		return Entry{}, false, nil
	}
	return fe.Entry, true, nil
}

func (s *FileStore) Put(ctx context.Context, bucket, key string, entry Entry) error {
	return s.PutAll(ctx, bucket, map[string]Entry{key: entry})
}

// PutAll stages every entry in a temporary file before renaming any of
// them into place, so an encoding or write failure leaves the bucket as it
// was.
func (s *FileStore) PutAll(ctx context.Context, bucket string, entries map[string]Entry) error {
	if err := errs.ValidateBucketName(bucket); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	type staged struct{ tmp, path string }
	var done []staged
	cleanup := func() {
		for _, st := range done {
			os.Remove(st.tmp)
		}
	}

	for _, key := range sortedKeys(entries) {
		data, err := json.Marshal(fileEntry{Key: key, Entry: entries[key]})
		if err != nil {
			cleanup()
			return fmt.Errorf("encode entry %s: %w", key, err)
		}
		path := s.path(bucket, key)
		tmp, err := writeTemp(filepath.Dir(path), data)
		if err != nil {
			cleanup()
			return err
		}
		done = append(done, staged{tmp: tmp, path: path})
	}

	for _, st := range done {
		if err := os.Rename(st.tmp, st.path); err != nil {
			cleanup()
			return fmt.Errorf("commit entry: %w", err)
		}
	}
	return nil
}

func (s *FileStore) Keys(ctx context.Context, bucket string) ([]string, error) {
	if errs.ValidateBucketName(bucket) != nil {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	err := s.walk(bucket, func(path string) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		var fe fileEntry
		if json.Unmarshal(data, &fe) == nil {
			keys = append(keys, fe.Key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(keys)
	return keys, nil
}

func (s *FileStore) DeleteBucket(ctx context.Context, bucket string) (bool, error) {
	if errs.ValidateBucketName(bucket) != nil {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existed := s.hasEntries(bucket)
	if err := os.RemoveAll(filepath.Join(s.dir, bucket)); err != nil {
		return false, fmt.Errorf("remove bucket %s: %w", bucket, err)
	}
	return existed, nil
}

func (s *FileStore) Close() error { return nil }

// path maps a key to dir/<bucket>/<2-char hash prefix>/<rest of hash>.json.
func (s *FileStore) path(bucket, key string) string {
	hash := cache.Hash([]byte(key))
	return filepath.Join(s.dir, bucket, hash[:2], hash[2:]+".json")
}

var errStopWalk = fmt.Errorf("stop walk")

func (s *FileStore) hasEntries(bucket string) bool {
	found := false
	s.walk(bucket, func(string) error {
		found = true
		return errStopWalk
	})
	return found
}

// walk calls fn for every committed entry file in bucket.
func (s *FileStore) walk(bucket string, fn func(path string) error) error {
	root := filepath.Join(s.dir, bucket)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}
		return fn(path)
	})
	if err == errStopWalk {
		return nil
	}
	if err != nil {
		return fmt.Errorf("walk bucket %s: %w", bucket, err)
	}
	return nil
}

func writeTemp(dir string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create entry dir: %w", err)
	}
	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp entry: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write temp entry: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close temp entry: %w", err)
	}
	return f.Name(), nil
}

var _ Store = (*FileStore)(nil)
