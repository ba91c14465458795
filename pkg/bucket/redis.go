package bucket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	redis "github.com/redis/go-redis/v9"

	errs "github.com/matzehuels/neonfeed/pkg/errors"
)

// DefaultRedisPrefix namespaces every key the redis store writes.
const DefaultRedisPrefix = "neonfeed"

// RedisStore keeps each bucket in a redis hash (field = key, value = JSON
// entry) and tracks bucket names in a set.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a store on client. The store owns the client and
// closes it in Close.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(params ...string) string {
	params = append([]string{s.prefix}, params...)
	return strings.Join(params, ":")
}

func (s *RedisStore) indexKey() string { return s.key("buckets") }

func (s *RedisStore) bucketKey(bucket string) string { return s.key("bucket", bucket) }

func (s *RedisStore) Names(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	slices.Sort(names)
	return names, nil
}

func (s *RedisStore) Match(ctx context.Context, bucket, key string) (Entry, bool, error) {
	data, err := s.client.HGet(ctx, s.bucketKey(bucket), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("get entry %s: %w", key, err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, false, fmt.Errorf("decode entry %s: %w", key, err)
	}
	return e, true, nil
}

func (s *RedisStore) Put(ctx context.Context, bucket, key string, entry Entry) error {
	return s.PutAll(ctx, bucket, map[string]Entry{key: entry})
}

// PutAll writes the hash fields and the index entry in one MULTI/EXEC.
func (s *RedisStore) PutAll(ctx context.Context, bucket string, entries map[string]Entry) error {
	if err := errs.ValidateBucketName(bucket); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	fields := make([]any, 0, 2*len(entries))
	for _, k := range sortedKeys(entries) {
		data, err := json.Marshal(entries[k])
		if err != nil {
			return fmt.Errorf("encode entry %s: %w", k, err)
		}
		fields = append(fields, k, data)
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.bucketKey(bucket), fields...)
		pipe.SAdd(ctx, s.indexKey(), bucket)
		return nil
	})
	if err != nil {
		return fmt.Errorf("put entries in %s: %w", bucket, err)
	}
	return nil
}

func (s *RedisStore) Keys(ctx context.Context, bucket string) ([]string, error) {
	keys, err := s.client.HKeys(ctx, s.bucketKey(bucket)).Result()
	if err != nil {
		return nil, fmt.Errorf("list keys in %s: %w", bucket, err)
	}
	slices.Sort(keys)
	return keys, nil
}

func (s *RedisStore) DeleteBucket(ctx context.Context, bucket string) (bool, error) {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.bucketKey(bucket))
		pipe.SRem(ctx, s.indexKey(), bucket)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete bucket %s: %w", bucket, err)
	}
	return del.Val() > 0, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
