package kvstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/contentsquare/counterd/config"
	"github.com/redis/go-redis/v9"
)

// scanCount is a hint for the number of keys returned by a single SCAN call
const scanCount = 100

type redisStore struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
}

func newRedisStore(client redis.UniversalClient, cfg config.Redis) *redisStore {
	return &redisStore{
		client:  client,
		prefix:  cfg.KeyPrefix,
		timeout: time.Duration(cfg.Timeout),
	}
}

func (r *redisStore) Name() string {
	return config.BackendRedis
}

func (r *redisStore) Close() error {
	return r.client.Close()
}

func (r *redisStore) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	v, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMissing
	}
	if err != nil {
		return "", fmt.Errorf("failed to get key %q from redis: %w", key, err)
	}
	return v, nil
}

func (r *redisStore) Put(ctx context.Context, key, value string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.client.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to put key %q to redis: %w", key, err)
	}
	return nil
}

func (r *redisStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	n, err := r.client.Del(ctx, r.prefix+key).Result()
	if err != nil {
		return fmt.Errorf("failed to delete key %q from redis: %w", key, err)
	}
	if n == 0 {
		return ErrMissing
	}
	return nil
}

func (r *redisStore) Keys(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	keys := []string{}
	var err error
	if cc, ok := r.client.(*redis.ClusterClient); ok {
		// every master owns a part of the keyspace
		var mu sync.Mutex
		err = cc.ForEachMaster(ctx, func(ctx context.Context, c *redis.Client) error {
			k, err := r.scan(ctx, c)
			if err != nil {
				return err
			}
			mu.Lock()
			keys = append(keys, k...)
			mu.Unlock()
			return nil
		})
	} else {
		keys, err = r.scan(ctx, r.client)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list keys in redis: %w", err)
	}

	sort.Strings(keys)
	return keys, nil
}

func (r *redisStore) scan(ctx context.Context, c redis.Cmdable) ([]string, error) {
	keys := []string{}
	iter := c.Scan(ctx, 0, escapePattern(r.prefix)+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), r.prefix))
	}
	return keys, iter.Err()
}

// escapePattern escapes glob special characters so that s
// is matched literally by SCAN MATCH.
func escapePattern(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
