package cache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/masterdesignstate/mmfrontend-sub002/internal/storage"
)

// SessionCache is the Redis backend for session storage (carrier slots and
// other short-lived per-client entries)
type SessionCache struct {
	client    *redis.Client
	namespace string
	scanCount int64
}

var _ storage.KV = (*SessionCache)(nil)

// NewSessionCache creates a new session cache
func NewSessionCache(client *redis.Client) *SessionCache {
	return &SessionCache{
		client:    client,
		namespace: "mmonboard:",
		scanCount: 100,
	}
}

func (c *SessionCache) key(k string) string {
	return c.namespace + k
}

func (c *SessionCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, c.key(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *SessionCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, c.key(key), value, ttl).Err()
}

// maxUpdateAttempts bounds optimistic retries when other writers keep
// touching a watched key.
const maxUpdateAttempts = 16

// Update runs fn inside WATCH/MULTI so a concurrent write to key makes the
// transaction fail and fn run again on the fresh value.
func (c *SessionCache) Update(ctx context.Context, key string, ttl time.Duration, fn storage.UpdateFunc) error {
	full := c.key(key)
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, full).Result()
		found := true
		if err == redis.Nil {
			current, found = "", false
		} else if err != nil {
			return err
		}
		next, err := fn(current, found)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, full, next, ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateAttempts; i++ {
		err := c.client.Watch(ctx, txf, full)
		if err != redis.TxFailedErr {
			return err
		}
	}
	return errors.Errorf("redis: update %s: too much contention", key)
}

func (c *SessionCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	return c.client.Del(ctx, full...).Err()
}

// Keys walks the keyspace with SCAN so large namespaces never block Redis.
func (c *SessionCache) Keys(ctx context.Context, prefix string) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	for {
		batch, next, err := c.client.Scan(ctx, cursor, c.key(prefix)+"*", c.scanCount).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range batch {
			keys = append(keys, k[len(c.namespace):])
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}
