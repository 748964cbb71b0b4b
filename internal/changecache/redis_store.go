package changecache

import (
	"context"
	"errors"
	"fmt"
	"time"

	redisclient "github.com/angelmondragon/opsconsole/pkg/redis"
	"github.com/redis/go-redis/v9"
)

const redisScope = "orders"

// RedisStore keeps the whole cache under a single namespaced key so every
// API and worker instance sees the same verdicts.
type RedisStore struct {
	client redisclient.KeyValueStore
	key    string
	ttl    time.Duration
}

// NewRedisStore builds a store on client. The key expires after RetentionWindow
// of inactivity.
func NewRedisStore(client redisclient.KeyValueStore) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	return &RedisStore{client: client, key: client.ChangeCacheKey(redisScope), ttl: RetentionWindow}, nil
}

func (s *RedisStore) LoadAll(ctx context.Context) (map[string]Entry, error) {
	raw, err := s.client.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return map[string]Entry{}, nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrCorrupt, s.key, err)
	}
	return decodeEntries([]byte(raw))
}

func (s *RedisStore) SaveAll(ctx context.Context, entries map[string]Entry) error {
	data, err := encodeEntries(entries)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, string(data), s.ttl); err != nil {
		return fmt.Errorf("write %s: %w", s.key, err)
	}
	return nil
}
