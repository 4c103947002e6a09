package checkpoint

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/windrose/conductor/core"
)

// RedisStore persists namespaced keys in a Redis hash per namespace,
// in the shape of gomind/orchestration/workflow_state.go's RedisStateStore
// (client + namespaced keys), using a Watch transaction on Put so
// concurrent writers to the same key serialize cleanly.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to redisURL; prefix namespaces every hash key
// this store creates (e.g. "conductor").
func NewRedisStore(redisURL, prefix string) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: invalid redis url: %w", err)
	}
	if prefix == "" {
		prefix = "conductor"
	}
	return &RedisStore{client: redis.NewClient(opt), prefix: prefix}, nil
}

func (s *RedisStore) hashKey(ns Namespace) string {
	return s.prefix + ":checkpoint:" + ns.flatten()
}

// Put writes key within ns inside a Watch transaction so the
// last-writer-wins guarantee spec §4.7 allows still serializes cleanly
// under Redis's own concurrency model.
func (s *RedisStore) Put(ctx context.Context, ns Namespace, key string, blob []byte) error {
	hkey := s.hashKey(ns)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, hkey, key, blob)
			return nil
		})
		return err
	}, hkey)
	if err != nil {
		return core.NewError("checkpoint.put", core.KindStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, ns Namespace, key string) ([]byte, error) {
	raw, err := s.client.HGet(ctx, s.hashKey(ns), key).Bytes()
	if err == redis.Nil {
		return nil, core.NewError("checkpoint.get", core.KindInvalidRequest, ErrMiss)
	}
	if err != nil {
		return nil, core.NewError("checkpoint.get", core.KindStoreUnavailable, err)
	}
	return raw, nil
}

func (s *RedisStore) Delete(ctx context.Context, ns Namespace, key string) error {
	if err := s.client.HDel(ctx, s.hashKey(ns), key).Err(); err != nil {
		return core.NewError("checkpoint.delete", core.KindStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) ListKeys(ctx context.Context, ns Namespace) ([]string, error) {
	keys, err := s.client.HKeys(ctx, s.hashKey(ns)).Result()
	if err != nil {
		return nil, core.NewError("checkpoint.list_keys", core.KindStoreUnavailable, err)
	}
	return keys, nil
}
