package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/windrose/conductor/core"
)

// RedisBackend persists Agent Cards under a namespaced Redis hash, in the
// shape of gomind/core/redis_registry.go's namespace+client pattern
// (though simplified to a single hash rather than per-key TTL entries,
// since the Catalog — not Redis — owns liveness via health polling).
type RedisBackend struct {
	client    *redis.Client
	namespace string
	logger    core.Logger
}

// NewRedisBackend connects to redisURL and returns a Backend storing
// cards under namespace.
func NewRedisBackend(redisURL, namespace string, logger core.Logger) (*RedisBackend, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("registry: invalid redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if namespace == "" {
		namespace = "conductor"
	}
	return &RedisBackend{client: client, namespace: namespace, logger: logger}, nil
}

func (b *RedisBackend) key() string {
	return b.namespace + ":agent-cards"
}

// SaveCard writes a card into the namespaced hash, keyed by agent name.
func (b *RedisBackend) SaveCard(ctx context.Context, card AgentCard) error {
	raw, err := json.Marshal(card)
	if err != nil {
		return core.NewError("registry.save_card", core.KindInvalidRequest, err)
	}
	if err := b.client.HSet(ctx, b.key(), card.Name, raw).Err(); err != nil {
		return core.NewError("registry.save_card", core.KindStoreUnavailable, err)
	}
	return nil
}

// LoadAll reads every persisted card.
func (b *RedisBackend) LoadAll(ctx context.Context) ([]AgentCard, error) {
	raw, err := b.client.HGetAll(ctx, b.key()).Result()
	if err != nil {
		return nil, core.NewError("registry.load_all", core.KindStoreUnavailable, err)
	}
	cards := make([]AgentCard, 0, len(raw))
	for _, v := range raw {
		var card AgentCard
		if err := json.Unmarshal([]byte(v), &card); err != nil {
			b.logger.Warn("skipping malformed agent card", map[string]interface{}{"error": err.Error()})
			continue
		}
		cards = append(cards, card)
	}
	return cards, nil
}
