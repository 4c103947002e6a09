package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/windrose/conductor/core"
)

// RedisBackend persists DomainEntity nodes with per-user partitioning and
// a typed index on (entityID, entitySystem), per spec §4.7's "second
// schema" requirement. Other node kinds stay in-process only — they are
// per-thread and don't need to survive a restart. Grounded on
// gomind/core/redis_registry.go's namespace+hash pattern.
type RedisBackend struct {
	client    *redis.Client
	namespace string
	logger    core.Logger
}

// NewRedisBackend connects to redisURL for DomainEntity persistence.
func NewRedisBackend(redisURL, namespace string, logger core.Logger) (*RedisBackend, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("memory: invalid redis url: %w", err)
	}
	if namespace == "" {
		namespace = "conductor"
	}
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &RedisBackend{client: redis.NewClient(opt), namespace: namespace, logger: logger}, nil
}

// userKey is the per-user partition key: namespace:domain-entities:{userID}.
func (b *RedisBackend) userKey(userID string) string {
	return fmt.Sprintf("%s:domain-entities:{%s}", b.namespace, userID)
}

// indexField builds the field name for the typed (entityID, entitySystem)
// index within a user's hash.
func indexField(entityID, entitySystem string) string {
	return entitySystem + "\x00" + entityID
}

// Persist writes or updates a DomainEntity node under its user partition.
func (b *RedisBackend) Persist(ctx context.Context, n *Node) error {
	if n.Kind != KindDomainEntity {
		return nil
	}
	raw, err := json.Marshal(n)
	if err != nil {
		return core.NewError("memory.persist", core.KindInvalidRequest, err)
	}
	field := indexField(n.EntityID, n.EntitySystem)
	if err := b.client.HSet(ctx, b.userKey(n.UserID), field, raw).Err(); err != nil {
		return core.NewError("memory.persist", core.KindStoreUnavailable, err)
	}
	return nil
}

// LoadUser returns every persisted DomainEntity node for a user.
func (b *RedisBackend) LoadUser(ctx context.Context, userID string) ([]*Node, error) {
	raw, err := b.client.HGetAll(ctx, b.userKey(userID)).Result()
	if err != nil {
		return nil, core.NewError("memory.load_user", core.KindStoreUnavailable, err)
	}
	nodes := make([]*Node, 0, len(raw))
	for _, v := range raw {
		var n Node
		if err := json.Unmarshal([]byte(v), &n); err != nil {
			b.logger.Warn("skipping malformed domain entity", map[string]interface{}{"error": err.Error()})
			continue
		}
		nodes = append(nodes, &n)
	}
	return nodes, nil
}

// LoadByEntity looks up a single DomainEntity by its typed index key.
func (b *RedisBackend) LoadByEntity(ctx context.Context, userID, entityID, entitySystem string) (*Node, bool, error) {
	raw, err := b.client.HGet(ctx, b.userKey(userID), indexField(entityID, entitySystem)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, core.NewError("memory.load_by_entity", core.KindStoreUnavailable, err)
	}
	var n Node
	if err := json.Unmarshal([]byte(raw), &n); err != nil {
		return nil, false, core.NewError("memory.load_by_entity", core.KindStoreUnavailable, err)
	}
	return &n, true, nil
}
