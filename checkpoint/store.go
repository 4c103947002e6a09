// Package checkpoint implements the durable namespaced key/value store
// (spec §4.7) the execution engine uses to persist WorkflowState and
// per-step segments. Grounded on gomind/orchestration/hitl_interfaces.go's
// CheckpointStore interface shape and gomind/orchestration/workflow_state.go's
// RedisStateStore (Watch-transaction update pattern).
package checkpoint

import (
	"context"

	"github.com/windrose/conductor/core"
)

// Namespace is a tuple of strings identifying a logical collection of
// keys (e.g. []string{"workflow-state", threadID}).
type Namespace []string

// flatten joins a namespace into a single string key component.
func (n Namespace) flatten() string {
	out := ""
	for i, part := range n {
		if i > 0 {
			out += "\x1f"
		}
		out += part
	}
	return out
}

// Store is the durable (namespace, key) -> blob contract. Reads always
// see the latest committed value; concurrent writers to the same key
// serialize, last-writer-wins, which is acceptable per spec §4.7 because
// there is at most one engine per thread writing to a given namespace.
type Store interface {
	Put(ctx context.Context, ns Namespace, key string, blob []byte) error
	Get(ctx context.Context, ns Namespace, key string) ([]byte, error)
	Delete(ctx context.Context, ns Namespace, key string) error
	ListKeys(ctx context.Context, ns Namespace) ([]string, error)
}

// Get returning core.ErrCheckpointMiss signals "no such key" to callers
// that need to distinguish a miss from a transport failure.
var ErrMiss = core.ErrCheckpointMiss
