// Package memory implements the per-user typed memory graph (spec §4.4):
// dedup-on-store nodes, typed edges, weighted retrieval scoring, PageRank
// importance, Louvain-style clustering, betweenness bridges, and a
// decay+GC sweep. Grounded on gomind/pkg/memory (store/retrieve contract)
// generalized from a flat TTL cache into a graph, and gomind/core/memory_store.go
// for the sync.RWMutex-guarded in-memory backend idiom.
package memory

import (
	"time"

	"github.com/google/uuid"
)

// Kind is a Memory Node's type tag.
type Kind string

const (
	KindSearchResult     Kind = "SearchResult"
	KindUserSelection    Kind = "UserSelection"
	KindToolOutput       Kind = "ToolOutput"
	KindDomainEntity     Kind = "DomainEntity"
	KindCompletedAction  Kind = "CompletedAction"
	KindConversationFact Kind = "ConversationFact"
	KindTemporaryState   Kind = "TemporaryState"
)

// Node is a Memory Node per spec §3. DomainEntity nodes persist across
// threads for a user; every other kind is per-thread.
type Node struct {
	ID             string                 `json:"id"`
	UserID         string                 `json:"user_id"`
	ThreadID       string                 `json:"thread_id,omitempty"`
	Kind           Kind                   `json:"kind"`
	Content        map[string]interface{} `json:"content"`
	Summary        string                 `json:"summary"`
	Tags           []string               `json:"tags"`
	CreatedAt      time.Time              `json:"created_at"`
	LastAccessedAt time.Time              `json:"last_accessed_at"`
	AccessCount    int                    `json:"access_count"`
	BaseRelevance  float64                `json:"base_relevance"`
	Embedding      []float64              `json:"embedding,omitempty"`

	// EntityID/EntitySystem form the optional dedup key; both empty means
	// the node is never deduplicated against another.
	EntityID     string `json:"entity_id,omitempty"`
	EntitySystem string `json:"entity_system,omitempty"`
}

// dedupKey returns the (userID, entityID, entitySystem) key, or "" if the
// node carries no dedup identity.
func (n *Node) dedupKey() string {
	if n.EntityID == "" && n.EntitySystem == "" {
		return ""
	}
	return n.UserID + "\x00" + n.EntityID + "\x00" + n.EntitySystem
}

// newNodeID generates a fresh node identifier.
func newNodeID() string {
	return uuid.NewString()
}

// EdgeType names a typed relation between two nodes.
type EdgeType string

const (
	EdgeLedTo       EdgeType = "LedTo"       // produced-by-sequence, e.g. consecutive completed steps
	EdgeRelatesTo   EdgeType = "RelatesTo"
	EdgeDependsOn   EdgeType = "DependsOn"
	EdgeContradicts EdgeType = "Contradicts"
	EdgeRefines     EdgeType = "Refines"
	EdgeAnswers     EdgeType = "Answers"
)

// Edge is a typed, weighted relation from one node to another.
type Edge struct {
	From     string   `json:"from"`
	To       string   `json:"to"`
	Type     EdgeType `json:"type"`
	Strength float64  `json:"strength"`
}

func edgeKey(from, to string, t EdgeType) string {
	return from + "\x00" + to + "\x00" + string(t)
}
