package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/windrose/conductor/core"
)

// EventSink receives graph lifecycle events. The supervisor wires this to
// the observer bus (C6) through observer.MemorySink; memory itself does
// not import the observer package.
type EventSink interface {
	Emit(threadID, eventType string, payload map[string]interface{})
}

// noopSink discards every event.
type noopSink struct{}

func (noopSink) Emit(string, string, map[string]interface{}) {}

// DecayConfig tunes the decayed-relevance formula from spec §4.4.
type DecayConfig struct {
	// RatePerHour is the linear decay applied to baseRelevance per hour
	// since creation.
	RatePerHour float64
	// MinRelevance is the floor decayed relevance never drops below
	// (before GC eligibility is checked).
	MinRelevance float64
	// RecencyBoostWindow: accesses within this window of "now" add a flat
	// boost, modeling recently-touched nodes staying salient.
	RecencyBoostWindow time.Duration
	RecencyBoostAmount float64
}

// DefaultDecayConfig is a gentle 1%/hour linear decay, 0.05 floor, and a
// flat 0.1 boost for anything accessed in the last hour.
func DefaultDecayConfig() DecayConfig {
	return DecayConfig{
		RatePerHour:        0.01,
		MinRelevance:       0.05,
		RecencyBoostWindow: time.Hour,
		RecencyBoostAmount: 0.1,
	}
}

// Graph is a per-process store of every user's memory graph. Writes are
// serialized per user (spec §4.4); reads (Retrieve) take only a read
// lock and are safe under concurrent readers.
type Graph struct {
	mu sync.RWMutex
	// nodes maps userID -> nodeID -> *Node.
	nodes map[string]map[string]*Node
	// edges maps userID -> edgeKey -> *Edge.
	edges map[string]map[string]*Edge
	// dedup maps userID -> dedupKey -> nodeID.
	dedup map[string]map[string]string

	// cache holds the lazily-computed, mutation-invalidated importance
	// scores per user, per spec §4.4's "computed lazily and cached".
	cache map[string]*importanceCache

	decay    DecayConfig
	sink     EventSink
	logger   core.Logger
	persist  PersistBackend
}

// PersistBackend durably stores DomainEntity nodes beyond process memory.
// A nil PersistBackend means DomainEntity nodes only live as long as the
// process, which is valid for tests and single-shot runs.
type PersistBackend interface {
	Persist(ctx context.Context, n *Node) error
}

// SetPersistBackend wires a durable backend for DomainEntity nodes.
func (g *Graph) SetPersistBackend(p PersistBackend) {
	g.persist = p
}

type importanceCache struct {
	pageRank map[string]float64
	valid    bool
}

// New constructs an empty Graph.
func New(decay DecayConfig, sink EventSink, logger core.Logger) *Graph {
	if sink == nil {
		sink = noopSink{}
	}
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if decay.RatePerHour == 0 && decay.MinRelevance == 0 {
		decay = DefaultDecayConfig()
	}
	return &Graph{
		nodes:  make(map[string]map[string]*Node),
		edges:  make(map[string]map[string]*Edge),
		dedup:  make(map[string]map[string]string),
		cache:  make(map[string]*importanceCache),
		decay:  decay,
		sink:   sink,
		logger: logger,
	}
}

// Store ingests a node, deduplicating on (userID, entityID, entitySystem)
// per spec §4.4: an existing match gets its content deep-merged, arrays
// unioned, accessCount bumped and lastAccessedAt stamped; otherwise the
// node is inserted fresh. Returns the resulting node's ID.
func (g *Graph) Store(node *Node) (string, error) {
	if node.CreatedAt.IsZero() {
		node.CreatedAt = time.Now().UTC()
	}
	node.LastAccessedAt = node.CreatedAt

	g.mu.Lock()
	defer g.mu.Unlock()

	g.ensureUser(node.UserID)

	if key := node.dedupKey(); key != "" {
		if existingID, ok := g.dedup[node.UserID][key]; ok {
			existing := g.nodes[node.UserID][existingID]
			mergeContent(existing.Content, node.Content)
			existing.Tags = unionStrings(existing.Tags, node.Tags)
			existing.AccessCount++
			existing.LastAccessedAt = time.Now().UTC()
			g.invalidateCache(node.UserID)
			g.persistIfDomainEntity(existing)
			return existingID, nil
		}
	}

	if node.ID == "" {
		node.ID = newNodeID()
	}
	node.AccessCount = 1
	g.nodes[node.UserID][node.ID] = node
	if key := node.dedupKey(); key != "" {
		g.dedup[node.UserID][key] = node.ID
	}
	g.invalidateCache(node.UserID)

	g.sink.Emit(node.ThreadID, "NodeAdded", map[string]interface{}{
		"node_id": node.ID,
		"user_id": node.UserID,
		"kind":    string(node.Kind),
		"content": node.Content,
		"summary": node.Summary,
		"tags":    node.Tags,
	})
	g.persistIfDomainEntity(node)
	return node.ID, nil
}

// persistIfDomainEntity writes through to the durable backend for
// DomainEntity nodes, per spec §4.4's cross-thread persistence guarantee.
// Best-effort: a persistence failure is logged, not returned, since the
// in-memory graph is already the source of truth for the caller's thread.
func (g *Graph) persistIfDomainEntity(n *Node) {
	if g.persist == nil || n.Kind != KindDomainEntity {
		return
	}
	if err := g.persist.Persist(context.Background(), n); err != nil {
		g.logger.Warn("failed to persist domain entity", map[string]interface{}{"node_id": n.ID, "error": err.Error()})
	}
}

// Relate creates or strengthens a typed edge between two existing nodes.
// Fails with core.ErrUnknownNode if either side is absent. Idempotent per
// (from, to, type): a repeat call increases strength by a damped rule
// (halves the remaining distance to 1.0) rather than simply adding,
// keeping strength bounded in [0,1]. A newly created edge is reported to
// the EventSink as "EdgeAdded".
func (g *Graph) Relate(userID, from, to string, edgeType EdgeType, strength float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	users := g.nodes[userID]
	if users == nil {
		return core.NewError("memory.relate", core.KindInvalidRequest, core.ErrUnknownNode)
	}
	if _, ok := users[from]; !ok {
		return core.NewError("memory.relate", core.KindInvalidRequest, core.ErrUnknownNode)
	}
	if _, ok := users[to]; !ok {
		return core.NewError("memory.relate", core.KindInvalidRequest, core.ErrUnknownNode)
	}

	g.ensureUser(userID)
	key := edgeKey(from, to, edgeType)
	if existing, ok := g.edges[userID][key]; ok {
		existing.Strength = existing.Strength + (1.0-existing.Strength)*dampingFactor
		if existing.Strength > 1.0 {
			existing.Strength = 1.0
		}
	} else {
		g.edges[userID][key] = &Edge{From: from, To: to, Type: edgeType, Strength: clamp01(strength)}
		g.sink.Emit(users[to].ThreadID, "EdgeAdded", map[string]interface{}{
			"user_id":  userID,
			"from":     from,
			"to":       to,
			"type":     string(edgeType),
			"strength": clamp01(strength),
		})
	}
	g.invalidateCache(userID)
	return nil
}

const dampingFactor = 0.5

func (g *Graph) ensureUser(userID string) {
	if g.nodes[userID] == nil {
		g.nodes[userID] = make(map[string]*Node)
	}
	if g.edges[userID] == nil {
		g.edges[userID] = make(map[string]*Edge)
	}
	if g.dedup[userID] == nil {
		g.dedup[userID] = make(map[string]string)
	}
}

func (g *Graph) invalidateCache(userID string) {
	delete(g.cache, userID)
}

// Node returns a copy of a node by ID, for inspection/testing.
func (g *Graph) Node(userID, nodeID string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[userID][nodeID]
	if !ok {
		return nil, false
	}
	cp := *n
	return &cp, true
}

// HasEdge reports whether a typed edge from->to exists for userID, for
// inspection/testing.
func (g *Graph) HasEdge(userID, from, to string, edgeType EdgeType) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.edges[userID][edgeKey(from, to, edgeType)]
	return ok
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// mergeContent deep-merges src into dst: nested maps merge recursively,
// slices are unioned by value equality (via fmt.Sprint), scalars are
// overwritten by src.
func mergeContent(dst, src map[string]interface{}) {
	for k, v := range src {
		existing, ok := dst[k]
		if !ok {
			dst[k] = v
			continue
		}
		switch sv := v.(type) {
		case map[string]interface{}:
			if ev, ok := existing.(map[string]interface{}); ok {
				mergeContent(ev, sv)
				continue
			}
			dst[k] = sv
		case []interface{}:
			if ev, ok := existing.([]interface{}); ok {
				dst[k] = unionInterfaceSlices(ev, sv)
				continue
			}
			dst[k] = sv
		default:
			dst[k] = sv
		}
	}
}

func unionInterfaceSlices(a, b []interface{}) []interface{} {
	seen := make(map[string]struct{}, len(a))
	out := make([]interface{}, 0, len(a)+len(b))
	for _, v := range a {
		out = append(out, v)
		seen[stringify(v)] = struct{}{}
	}
	for _, v := range b {
		k := stringify(v)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	return out
}

func stringify(v interface{}) string {
	return fmt.Sprintf("%v", v)
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]struct{}, len(a))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	for _, s := range b {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
