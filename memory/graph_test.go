package memory

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windrose/conductor/core"
)

func TestGraph_StoreDedupMergesContent(t *testing.T) {
	g := New(DefaultDecayConfig(), nil, nil)

	id1, err := g.Store(&Node{
		UserID:       "u1",
		Kind:         KindDomainEntity,
		EntityID:     "001bm00000SA8pSAAT",
		EntitySystem: "sf",
		Content:      map[string]interface{}{"Name": "GenePoint"},
		Tags:         []string{"account"},
	})
	require.NoError(t, err)

	id2, err := g.Store(&Node{
		UserID:       "u1",
		Kind:         KindDomainEntity,
		EntityID:     "001bm00000SA8pSAAT",
		EntitySystem: "sf",
		Content:      map[string]interface{}{"Industry": "Biotech"},
		Tags:         []string{"crm"},
	})
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "repeated store with the same dedup key must merge into the existing node")

	node, ok := g.Node("u1", id1)
	require.True(t, ok)
	assert.Equal(t, "GenePoint", node.Content["Name"])
	assert.Equal(t, "Biotech", node.Content["Industry"])
	assert.Equal(t, 2, node.AccessCount)
	assert.ElementsMatch(t, []string{"account", "crm"}, node.Tags)
}

func TestGraph_RelateUnknownNodeFails(t *testing.T) {
	g := New(DefaultDecayConfig(), nil, nil)
	id, err := g.Store(&Node{UserID: "u1", Kind: KindToolOutput, Content: map[string]interface{}{}})
	require.NoError(t, err)

	err = g.Relate("u1", id, "does-not-exist", EdgeLedTo, 1.0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrUnknownNode))
}

func TestGraph_RelateIdempotentDamping(t *testing.T) {
	g := New(DefaultDecayConfig(), nil, nil)
	a, _ := g.Store(&Node{UserID: "u1", Kind: KindToolOutput, Content: map[string]interface{}{}})
	b, _ := g.Store(&Node{UserID: "u1", Kind: KindToolOutput, Content: map[string]interface{}{}})

	require.NoError(t, g.Relate("u1", a, b, EdgeLedTo, 0.5))
	require.NoError(t, g.Relate("u1", a, b, EdgeLedTo, 0.5))

	// second call dampens toward 1.0 rather than summing past it
	assert.Less(t, g.edges["u1"][edgeKey(a, b, EdgeLedTo)].Strength, 1.0)
	assert.Greater(t, g.edges["u1"][edgeKey(a, b, EdgeLedTo)].Strength, 0.5)
}

func TestGraph_RetrieveRanksByScoreAndBreaksTiesByCreatedAt(t *testing.T) {
	// No decay and a recency window covering both nodes, so their scores tie.
	cfg := DefaultDecayConfig()
	cfg.RatePerHour = 0
	cfg.RecencyBoostWindow = 3 * time.Hour
	g := New(cfg, nil, nil)
	older, _ := g.Store(&Node{
		UserID: "u1", Kind: KindConversationFact, Tags: []string{"weather"},
		BaseRelevance: 0.5, CreatedAt: time.Now().Add(-2 * time.Hour),
	})
	newer, _ := g.Store(&Node{
		UserID: "u1", Kind: KindConversationFact, Tags: []string{"weather"},
		BaseRelevance: 0.5, CreatedAt: time.Now(),
	})

	results := g.Retrieve("u1", Query{Tags: []string{"weather"}}, Filter{}, 0, 0, 10, nil)
	require.Len(t, results, 2)
	assert.Equal(t, newer, results[0].Node.ID, "ties on score should be broken by createdAt desc")
	assert.Equal(t, older, results[1].Node.ID)
}

func TestGraph_RetrieveExcludesBelowMinRelevance(t *testing.T) {
	cfg := DefaultDecayConfig()
	cfg.MinRelevance = 0.05
	g := New(cfg, nil, nil)
	g.Store(&Node{
		UserID: "u1", Kind: KindTemporaryState, Tags: []string{"x"},
		BaseRelevance: 0.05, CreatedAt: time.Now().Add(-100 * time.Hour),
		LastAccessedAt: time.Now().Add(-100 * time.Hour),
	})

	results := g.Retrieve("u1", Query{Tags: []string{"x"}}, Filter{}, 0, 0.5, 10, nil)
	assert.Empty(t, results, "nodes below minRelevance must be excluded")
}

func TestGraph_GCRemovesDecayedNonDomainEntity(t *testing.T) {
	cfg := DefaultDecayConfig()
	cfg.RatePerHour = 1.0
	cfg.MinRelevance = 0.01
	cfg.RecencyBoostWindow = time.Millisecond
	g := New(cfg, nil, nil)

	stale, _ := g.Store(&Node{
		UserID: "u1", Kind: KindTemporaryState,
		BaseRelevance: 0.1, CreatedAt: time.Now().Add(-10 * time.Hour),
	})
	// Force LastAccessedAt far enough in the past for the recency boost to expire.
	node, _ := g.Node("u1", stale)
	g.nodes["u1"][stale].LastAccessedAt = node.CreatedAt

	domainEntity, _ := g.Store(&Node{
		UserID: "u1", Kind: KindDomainEntity, EntityID: "e1", EntitySystem: "sf",
		BaseRelevance: 0.1, CreatedAt: time.Now().Add(-10 * time.Hour),
	})
	g.nodes["u1"][domainEntity].LastAccessedAt = g.nodes["u1"][domainEntity].CreatedAt

	removed := g.GC("u1")
	assert.Equal(t, 1, removed)

	_, staleExists := g.Node("u1", stale)
	assert.False(t, staleExists)

	_, domainStillExists := g.Node("u1", domainEntity)
	assert.True(t, domainStillExists, "DomainEntity nodes must never auto-expire")
}

func TestGraph_PageRankHigherForMoreReferencedNode(t *testing.T) {
	g := New(DefaultDecayConfig(), nil, nil)
	hub, _ := g.Store(&Node{UserID: "u1", Kind: KindToolOutput})
	leaf1, _ := g.Store(&Node{UserID: "u1", Kind: KindToolOutput})
	leaf2, _ := g.Store(&Node{UserID: "u1", Kind: KindToolOutput})
	leaf3, _ := g.Store(&Node{UserID: "u1", Kind: KindToolOutput})

	require.NoError(t, g.Relate("u1", leaf1, hub, EdgeRelatesTo, 1.0))
	require.NoError(t, g.Relate("u1", leaf2, hub, EdgeRelatesTo, 1.0))
	require.NoError(t, g.Relate("u1", leaf3, hub, EdgeRelatesTo, 1.0))

	g.mu.RLock()
	ranks := g.pageRankLocked("u1")
	g.mu.RUnlock()

	assert.Greater(t, ranks[hub], ranks[leaf1], "a node referenced by three others should rank higher")
}
