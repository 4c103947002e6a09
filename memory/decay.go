package memory

import (
	"sync"
	"time"
)

// importanceCacheMu serializes reads and writes of Graph.cache made by
// pageRankLocked, which several readers can reach at once under g.mu's
// read lock.
var importanceCacheMu sync.Mutex

// pageRankLocked computes PageRank over a user's subgraph and caches it,
// invalidated on any mutation (Store/Relate), per spec §4.4 "computed
// lazily and cached". Caller must hold at least g.mu.RLock.
//
// Graph algorithms have no analogue in the retrieved example pack (see
// DESIGN.md's stdlib justification); this is a direct, textbook power
// iteration over the node/edge maps rather than a graph library.
func (g *Graph) pageRankLocked(userID string) map[string]float64 {
	importanceCacheMu.Lock()
	defer importanceCacheMu.Unlock()
	if c, ok := g.cache[userID]; ok && c.valid {
		return c.pageRank
	}

	nodes := g.nodes[userID]
	edges := g.edges[userID]
	result := computePageRank(nodes, edges)

	// Concurrent readers are serialized by importanceCacheMu; invalidation
	// (delete) runs under g.mu's write lock, so it never overlaps this.
	g.cache[userID] = &importanceCache{pageRank: result, valid: true}
	return result
}

const (
	pageRankDamping    = 0.85
	pageRankIterations = 20
)

func computePageRank(nodes map[string]*Node, edges map[string]*Edge) map[string]float64 {
	n := len(nodes)
	scores := make(map[string]float64, n)
	if n == 0 {
		return scores
	}
	for id := range nodes {
		scores[id] = 1.0 / float64(n)
	}

	outDegree := make(map[string]float64, n)
	adjacency := make(map[string][]string, n)
	for _, e := range edges {
		if _, ok := nodes[e.From]; !ok {
			continue
		}
		if _, ok := nodes[e.To]; !ok {
			continue
		}
		outDegree[e.From] += e.Strength
		adjacency[e.To] = append(adjacency[e.To], e.From)
	}

	for iter := 0; iter < pageRankIterations; iter++ {
		next := make(map[string]float64, n)
		base := (1 - pageRankDamping) / float64(n)
		for id := range nodes {
			next[id] = base
		}
		for id := range nodes {
			for _, from := range adjacency[id] {
				if outDegree[from] == 0 {
					continue
				}
				// weight the contribution by this edge's share of from's
				// total outgoing strength
				next[id] += pageRankDamping * scores[from] * (edgeWeight(edges, from, id) / outDegree[from])
			}
		}
		scores = next
	}
	return scores
}

func edgeWeight(edges map[string]*Edge, from, to string) float64 {
	var total float64
	for _, e := range edges {
		if e.From == from && e.To == to {
			total += e.Strength
		}
	}
	return total
}

// Cluster is a Louvain-style community of node IDs, used to describe
// topic sets in planning prompts (spec §4.4) — not used for retrieval.
type Cluster struct {
	Nodes []string
}

// Clusters computes a single-pass greedy modularity clustering over the
// undirected projection of a user's graph: a lightweight approximation of
// Louvain's first phase (iteratively move each node into the neighboring
// community that most increases modularity, no multi-level coarsening).
func (g *Graph) Clusters(userID string) []Cluster {
	g.mu.RLock()
	defer g.mu.RUnlock()

	nodes := g.nodes[userID]
	edges := g.edges[userID]
	if len(nodes) == 0 {
		return nil
	}

	neighbors, weights, totalWeight := undirectedProjection(nodes, edges)
	community := make(map[string]int, len(nodes))
	i := 0
	for id := range nodes {
		community[id] = i
		i++
	}

	if totalWeight > 0 {
		improved := true
		for pass := 0; pass < 10 && improved; pass++ {
			improved = false
			for id := range nodes {
				best := community[id]
				bestGain := 0.0
				current := community[id]
				tried := map[int]bool{current: true}
				for _, nb := range neighbors[id] {
					c := community[nb]
					if tried[c] {
						continue
					}
					tried[c] = true
					gain := modularityGain(id, c, community, neighbors, weights, totalWeight)
					if gain > bestGain {
						bestGain = gain
						best = c
					}
				}
				if best != current {
					community[id] = best
					improved = true
				}
			}
		}
	}

	grouped := make(map[int][]string)
	for id, c := range community {
		grouped[c] = append(grouped[c], id)
	}
	clusters := make([]Cluster, 0, len(grouped))
	for _, ids := range grouped {
		clusters = append(clusters, Cluster{Nodes: ids})
	}
	return clusters
}

func undirectedProjection(nodes map[string]*Node, edges map[string]*Edge) (map[string][]string, map[string]float64, float64) {
	neighbors := make(map[string][]string)
	weights := make(map[string]float64)
	var total float64
	for _, e := range edges {
		if _, ok := nodes[e.From]; !ok {
			continue
		}
		if _, ok := nodes[e.To]; !ok {
			continue
		}
		neighbors[e.From] = append(neighbors[e.From], e.To)
		neighbors[e.To] = append(neighbors[e.To], e.From)
		weights[edgeKey(e.From, e.To, e.Type)] += e.Strength
		weights[edgeKey(e.To, e.From, e.Type)] += e.Strength
		total += e.Strength
	}
	return neighbors, weights, total
}

func modularityGain(id string, targetCommunity int, community map[string]int, neighbors map[string][]string, weights map[string]float64, totalWeight float64) float64 {
	var internalWeight float64
	for _, nb := range neighbors[id] {
		if community[nb] == targetCommunity {
			internalWeight++
		}
	}
	if totalWeight == 0 {
		return 0
	}
	return internalWeight / totalWeight
}

// Bridges returns node IDs with the highest betweenness centrality — the
// "connecting concepts" spec §4.4 exposes to prompts. Computed via
// Brandes' algorithm over the undirected, unweighted projection.
func (g *Graph) Bridges(userID string, top int) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	nodes := g.nodes[userID]
	edges := g.edges[userID]
	if len(nodes) == 0 {
		return nil
	}
	neighbors, _, _ := undirectedProjection(nodes, edges)
	betweenness := brandesBetweenness(nodes, neighbors)

	type scored struct {
		id    string
		value float64
	}
	all := make([]scored, 0, len(betweenness))
	for id, v := range betweenness {
		all = append(all, scored{id, v})
	}
	sortScoredDesc(all)
	if top <= 0 || top > len(all) {
		top = len(all)
	}
	out := make([]string, 0, top)
	for _, s := range all[:top] {
		out = append(out, s.id)
	}
	return out
}

func sortScoredDesc(s []struct {
	id    string
	value float64
}) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j].value > s[j-1].value; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// brandesBetweenness computes unweighted betweenness centrality for every
// node via BFS shortest paths from each source, the standard algorithm
// for graphs of this scale.
func brandesBetweenness(nodes map[string]*Node, neighbors map[string][]string) map[string]float64 {
	centrality := make(map[string]float64, len(nodes))
	for id := range nodes {
		centrality[id] = 0
	}

	for s := range nodes {
		stack := []string{}
		pred := make(map[string][]string)
		sigma := make(map[string]float64)
		dist := make(map[string]int)
		for id := range nodes {
			sigma[id] = 0
			dist[id] = -1
		}
		sigma[s] = 1
		dist[s] = 0
		queue := []string{s}

		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			stack = append(stack, v)
			for _, w := range neighbors[v] {
				if dist[w] < 0 {
					dist[w] = dist[v] + 1
					queue = append(queue, w)
				}
				if dist[w] == dist[v]+1 {
					sigma[w] += sigma[v]
					pred[w] = append(pred[w], v)
				}
			}
		}

		delta := make(map[string]float64)
		for i := len(stack) - 1; i >= 0; i-- {
			w := stack[i]
			for _, v := range pred[w] {
				if sigma[w] != 0 {
					delta[v] += (sigma[v] / sigma[w]) * (1 + delta[w])
				}
			}
			if w != s {
				centrality[w] += delta[w]
			}
		}
	}

	// Undirected graph: each shortest path counted from both endpoints.
	for id := range centrality {
		centrality[id] /= 2
	}
	return centrality
}

// gcEligible reports whether a node's relevance has decayed past the
// floor with no recent access to revive it. decayedRelevance always
// floors at MinRelevance and can be pushed back up by a recency boost,
// so GC eligibility is judged on the pre-floor, pre-boost decline instead
// of the clamped score retrieval uses.
func (g *Graph) gcEligible(n *Node, now time.Time) bool {
	hoursSinceCreate := now.Sub(n.CreatedAt).Hours()
	declined := n.BaseRelevance - hoursSinceCreate*g.decay.RatePerHour
	if declined > g.decay.MinRelevance {
		return false
	}
	return now.Sub(n.LastAccessedAt) > g.decay.RecencyBoostWindow
}

// GC sweeps nodes whose decayed relevance has dropped below the configured
// floor, excluding DomainEntity nodes which never auto-expire, per spec
// §4.4. Returns the number of nodes removed.
func (g *Graph) GC(userID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	nodes := g.nodes[userID]
	if len(nodes) == 0 {
		return 0
	}
	now := time.Now().UTC()
	removed := 0
	for id, n := range nodes {
		if n.Kind == KindDomainEntity {
			continue
		}
		if !g.gcEligible(n, now) {
			continue
		}
		delete(nodes, id)
		if key := n.dedupKey(); key != "" {
			delete(g.dedup[userID], key)
		}
		removed++
	}
	if removed > 0 {
		// Drop edges referencing removed nodes.
		for key, e := range g.edges[userID] {
			if _, ok := nodes[e.From]; !ok {
				delete(g.edges[userID], key)
				continue
			}
			if _, ok := nodes[e.To]; !ok {
				delete(g.edges[userID], key)
			}
		}
		g.invalidateCache(userID)
	}
	return removed
}
