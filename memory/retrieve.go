package memory

import (
	"math"
	"sort"
	"strings"
	"time"
)

// Query selects candidate nodes for retrieval; Tags/Text are matched
// against a node's tags/summary for the tagJaccard term.
type Query struct {
	Tags []string
	Text string
}

// Filter narrows the candidate set before scoring.
type Filter struct {
	Kinds []Kind // empty means all kinds
}

// ScoredNode pairs a node with its retrieval score.
type ScoredNode struct {
	Node  *Node
	Score float64
}

// Retrieve ranks nodes per spec §4.4's weighted formula:
//
//	score = 0.35*tagJaccard + 0.35*embeddingCosine + 0.20*decayedRelevance + 0.10*graphCentrality
//
// When queryEmbedding is nil, the embedding term is omitted and its
// weight redistributed onto the tag term (0.70 tagJaccard total), per
// the spec's explicit fallback. Ties are broken by createdAt descending.
func (g *Graph) Retrieve(userID string, q Query, f Filter, maxAgeHours float64, minRelevance float64, max int, queryEmbedding []float64) []ScoredNode {
	g.mu.RLock()
	defer g.mu.RUnlock()

	nodes := g.nodes[userID]
	if len(nodes) == 0 {
		return nil
	}

	centrality := g.pageRankLocked(userID)
	now := time.Now().UTC()

	tagWeight, embWeight := 0.35, 0.35
	if queryEmbedding == nil {
		tagWeight += embWeight
		embWeight = 0
	}

	allowedKind := func(k Kind) bool {
		if len(f.Kinds) == 0 {
			return true
		}
		for _, want := range f.Kinds {
			if want == k {
				return true
			}
		}
		return false
	}

	var results []ScoredNode
	for _, n := range nodes {
		if !allowedKind(n.Kind) {
			continue
		}
		ageHours := now.Sub(n.CreatedAt).Hours()
		if maxAgeHours > 0 && ageHours > maxAgeHours {
			continue
		}

		decayed := g.decayedRelevance(n, now)
		if decayed < minRelevance {
			continue
		}

		tagScore := jaccard(n.Tags, q.Tags)
		if q.Text != "" {
			tagScore = math.Max(tagScore, textOverlap(n.Summary, q.Text))
		}

		var embScore float64
		if queryEmbedding != nil && len(n.Embedding) > 0 {
			embScore = cosineSimilarity(n.Embedding, queryEmbedding)
		}

		score := tagWeight*tagScore + embWeight*embScore + 0.20*decayed + 0.10*centrality[n.ID]

		results = append(results, ScoredNode{Node: n, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Node.CreatedAt.After(results[j].Node.CreatedAt)
	})

	if max > 0 && len(results) > max {
		results = results[:max]
	}
	return results
}

// decayedRelevance implements spec §4.4's formula:
//
//	max(min_r, baseRelevance - hours_since_create*decay) + recencyBoost(lastAccessed)
func (g *Graph) decayedRelevance(n *Node, now time.Time) float64 {
	hoursSinceCreate := now.Sub(n.CreatedAt).Hours()
	base := n.BaseRelevance - hoursSinceCreate*g.decay.RatePerHour
	if base < g.decay.MinRelevance {
		base = g.decay.MinRelevance
	}
	boost := 0.0
	if now.Sub(n.LastAccessedAt) <= g.decay.RecencyBoostWindow {
		boost = g.decay.RecencyBoostAmount
	}
	return base + boost
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, s := range a {
		setA[strings.ToLower(s)] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, s := range b {
		setB[strings.ToLower(s)] = struct{}{}
	}
	inter := 0
	for s := range setA {
		if _, ok := setB[s]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// textOverlap is a cheap token-overlap proxy used when the query supplies
// free text rather than tags, so a text query still benefits from the
// tagJaccard term.
func textOverlap(summary, text string) float64 {
	return jaccard(strings.Fields(strings.ToLower(summary)), strings.Fields(strings.ToLower(text)))
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
