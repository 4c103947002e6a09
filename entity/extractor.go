package entity

import "fmt"

// Candidate is an extracted DomainEntity awaiting hand-off to the memory
// graph (C4). The extractor never writes to the graph directly; the
// engine is responsible for calling memory.Graph.Store with the fields
// below, per spec §4.5's "produces a candidate ... node" wording.
type Candidate struct {
	EntityID     string
	EntitySystem string
	EntityType   string
	Value        string // the whole string leaf the rule matched, for content/summary use
	Path         string // JSON path the match was found at, for debugging
	Confidence   float64
}

// Extractor applies a rule set to arbitrary JSON payloads.
type Extractor struct {
	rules []Rule
}

// New builds an Extractor over a compiled rule set.
func New(rules []Rule) *Extractor {
	return &Extractor{rules: rules}
}

// Extract walks payload (the result of json.Unmarshal into interface{})
// and applies every rule to every string leaf, per spec §4.5, returning
// candidates deduplicated by (entityID, entitySystem).
func (e *Extractor) Extract(payload interface{}) []Candidate {
	var found []Candidate
	walkJSON(payload, "$", func(path, leaf string) {
		for _, rule := range e.rules {
			m := rule.compiled.FindStringSubmatch(leaf)
			if m == nil {
				continue
			}
			found = append(found, Candidate{
				EntityID:     m[1],
				EntitySystem: rule.EntitySystem,
				EntityType:   rule.EntityType,
				Value:        leaf,
				Path:         path,
				Confidence:   rule.Confidence,
			})
		}
	})
	return dedup(found)
}

// walkJSON visits every string leaf of an arbitrary decoded-JSON value,
// calling visit(path, leaf) for each.
func walkJSON(v interface{}, path string, visit func(path, leaf string)) {
	switch t := v.(type) {
	case string:
		visit(path, t)
	case map[string]interface{}:
		for k, val := range t {
			walkJSON(val, path+"."+k, visit)
		}
	case []interface{}:
		for i, val := range t {
			walkJSON(val, fmt.Sprintf("%s[%d]", path, i), visit)
		}
	}
}

func dedup(candidates []Candidate) []Candidate {
	seen := make(map[string]struct{}, len(candidates))
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		key := c.EntitySystem + "\x00" + c.EntityID
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}
