// Package entity implements the data-driven Entity Extractor (spec §4.5):
// pluggable (regex, entityType, entitySystem) rules walk arbitrary JSON
// payloads returned by domain agents and produce candidate DomainEntity
// nodes. Rules are data, loaded from YAML, following the
// yaml:"..."-tagged config convention gomind/orchestration/workflow_engine.go
// uses for its own pluggable WorkflowDefinition.
package entity

import (
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Rule binds a regex to the entity type/system it identifies. The regex
// must contain at least one capture group; the first group's match
// becomes the extracted entity's ID.
type Rule struct {
	Name         string  `yaml:"name"`
	Pattern      string  `yaml:"pattern"`
	EntityType   string  `yaml:"entity_type"`
	EntitySystem string  `yaml:"entity_system"`
	Confidence   float64 `yaml:"confidence"`

	compiled *regexp.Regexp
}

// RuleSet is the YAML document shape for a rule file.
type RuleSet struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads and compiles a rule set from YAML bytes.
func LoadRules(raw []byte) ([]Rule, error) {
	var set RuleSet
	if err := yaml.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("entity: parse rule set: %w", err)
	}
	for i := range set.Rules {
		re, err := regexp.Compile(set.Rules[i].Pattern)
		if err != nil {
			return nil, fmt.Errorf("entity: rule %q: invalid pattern: %w", set.Rules[i].Name, err)
		}
		if re.NumSubexp() < 1 {
			return nil, fmt.Errorf("entity: rule %q: pattern must have one capture group for the entity ID", set.Rules[i].Name)
		}
		if set.Rules[i].Confidence == 0 {
			set.Rules[i].Confidence = 0.8
		}
		set.Rules[i].compiled = re
	}
	return set.Rules, nil
}
