// Package registry implements the Agent Registry (spec §4.3): it holds
// the current set of Agent Cards, polls agent health, and answers
// capability lookups without ever blocking engine progress. Grounded on
// gomind/orchestration/catalog.go's AgentCatalog (capabilityIndex shape,
// periodic Refresh) and gomind/core/redis_registry.go's Redis-backed
// persistence.
package registry

import "time"

// CommunicationMode is a transport mode an agent supports.
type CommunicationMode string

const (
	ModeSync      CommunicationMode = "sync"
	ModeStreaming CommunicationMode = "streaming"
)

// AgentCard is an immutable description of a remote agent, per spec §3.
type AgentCard struct {
	Name                string              `json:"name" yaml:"name"`
	Version             string              `json:"version" yaml:"version"`
	Endpoint            string              `json:"endpoint" yaml:"endpoint"`
	Capabilities        []string            `json:"capabilities" yaml:"capabilities"`
	CommunicationModes  []CommunicationMode `json:"communication_modes" yaml:"communication_modes"`
}

// Status is an agent's current liveness as seen by this registry.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// AgentEntry pairs an AgentCard with registry-local bookkeeping.
type AgentEntry struct {
	Card        AgentCard
	Status      Status
	LastSeen    time.Time
	LastChecked time.Time
}

// BootstrapFile is the YAML shape for the registry's bootstrap config,
// mirroring the bootstrap-at-boot idiom the teacher uses for static agent
// lists before Redis-backed discovery takes over.
type BootstrapFile struct {
	Agents []AgentCard `yaml:"agents"`
}
