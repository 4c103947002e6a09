package registry

import (
	"context"
	"sync"
	"time"

	"github.com/windrose/conductor/core"
)

// Catalog is the in-memory Agent Registry: a thread-safe cache of Agent
// Cards plus a capability index for O(1) lookup, following the shape of
// gomind/orchestration/catalog.go's AgentCatalog (agents map +
// capabilityIndex map, sync.RWMutex guarding both).
type Catalog struct {
	mu              sync.RWMutex
	agents          map[string]*AgentEntry   // name -> entry
	capabilityIndex map[string][]string      // capability -> []name

	backend Backend
	logger  core.Logger
	tel     core.Telemetry
}

// Backend optionally persists the registry beyond process memory (Redis).
// A nil Backend means memory-only, which is a valid configuration for
// single-process deployments.
type Backend interface {
	SaveCard(ctx context.Context, card AgentCard) error
	LoadAll(ctx context.Context) ([]AgentCard, error)
}

// New creates an empty Catalog.
func New(backend Backend, logger core.Logger, tel core.Telemetry) *Catalog {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if tel == nil {
		tel = core.NoOpTelemetry{}
	}
	return &Catalog{
		agents:          make(map[string]*AgentEntry),
		capabilityIndex: make(map[string][]string),
		backend:         backend,
		logger:          logger,
		tel:             tel,
	}
}

// Register adds or replaces an Agent Card and rebuilds its capability
// index entries. Registration happens at boot or on first contact, per
// spec §3.
func (c *Catalog) Register(ctx context.Context, card AgentCard) error {
	c.mu.Lock()
	now := time.Now()
	c.agents[card.Name] = &AgentEntry{Card: card, Status: StatusOnline, LastSeen: now, LastChecked: now}
	c.rebuildIndexLocked()
	c.mu.Unlock()

	c.logger.Info("agent registered", map[string]interface{}{"agent": card.Name, "endpoint": card.Endpoint})

	if c.backend != nil {
		if err := c.backend.SaveCard(ctx, card); err != nil {
			c.logger.Warn("failed to persist agent card", map[string]interface{}{"agent": card.Name, "error": err.Error()})
			return err
		}
	}
	return nil
}

// rebuildIndexLocked must be called with mu held for writing.
func (c *Catalog) rebuildIndexLocked() {
	idx := make(map[string][]string)
	for name, entry := range c.agents {
		for _, cap := range entry.Card.Capabilities {
			idx[cap] = append(idx[cap], name)
		}
	}
	c.capabilityIndex = idx
}

// LoadFromBackend seeds the catalog from the persistence backend, if any.
func (c *Catalog) LoadFromBackend(ctx context.Context) error {
	if c.backend == nil {
		return nil
	}
	cards, err := c.backend.LoadAll(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for _, card := range cards {
		c.agents[card.Name] = &AgentEntry{Card: card, Status: StatusOnline, LastSeen: now, LastChecked: now}
	}
	c.rebuildIndexLocked()
	return nil
}

// LookupCapability returns the online agents advertising capability.
// Returns an empty slice (never an error) when nothing matches — per
// spec §4.3, "unknown capability is a normal error" the caller decides
// how to handle, not a registry failure.
func (c *Catalog) LookupCapability(capability string) []AgentCard {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := c.capabilityIndex[capability]
	out := make([]AgentCard, 0, len(names))
	for _, name := range names {
		if entry, ok := c.agents[name]; ok && entry.Status == StatusOnline {
			out = append(out, entry.Card)
		}
	}
	return out
}

// Capabilities lists every capability currently advertised by at least one
// online agent, satisfying engine.CapabilitySource for Planner prompts.
func (c *Catalog) Capabilities() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.capabilityIndex))
	for cap, names := range c.capabilityIndex {
		for _, name := range names {
			if entry, ok := c.agents[name]; ok && entry.Status == StatusOnline {
				out = append(out, cap)
				break
			}
		}
	}
	return out
}

// AgentNames lists every known agent name (online or offline), satisfying
// engine.CapabilitySource's hallucinated-agent guard: a plan step may
// hint at an agent currently offline (it might come back by execution
// time), but never one this registry has no record of at all.
func (c *Catalog) AgentNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.agents))
	for name := range c.agents {
		out = append(out, name)
	}
	return out
}

// Get returns the current entry for an agent by name.
func (c *Catalog) Get(name string) (AgentEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.agents[name]
	if !ok {
		return AgentEntry{}, false
	}
	return *entry, true
}

// All returns a snapshot of every known agent, regardless of status.
func (c *Catalog) All() []AgentEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]AgentEntry, 0, len(c.agents))
	for _, entry := range c.agents {
		out = append(out, *entry)
	}
	return out
}

// MarkStatus updates an agent's health status after a poll, per spec §4.3:
// a failed poll marks the agent offline but keeps its last-known card.
func (c *Catalog) MarkStatus(name string, status Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.agents[name]
	if !ok {
		return
	}
	entry.Status = status
	entry.LastChecked = time.Now()
	if status == StatusOnline {
		entry.LastSeen = entry.LastChecked
	}
}
