package workflow

import (
	"fmt"
	"sort"
)

// OwnerEffect describes what an edge does to the item's owner fields
type OwnerEffect int

const (
	// EffectKeep leaves owner fields untouched (agent is still cleared when leaving agent-owned states)
	EffectKeep OwnerEffect = iota
	// EffectSetTeam hands the item to a team; requires a team id
	EffectSetTeam
	// EffectSetAgent hands the item to an agent; requires an agent id
	EffectSetAgent
	// EffectClearAgent returns the item to its team
	EffectClearAgent
)

// Edge is one legal (from, to) pair of the table together with its guards
type Edge struct {
	From Status
	To   Status

	// Requires lists the capabilities any one of which authorizes the edge
	Requires Capability

	// OwnerOnly lists capabilities that authorize the edge only for the owning agent
	OwnerOnly Capability

	ReasonRequired bool
	Effect         OwnerEffect
}

// EdgeOption configures an edge
type EdgeOption func(*Edge)

// RequireReason marks the edge as a reject/return edge that needs a reason
func RequireReason() EdgeOption {
	return func(e *Edge) {
		e.ReasonRequired = true
	}
}

// OwnerOnly restricts the given capabilities to the agent owning the item
func OwnerOnly(c Capability) EdgeOption {
	return func(e *Edge) {
		e.OwnerOnly = c
	}
}

// WithEffect sets the owner effect of the edge
func WithEffect(effect OwnerEffect) EdgeOption {
	return func(e *Edge) {
		e.Effect = effect
	}
}

// TableBuilder builds an immutable transition table
type TableBuilder interface {
	// Configure returns the edge configuration for the given source status
	Configure(from Status) StatusConfiguration

	// Build freezes the configured edges into a Table
	Build() *Table
}

// StatusConfiguration configures the outgoing edges of one status
type StatusConfiguration interface {
	// Permit allows moving to the target status for actors holding any of requires
	Permit(to Status, requires Capability, opts ...EdgeOption) StatusConfiguration
}

type statusConfig struct {
	from  Status
	edges map[Status]Edge
}

type tableBuilder struct {
	configurations map[Status]*statusConfig
}

// NewBuilder creates a new table builder
func NewBuilder() TableBuilder {
	return &tableBuilder{
		configurations: make(map[Status]*statusConfig),
	}
}

// Configure returns the configuration for the given status
func (b *tableBuilder) Configure(from Status) StatusConfiguration {
	if !from.IsValid() {
		panic(fmt.Sprintf("invalid state: %s", from))
	}
	if from.IsTerminal() {
		panic(fmt.Sprintf("terminal state cannot have outgoing edges: %s", from))
	}

	cfg, exists := b.configurations[from]
	if !exists {
		cfg = &statusConfig{
			from:  from,
			edges: make(map[Status]Edge),
		}
		b.configurations[from] = cfg
	}
	return cfg
}

// Build copies the configuration so later builder calls cannot alter the table
func (b *tableBuilder) Build() *Table {
	edges := make(map[Status]map[Status]Edge, len(b.configurations))
	for from, cfg := range b.configurations {
		out := make(map[Status]Edge, len(cfg.edges))
		for to, e := range cfg.edges {
			out[to] = e
		}
		edges[from] = out
	}
	return &Table{edges: edges}
}

// Permit adds an edge; configuring the same pair twice replaces it
func (c *statusConfig) Permit(to Status, requires Capability, opts ...EdgeOption) StatusConfiguration {
	if !to.IsValid() {
		panic(fmt.Sprintf("invalid target state: %s", to))
	}
	if requires == 0 {
		panic(fmt.Sprintf("edge %s -> %s requires no capability", c.from, to))
	}

	e := Edge{From: c.from, To: to, Requires: requires}
	for _, opt := range opts {
		opt(&e)
	}
	c.edges[to] = e
	return c
}

// sortedTargets returns the keys of m in lifecycle order
func sortedTargets(m map[Status]Edge) []Status {
	order := make(map[Status]int, len(AllStatuses))
	for i, s := range AllStatuses {
		order[s] = i
	}
	out := make([]Status, 0, len(m))
	for s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return order[out[i]] < order[out[j]] })
	return out
}
