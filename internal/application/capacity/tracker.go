// Package capacity computes live agent and team load from the work item store.
package capacity

import (
	"context"
	"fmt"

	"github.com/garyjia/bordereau-engine/internal/application/port"
	"github.com/garyjia/bordereau-engine/internal/domain/workflow"
)

// OwnerKind distinguishes agent and team capacity
type OwnerKind string

const (
	OwnerAgent OwnerKind = "AGENT"
	OwnerTeam  OwnerKind = "TEAM"
)

// Owner identifies whose load is measured. Capacity is the configured cap.
type Owner struct {
	Kind     OwnerKind
	ID       string
	Capacity int
}

// Load is a snapshot of an owner's load
type Load struct {
	OwnerID     string    `json:"owner_id"`
	Kind        OwnerKind `json:"kind"`
	Current     int       `json:"current"`
	Capacity    int       `json:"capacity"`
	Utilization float64   `json:"utilization"`
}

// Tracker answers load questions with COUNT queries. Called with a
// transactional context, the counts see the caller's uncommitted writes.
type Tracker struct {
	items port.WorkItemStore
}

// NewTracker creates a capacity tracker
func NewTracker(items port.WorkItemStore) *Tracker {
	return &Tracker{items: items}
}

// CurrentLoad counts the items held by owner
func (t *Tracker) CurrentLoad(ctx context.Context, owner Owner) (int, error) {
	switch owner.Kind {
	case OwnerAgent:
		return t.items.CountByAgent(ctx, owner.ID, workflow.AgentLoadStatuses)
	case OwnerTeam:
		return t.items.CountByTeam(ctx, owner.ID, workflow.TeamLoadStatuses)
	default:
		return 0, fmt.Errorf("unknown owner kind %q", owner.Kind)
	}
}

// HasCapacity reports whether owner can take extra more items
func (t *Tracker) HasCapacity(ctx context.Context, owner Owner, extra int) (bool, error) {
	load, err := t.CurrentLoad(ctx, owner)
	if err != nil {
		return false, err
	}
	return load+extra <= owner.Capacity, nil
}

// Snapshot returns load and utilization of owner
func (t *Tracker) Snapshot(ctx context.Context, owner Owner) (Load, error) {
	load, err := t.CurrentLoad(ctx, owner)
	if err != nil {
		return Load{}, err
	}
	return Load{
		OwnerID:     owner.ID,
		Kind:        owner.Kind,
		Current:     load,
		Capacity:    owner.Capacity,
		Utilization: Utilization(load, owner.Capacity),
	}, nil
}

// Utilization is load as a percentage of capacity. A non-positive
// capacity counts as fully used.
func Utilization(load, capacity int) float64 {
	if capacity <= 0 {
		return 100
	}
	return float64(load) / float64(capacity) * 100
}
