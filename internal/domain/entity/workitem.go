package entity

import (
	"time"

	"github.com/garyjia/bordereau-engine/internal/domain/workflow"
)

// WorkItem is one bordereau travelling through the stage graph
type WorkItem struct {
	ID              string          `json:"id"`
	Reference       string          `json:"reference"`
	ClientID        string          `json:"client_id"`
	ContractID      string          `json:"contract_id,omitempty"`
	ReceivedAt      time.Time       `json:"received_at"`
	SLADurationDays int             `json:"sla_duration_days"`
	Status          workflow.Status `json:"status"`
	AssignedAgentID string          `json:"assigned_agent_id,omitempty"`
	TeamID          string          `json:"team_id,omitempty"`
	ClosedAt        *time.Time      `json:"closed_at,omitempty"`
	UnitCount       int             `json:"unit_count"`
	StatusChangedAt time.Time       `json:"status_changed_at"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Ownership describes who currently holds an item
type Ownership string

const (
	OwnershipNone  Ownership = "UNASSIGNED"
	OwnershipTeam  Ownership = "TEAM"
	OwnershipAgent Ownership = "AGENT"
)

// Ownership returns exactly one of unassigned, team-owned or agent-owned
func (w *WorkItem) Ownership() Ownership {
	switch {
	case w.AssignedAgentID != "":
		return OwnershipAgent
	case w.TeamID != "":
		return OwnershipTeam
	default:
		return OwnershipNone
	}
}

// OwnerID returns the agent id or team id currently holding the item
func (w *WorkItem) OwnerID() string {
	if w.AssignedAgentID != "" {
		return w.AssignedAgentID
	}
	return w.TeamID
}

// Clone returns a copy safe to mutate
func (w *WorkItem) Clone() *WorkItem {
	c := *w
	if w.ClosedAt != nil {
		t := *w.ClosedAt
		c.ClosedAt = &t
	}
	return &c
}
