package entity

import (
	"fmt"

	"github.com/garyjia/bordereau-engine/internal/domain/workflow"
)

// Agent is a member of staff able to own work items
type Agent struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Role      workflow.Role `json:"role"`
	TeamID    string        `json:"team_id,omitempty"`
	Capacity  int           `json:"capacity"`
	Active    bool          `json:"active"`
	ContactID string        `json:"contact_id,omitempty"`
}

// OverflowPolicy decides what routing does when a preferred team is full
type OverflowPolicy string

const (
	OverflowRoundRobin OverflowPolicy = "ROUND_ROBIN"
	OverflowLowestLoad OverflowPolicy = "LOWEST_LOAD"
	OverflowBlock      OverflowPolicy = "BLOCK"
	OverflowEscalate   OverflowPolicy = "ESCALATE"
)

// ParseOverflowPolicy validates a policy label; empty means LOWEST_LOAD
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch p := OverflowPolicy(s); p {
	case OverflowRoundRobin, OverflowLowestLoad, OverflowBlock, OverflowEscalate:
		return p, nil
	case "":
		return OverflowLowestLoad, nil
	default:
		return "", fmt.Errorf("unknown overflow policy %q", s)
	}
}

// Team is a group of agents led by a team lead
type Team struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	LeaderID       string         `json:"leader_id"`
	MaxLoad        int            `json:"max_load"`
	OverflowPolicy OverflowPolicy `json:"overflow_policy"`
	AlertThreshold float64        `json:"alert_threshold"`
	Alternates     []string       `json:"alternates,omitempty"`
	RRCursor       int            `json:"rr_cursor"`
}

// Client is an insurer customer whose bordereaux are processed
type Client struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	AccountManagerID string `json:"account_manager_id,omitempty"`
	SLADays          int    `json:"sla_days"`
}

// Contract overrides the client SLA when active
type Contract struct {
	ID       string `json:"id"`
	ClientID string `json:"client_id"`
	SLADays  int    `json:"sla_days"`
	Active   bool   `json:"active"`
}
