package entity

import (
	"fmt"
	"time"

	"github.com/garyjia/bordereau-engine/internal/domain/workflow"
)

// TransitionRecord is one entry of the append-only audit trail of a work item
type TransitionRecord struct {
	ID         string          `json:"id"`
	WorkItemID string          `json:"work_item_id"`
	FromStatus workflow.Status `json:"from_status,omitempty"`
	ToStatus   workflow.Status `json:"to_status"`
	ActorID    string          `json:"actor_id"`
	ActorRole  workflow.Role   `json:"actor_role"`
	Timestamp  time.Time       `json:"timestamp"`
	Reason     string          `json:"reason,omitempty"`
	// AgentID and TeamID are the owner after the transition
	AgentID string `json:"agent_id,omitempty"`
	TeamID  string `json:"team_id,omitempty"`
	// PrevAgentID is the agent that held the item before the transition
	PrevAgentID string `json:"prev_agent_id,omitempty"`
	Override    bool   `json:"override,omitempty"`
}

// ReplayState is the lifecycle state rebuilt from history
type ReplayState struct {
	Status  workflow.Status
	AgentID string
	TeamID  string
}

// Replay folds records (ordered by timestamp) into the resulting status and owner.
// The chain must be contiguous: each record starts where the previous one ended.
func Replay(records []*TransitionRecord) (ReplayState, error) {
	var st ReplayState
	for i, r := range records {
		if i == 0 {
			if r.FromStatus != "" {
				return ReplayState{}, fmt.Errorf("history does not start with creation record (from %s)", r.FromStatus)
			}
		} else if r.FromStatus != st.Status {
			return ReplayState{}, fmt.Errorf("history gap at record %d: from %s, expected %s", i, r.FromStatus, st.Status)
		}
		st = ReplayState{Status: r.ToStatus, AgentID: r.AgentID, TeamID: r.TeamID}
	}
	return st, nil
}

// StageDurations sums the time spent in each status up to now
func StageDurations(records []*TransitionRecord, now time.Time) map[workflow.Status]time.Duration {
	out := make(map[workflow.Status]time.Duration)
	for i, r := range records {
		end := now
		if i+1 < len(records) {
			end = records[i+1].Timestamp
		}
		if r.ToStatus.IsTerminal() {
			continue
		}
		if d := end.Sub(r.Timestamp); d > 0 {
			out[r.ToStatus] += d
		}
	}
	return out
}
