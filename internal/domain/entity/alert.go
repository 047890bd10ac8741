package entity

import "time"

// AlertKind identifies a deduplicated alert condition
type AlertKind string

const (
	AlertAgentOverload AlertKind = "AGENT_OVERLOAD"
	AlertTeamOverload  AlertKind = "TEAM_OVERLOAD"
	AlertSLABreach     AlertKind = "SLA_BREACH"
	AlertRoutingBlock  AlertKind = "ROUTING_BLOCK"
)

// AlertKinds lists every alert kind
var AlertKinds = []AlertKind{AlertAgentOverload, AlertTeamOverload, AlertSLABreach, AlertRoutingBlock}

// IsValid checks if the alert kind is known
func (k AlertKind) IsValid() bool {
	for _, known := range AlertKinds {
		if k == known {
			return true
		}
	}
	return false
}

// AlertState remembers when a condition was last alerted
type AlertState struct {
	Kind          AlertKind `json:"kind"`
	SubjectID     string    `json:"subject_id"`
	LastAlertedAt time.Time `json:"last_alerted_at"`
	Active        bool      `json:"active"`
	Version       int64     `json:"version"`
}
