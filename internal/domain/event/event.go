package event

import (
	"time"

	"github.com/google/uuid"
)

// Event represents a domain event emitted by the engine
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	ItemID    string         `json:"item_id,omitempty"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`

	// Recipients are user ids to notify directly
	Recipients []string `json:"recipients,omitempty"`
	// Roles are broadcast targets
	Roles []string `json:"roles,omitempty"`
}

// New creates a domain event stamped with at
func New(eventType Type, itemID string, at time.Time, payload map[string]any) *Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		ItemID:    itemID,
		Payload:   payload,
		Timestamp: at,
	}
}

// To returns a copy addressed to the given users (empty ids are skipped, duplicates removed)
func (e *Event) To(userIDs ...string) *Event {
	c := e.clone()
	c.Recipients = appendUnique(c.Recipients, userIDs...)
	return c
}

// ToRole returns a copy broadcast to the given roles
func (e *Event) ToRole(roles ...string) *Event {
	c := e.clone()
	c.Roles = appendUnique(c.Roles, roles...)
	return c
}

// WithPayload returns a copy with an added payload key-value pair
func (e *Event) WithPayload(key string, value any) *Event {
	c := e.clone()
	c.Payload[key] = value
	return c
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetPayloadInt retrieves an integer value from the payload
func (e *Event) GetPayloadInt(key string) int64 {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case int64:
			return v
		case int:
			return int64(v)
		case float64:
			return int64(v)
		}
	}
	return 0
}

func (e *Event) clone() *Event {
	payload := make(map[string]any, len(e.Payload)+1)
	for k, v := range e.Payload {
		payload[k] = v
	}
	c := *e
	c.Payload = payload
	c.Recipients = append([]string(nil), e.Recipients...)
	c.Roles = append([]string(nil), e.Roles...)
	return &c
}

func appendUnique(dst []string, values ...string) []string {
	seen := make(map[string]bool, len(dst))
	for _, v := range dst {
		seen[v] = true
	}
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		dst = append(dst, v)
	}
	return dst
}
