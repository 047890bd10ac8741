// Package sla classifies work items against their service-level deadline.
package sla

import "time"

// Tier is the SLA status of an item
type Tier string

const (
	TierOnTime   Tier = "ON_TIME"
	TierAtRisk   Tier = "AT_RISK"
	TierCritical Tier = "CRITICAL"
	TierOverdue  Tier = "OVERDUE"
)

// Priority is the handling priority derived from the tier
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

const (
	criticalHours = 24
	atRiskHours   = 72
)

// Classification is the result of Classify
type Classification struct {
	Tier           Tier     `json:"tier"`
	Priority       Priority `json:"priority"`
	DaysElapsed    int      `json:"days_elapsed"`
	RemainingHours int      `json:"remaining_hours"`
	DaysOverdue    int      `json:"days_overdue"`
}

// Classify computes the tier of an item received at receivedAt with an SLA of
// slaDays, as seen at now. It has no side effects.
func Classify(now, receivedAt time.Time, slaDays int) Classification {
	hoursElapsed := int(now.Sub(receivedAt) / time.Hour)
	if hoursElapsed < 0 {
		hoursElapsed = 0
	}
	daysElapsed := hoursElapsed / 24

	remaining := slaDays*24 - hoursElapsed
	if remaining < 0 {
		remaining = 0
	}

	c := Classification{
		DaysElapsed:    daysElapsed,
		RemainingHours: remaining,
	}

	switch {
	case daysElapsed >= slaDays:
		c.Tier = TierOverdue
		c.DaysOverdue = daysElapsed - slaDays
	case remaining <= criticalHours:
		c.Tier = TierCritical
	case remaining <= atRiskHours:
		c.Tier = TierAtRisk
	default:
		c.Tier = TierOnTime
	}

	c.Priority = priorityFor(c.Tier, daysElapsed, slaDays)
	return c
}

func priorityFor(tier Tier, daysElapsed, slaDays int) Priority {
	switch tier {
	case TierOverdue, TierCritical:
		return PriorityUrgent
	case TierAtRisk:
		return PriorityHigh
	}
	if float64(daysElapsed) > float64(slaDays)/2 {
		return PriorityMedium
	}
	return PriorityLow
}

// Deadline returns the instant the item becomes overdue
func Deadline(receivedAt time.Time, slaDays int) time.Time {
	return receivedAt.Add(time.Duration(slaDays) * 24 * time.Hour)
}
