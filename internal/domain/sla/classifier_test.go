package sla

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify_Boundaries(t *testing.T) {
	received := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		elapsed   time.Duration
		slaDays   int
		wantTier  Tier
		wantPrio  Priority
		wantHours int
	}{
		{"fresh item", 0, 10, TierOnTime, PriorityLow, 240},
		{"remaining 73h is on time", 167 * time.Hour, 10, TierOnTime, PriorityMedium, 73},
		{"remaining 72h is at risk", 168 * time.Hour, 10, TierAtRisk, PriorityHigh, 72},
		{"remaining 25h is at risk", 215 * time.Hour, 10, TierAtRisk, PriorityHigh, 25},
		{"remaining 24h is critical", 216 * time.Hour, 10, TierCritical, PriorityUrgent, 24},
		{"remaining 1h is critical", 239 * time.Hour, 10, TierCritical, PriorityUrgent, 1},
		{"exactly sla days is overdue", 240 * time.Hour, 10, TierOverdue, PriorityUrgent, 0},
		{"far past deadline", 30 * 24 * time.Hour, 10, TierOverdue, PriorityUrgent, 0},
		{"partial hours are floored", 167*time.Hour + 59*time.Minute, 10, TierOnTime, PriorityMedium, 73},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(received.Add(tt.elapsed), received, tt.slaDays)
			assert.Equal(t, tt.wantTier, c.Tier)
			assert.Equal(t, tt.wantPrio, c.Priority)
			assert.Equal(t, tt.wantHours, c.RemainingHours)
		})
	}
}

func TestClassify_DaysOverdue(t *testing.T) {
	received := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	c := Classify(received.Add(21*24*time.Hour), received, 10)
	assert.Equal(t, TierOverdue, c.Tier)
	assert.Equal(t, 21, c.DaysElapsed)
	assert.Equal(t, 11, c.DaysOverdue)

	c = Classify(received.Add(5*24*time.Hour), received, 10)
	assert.Equal(t, 0, c.DaysOverdue)
}

func TestClassify_ClockSkew(t *testing.T) {
	received := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	c := Classify(received.Add(-time.Hour), received, 3)
	assert.Equal(t, TierOnTime, c.Tier)
	assert.Equal(t, 0, c.DaysElapsed)
	assert.Equal(t, 72, c.RemainingHours)
}

func TestClassify_ZeroSLA(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Classify(now, now, 0)
	assert.Equal(t, TierOverdue, c.Tier)
}

func TestDeadline(t *testing.T) {
	received := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 11, 8, 0, 0, 0, time.UTC), Deadline(received, 10))
}
