package capacity

import (
	"context"
	"testing"
	"time"

	"github.com/garyjia/bordereau-engine/internal/domain/entity"
	"github.com/garyjia/bordereau-engine/internal/domain/workflow"
	"github.com/garyjia/bordereau-engine/internal/infrastructure/persistence/repository"
	"github.com/garyjia/bordereau-engine/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestUtilization(t *testing.T) {
	assert.Equal(t, 50.0, Utilization(2, 4))
	assert.Equal(t, 100.0, Utilization(0, 0))
	assert.Equal(t, 100.0, Utilization(3, -1))
	assert.Equal(t, 125.0, Utilization(5, 4))
}

func TestTracker_CountsLiveStatusesOnly(t *testing.T) {
	db := testutil.NewDB(t)
	items := repository.NewWorkItemRepository(db.DB, zap.NewNop())
	tracker := NewTracker(items)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	seed := []struct {
		id     string
		status workflow.Status
		agent  string
	}{
		{"1", workflow.StatusToAssign, ""},
		{"2", workflow.StatusAssigned, "ag"},
		{"3", workflow.StatusInProgress, "ag"},
		{"4", workflow.StatusOnHold, "ag"},
		{"5", workflow.StatusProcessed, ""},
	}
	for _, s := range seed {
		require.NoError(t, items.Create(ctx, &entity.WorkItem{
			ID: s.id, Reference: s.id, ClientID: "c", ReceivedAt: now, SLADurationDays: 5,
			Status: s.status, AssignedAgentID: s.agent, TeamID: "team",
			StatusChangedAt: now, CreatedAt: now, UpdatedAt: now,
		}))
	}

	agent := Owner{Kind: OwnerAgent, ID: "ag", Capacity: 2}
	load, err := tracker.CurrentLoad(ctx, agent)
	require.NoError(t, err)
	assert.Equal(t, 2, load)

	ok, err := tracker.HasCapacity(ctx, agent, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	team := Owner{Kind: OwnerTeam, ID: "team", Capacity: 4}
	snap, err := tracker.Snapshot(ctx, team)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Current)
	assert.Equal(t, 75.0, snap.Utilization)

	ok, err = tracker.HasCapacity(ctx, team, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = tracker.CurrentLoad(ctx, Owner{Kind: "ROBOT"})
	assert.Error(t, err)
}
