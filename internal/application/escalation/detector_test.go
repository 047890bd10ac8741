package escalation

import (
	"context"
	"testing"
	"time"

	"github.com/garyjia/bordereau-engine/internal/domain/entity"
	"github.com/garyjia/bordereau-engine/internal/domain/event"
	domainwf "github.com/garyjia/bordereau-engine/internal/domain/workflow"
	"github.com/garyjia/bordereau-engine/internal/testutil/fixture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDetector(t *testing.T, env *fixture.Env) *Detector {
	t.Helper()
	return NewDetector(env.Items, env.Roster, env.Alerts, env.Events, env.Clock, Config{
		DefaultThreshold:    90,
		Cooldown:            24 * time.Hour,
		CriticalOverdueDays: 10,
	}, env.Logger)
}

func overloadEvents(env *fixture.Env, kind string) []*event.Event {
	var out []*event.Event
	for _, e := range env.Events.OfType(event.TypeOverloadAlert) {
		if e.GetPayloadString("owner_kind") == kind {
			out = append(out, e)
		}
	}
	return out
}

func TestDetector_OverloadDedupAcrossTicks(t *testing.T) {
	env := fixture.New(t)
	detector := newDetector(t, env)
	ctx := context.Background()

	env.Team(t, &entity.Team{ID: "north", LeaderID: "lead-n", MaxLoad: 20})
	env.Agent(t, &entity.Agent{ID: "ag-1", Role: domainwf.RoleAgent, TeamID: "north", Capacity: 2})
	env.Item(t, &entity.WorkItem{ID: "a", ClientID: "c", Status: domainwf.StatusAssigned, TeamID: "north", AssignedAgentID: "ag-1"})
	env.Item(t, &entity.WorkItem{ID: "b", ClientID: "c", Status: domainwf.StatusInProgress, TeamID: "north", AssignedAgentID: "ag-1"})

	for i := 0; i < 5; i++ {
		_, err := detector.Run(ctx)
		require.NoError(t, err)
		env.Clock.Advance(time.Hour)
	}

	alerts := overloadEvents(env, "AGENT")
	require.Len(t, alerts, 1)
	assert.Equal(t, "ag-1", alerts[0].GetPayloadString("owner_id"))
	assert.Equal(t, int64(2), alerts[0].GetPayloadInt("load"))
	assert.Equal(t, []string{"lead-n"}, alerts[0].Recipients)
	assert.Empty(t, overloadEvents(env, "TEAM"))

	// load drops below threshold, then rises again
	_, err := env.Items.AtomicUpdate(ctx, "b", 1, func(w *entity.WorkItem) error {
		w.Status = domainwf.StatusOnHold
		return nil
	})
	require.NoError(t, err)
	_, err = detector.Run(ctx)
	require.NoError(t, err)
	assert.Len(t, overloadEvents(env, "AGENT"), 1)

	_, err = env.Items.AtomicUpdate(ctx, "b", 2, func(w *entity.WorkItem) error {
		w.Status = domainwf.StatusInProgress
		return nil
	})
	require.NoError(t, err)
	_, err = detector.Run(ctx)
	require.NoError(t, err)
	assert.Len(t, overloadEvents(env, "AGENT"), 2)
}

func TestDetector_OverloadRealertsAfterCooldown(t *testing.T) {
	env := fixture.New(t)
	detector := newDetector(t, env)

	env.Team(t, &entity.Team{ID: "north", LeaderID: "lead-n", MaxLoad: 1, AlertThreshold: 100})
	env.Item(t, &entity.WorkItem{ID: "a", ClientID: "c", Status: domainwf.StatusToAssign, TeamID: "north"})

	_, err := detector.Run(context.Background())
	require.NoError(t, err)
	env.Clock.Advance(25 * time.Hour)
	_, err = detector.Run(context.Background())
	require.NoError(t, err)

	alerts := overloadEvents(env, "TEAM")
	require.Len(t, alerts, 2)
	assert.Equal(t, []string{"lead-n"}, alerts[0].Recipients)
	assert.Equal(t, []string{"ADMIN"}, alerts[0].Roles)
}

func TestDetector_SLABreachAddressing(t *testing.T) {
	env := fixture.New(t)
	detector := newDetector(t, env)
	now := env.Clock.Now()

	env.Team(t, &entity.Team{ID: "north", LeaderID: "lead-n", MaxLoad: 100})
	env.Agent(t, &entity.Agent{ID: "ag-1", Role: domainwf.RoleAgent, TeamID: "north", Capacity: 100})

	sixDaysAgo := now.Add(-6 * 24 * time.Hour)
	env.Item(t, &entity.WorkItem{ID: "owned", ClientID: "c", ReceivedAt: sixDaysAgo, SLADurationDays: 5,
		Status: domainwf.StatusInProgress, TeamID: "north", AssignedAgentID: "ag-1"})
	env.Item(t, &entity.WorkItem{ID: "team", ClientID: "c", ReceivedAt: sixDaysAgo, SLADurationDays: 5,
		Status: domainwf.StatusToAssign, TeamID: "north"})
	env.Item(t, &entity.WorkItem{ID: "orphan", ClientID: "c", ReceivedAt: sixDaysAgo, SLADurationDays: 5,
		Status: domainwf.StatusDigitized})
	env.Item(t, &entity.WorkItem{ID: "ancient", ClientID: "c", ReceivedAt: now.Add(-20 * 24 * time.Hour), SLADurationDays: 5,
		Status: domainwf.StatusToAssign, TeamID: "north"})
	env.Item(t, &entity.WorkItem{ID: "fresh", ClientID: "c", ReceivedAt: now.Add(-24 * time.Hour), SLADurationDays: 5,
		Status: domainwf.StatusToAssign, TeamID: "north"})
	env.Item(t, &entity.WorkItem{ID: "closed", ClientID: "c", ReceivedAt: sixDaysAgo, SLADurationDays: 5,
		Status: domainwf.StatusClosed})

	report, err := detector.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, report.ItemsChecked)
	assert.Equal(t, 4, report.Overdue)

	breaches := map[string]*event.Event{}
	for _, e := range env.Events.OfType(event.TypeSLABreach) {
		breaches[e.ItemID] = e
	}
	require.Len(t, breaches, 3)
	assert.Equal(t, []string{"ag-1", "lead-n"}, breaches["owned"].Recipients)
	assert.Equal(t, []string{"lead-n"}, breaches["team"].Recipients)
	assert.Empty(t, breaches["orphan"].Recipients)
	assert.Equal(t, []string{"TEAM_LEAD"}, breaches["orphan"].Roles)
	assert.Equal(t, int64(1), breaches["owned"].GetPayloadInt("days_overdue"))

	critical := env.Events.OfType(event.TypeCriticalSLABreach)
	require.Len(t, critical, 1)
	assert.Equal(t, "ancient", critical[0].ItemID)
	assert.Equal(t, []string{"ADMIN"}, critical[0].Roles)

	// within cooldown nothing is repeated
	env.Events.Reset()
	env.Clock.Advance(time.Hour)
	_, err = detector.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, env.Events.OfType(event.TypeSLABreach))
	assert.Empty(t, env.Events.OfType(event.TypeCriticalSLABreach))
}
