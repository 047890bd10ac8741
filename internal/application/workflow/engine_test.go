package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/garyjia/bordereau-engine/internal/domain/entity"
	"github.com/garyjia/bordereau-engine/internal/domain/event"
	domainwf "github.com/garyjia/bordereau-engine/internal/domain/workflow"
	"github.com/garyjia/bordereau-engine/internal/testutil/fixture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	bureau  = domainwf.Actor{ID: "bo-1", Role: domainwf.RoleBureauOrdre}
	scanner = domainwf.Actor{ID: "scan-1", Role: domainwf.RoleScan}
	lead    = domainwf.Actor{ID: "lead-1", Role: domainwf.RoleTeamLead}
	finance = domainwf.Actor{ID: "fin-1", Role: domainwf.RoleFinance}
	admin   = domainwf.Actor{ID: "admin-1", Role: domainwf.RoleAdmin}
)

func agentActor(id string) domainwf.Actor {
	return domainwf.Actor{ID: id, Role: domainwf.RoleAgent}
}

func newEngine(t *testing.T) (WorkflowEngine, *fixture.Env) {
	t.Helper()
	env := fixture.New(t)
	env.Client(t, &entity.Client{ID: "mutuelle", SLADays: 10, AccountManagerID: "lead-1"})
	require.NoError(t, env.Clients.UpsertContract(context.Background(),
		&entity.Contract{ID: "k-fast", ClientID: "mutuelle", SLADays: 5, Active: true}))
	env.Team(t, &entity.Team{ID: "north", Name: "North", LeaderID: "lead-1", MaxLoad: 10})
	env.Agent(t, &entity.Agent{ID: "ag-1", Role: domainwf.RoleAgent, TeamID: "north", Capacity: 1})
	env.Agent(t, &entity.Agent{ID: "ag-2", Role: domainwf.RoleAgent, TeamID: "north", Capacity: 5})

	engine := NewEngine(env.Items, env.History, env.Roster, env.Clients, env.DB,
		WithPublisher(env.Events), WithClock(env.Clock), WithLogger(env.Logger))
	return engine, env
}

func move(t *testing.T, engine WorkflowEngine, id string, to domainwf.Status, actor domainwf.Actor, mods ...func(*TransitionRequest)) *entity.WorkItem {
	t.Helper()
	req := TransitionRequest{ItemID: id, Target: to, Actor: actor}
	for _, m := range mods {
		m(&req)
	}
	res, err := engine.Transition(context.Background(), req)
	require.NoError(t, err, "%s -> %s", id, to)
	return res.Item
}

func withTeam(team string) func(*TransitionRequest) {
	return func(r *TransitionRequest) { r.TeamID = team }
}

func withAgent(agent string) func(*TransitionRequest) {
	return func(r *TransitionRequest) { r.AgentID = agent }
}

func withReason(reason string) func(*TransitionRequest) {
	return func(r *TransitionRequest) { r.Reason = reason }
}

func TestCreateItem(t *testing.T) {
	engine, env := newEngine(t)
	ctx := context.Background()

	item, err := engine.CreateItem(ctx, CreateItemRequest{Reference: "BDX-1", ClientID: "mutuelle", Actor: bureau})
	require.NoError(t, err)
	assert.NotEmpty(t, item.ID)
	assert.Equal(t, domainwf.StatusReceived, item.Status)
	assert.Equal(t, 10, item.SLADurationDays)
	assert.True(t, item.ReceivedAt.Equal(env.Clock.Now()))

	fast, err := engine.CreateItem(ctx, CreateItemRequest{Reference: "BDX-2", ClientID: "mutuelle", ContractID: "k-fast", Actor: bureau})
	require.NoError(t, err)
	assert.Equal(t, 5, fast.SLADurationDays)

	_, err = engine.CreateItem(ctx, CreateItemRequest{Reference: "BDX-3", ClientID: "mutuelle", Actor: agentActor("ag-1")})
	assert.ErrorIs(t, err, domainwf.ErrUnauthorized)

	_, err = engine.CreateItem(ctx, CreateItemRequest{Reference: "BDX-4", ClientID: "ghost", Actor: bureau})
	assert.ErrorIs(t, err, domainwf.ErrNotFound)

	history, err := engine.History(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domainwf.Status(""), history[0].FromStatus)

	assert.Len(t, env.Events.OfType(event.TypeItemCreated), 2)
}

func TestCreateItem_ReferenceIsUnique(t *testing.T) {
	engine, env := newEngine(t)
	ctx := context.Background()

	first, err := engine.CreateItem(ctx, CreateItemRequest{Reference: "BDX-1", ClientID: "mutuelle", Actor: bureau})
	require.NoError(t, err)

	_, err = engine.CreateItem(ctx, CreateItemRequest{Reference: "BDX-1", ClientID: "mutuelle", Actor: bureau})
	assert.ErrorIs(t, err, domainwf.ErrPreconditionFailed)

	open, err := env.Items.ListOpen(ctx, 0)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, first.ID, open[0].ID)

	history, err := engine.History(ctx, first.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
	assert.Len(t, env.Events.OfType(event.TypeItemCreated), 1)
}

func TestTransition_FullLifecycleReplays(t *testing.T) {
	engine, env := newEngine(t)
	ctx := context.Background()

	item, err := engine.CreateItem(ctx, CreateItemRequest{Reference: "BDX-1", ClientID: "mutuelle", Actor: bureau})
	require.NoError(t, err)
	id := item.ID

	move(t, engine, id, domainwf.StatusToDigitize, bureau)
	move(t, engine, id, domainwf.StatusDigitizing, scanner)
	move(t, engine, id, domainwf.StatusDigitized, scanner)
	routed := move(t, engine, id, domainwf.StatusToAssign, lead, withTeam("north"))
	assert.Equal(t, entity.OwnershipTeam, routed.Ownership())

	assigned := move(t, engine, id, domainwf.StatusAssigned, lead, withAgent("ag-2"))
	assert.Equal(t, entity.OwnershipAgent, assigned.Ownership())

	move(t, engine, id, domainwf.StatusInProgress, agentActor("ag-2"))
	move(t, engine, id, domainwf.StatusOnHold, agentActor("ag-2"), withReason("missing claim form"))
	move(t, engine, id, domainwf.StatusInProgress, agentActor("ag-2"))
	processed := move(t, engine, id, domainwf.StatusProcessed, agentActor("ag-2"))
	assert.Empty(t, processed.AssignedAgentID)
	assert.Equal(t, "north", processed.TeamID)

	move(t, engine, id, domainwf.StatusReadyForPayment, lead)
	move(t, engine, id, domainwf.StatusPaymentInProgress, finance)
	closed := move(t, engine, id, domainwf.StatusClosed, finance)
	require.NotNil(t, closed.ClosedAt)
	assert.Equal(t, int64(13), closed.Version)

	state, err := engine.Replay(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, closed.Status, state.Status)
	assert.Equal(t, closed.AssignedAgentID, state.AgentID)
	assert.Equal(t, closed.TeamID, state.TeamID)

	_, err = engine.Transition(ctx, TransitionRequest{ItemID: id, Target: domainwf.StatusToAssign, Actor: admin, Reason: "reopen"})
	assert.ErrorIs(t, err, domainwf.ErrItemClosed)

	assert.Len(t, env.Events.OfType(event.TypeItemTransitioned), 12)
}

func TestTransition_Guards(t *testing.T) {
	engine, env := newEngine(t)
	ctx := context.Background()
	env.Item(t, &entity.WorkItem{ID: "w", ClientID: "mutuelle", Status: domainwf.StatusAssigned, TeamID: "north", AssignedAgentID: "ag-2"})

	tests := []struct {
		name    string
		req     TransitionRequest
		wantErr error
	}{
		{"not an edge", TransitionRequest{Target: domainwf.StatusClosed, Actor: admin}, domainwf.ErrInvalidTransition},
		{"wrong role", TransitionRequest{Target: domainwf.StatusInProgress, Actor: finance}, domainwf.ErrUnauthorized},
		{"not the owner", TransitionRequest{Target: domainwf.StatusInProgress, Actor: agentActor("ag-1")}, domainwf.ErrUnauthorized},
		{"missing reason", TransitionRequest{Target: domainwf.StatusBlocked, Actor: lead}, domainwf.ErrReasonRequired},
		{"override without capability", TransitionRequest{Target: domainwf.StatusAssigned, AgentID: "ag-1", Actor: lead, Override: true, Reason: "x"}, domainwf.ErrUnauthorized},
		{"override without reason", TransitionRequest{Target: domainwf.StatusAssigned, AgentID: "ag-1", Actor: admin, Override: true}, domainwf.ErrReasonRequired},
		{"assign without agent", TransitionRequest{Target: domainwf.StatusAssigned, Actor: lead}, domainwf.ErrPreconditionFailed},
		{"unknown item", TransitionRequest{ItemID: "ghost", Target: domainwf.StatusInProgress, Actor: admin}, domainwf.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.req.ItemID == "" {
				tt.req.ItemID = "w"
			}
			_, err := engine.Transition(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	stored := env.Reload(t, "w")
	assert.Equal(t, int64(1), stored.Version)
	assert.Empty(t, env.Events.All())

	move(t, engine, "w", domainwf.StatusInProgress, admin)
}

func TestTransition_ExpectedVersion(t *testing.T) {
	engine, env := newEngine(t)
	env.Item(t, &entity.WorkItem{ID: "w", ClientID: "mutuelle", Status: domainwf.StatusReceived})

	stale := int64(7)
	_, err := engine.Transition(context.Background(), TransitionRequest{
		ItemID: "w", Target: domainwf.StatusToDigitize, Actor: bureau, ExpectedVersion: &stale,
	})
	assert.ErrorIs(t, err, domainwf.ErrStaleState)
	assert.ErrorIs(t, err, domainwf.ErrPreconditionFailed)
	assert.True(t, IsRetryable(err))

	current := int64(1)
	_, err = engine.Transition(context.Background(), TransitionRequest{
		ItemID: "w", Target: domainwf.StatusToDigitize, Actor: bureau, ExpectedVersion: &current,
	})
	assert.NoError(t, err)
}

func TestTransition_CapacityAndOverride(t *testing.T) {
	engine, env := newEngine(t)
	ctx := context.Background()
	env.Item(t, &entity.WorkItem{ID: "busy", ClientID: "mutuelle", Status: domainwf.StatusInProgress, TeamID: "north", AssignedAgentID: "ag-1"})
	env.Item(t, &entity.WorkItem{ID: "w", ClientID: "mutuelle", Status: domainwf.StatusToAssign, TeamID: "north"})

	_, err := engine.Transition(ctx, TransitionRequest{ItemID: "w", Target: domainwf.StatusAssigned, AgentID: "ag-1", Actor: lead})
	assert.ErrorIs(t, err, domainwf.ErrCapacityExceeded)
	assert.Equal(t, domainwf.StatusToAssign, env.Reload(t, "w").Status)

	res, err := engine.Transition(ctx, TransitionRequest{
		ItemID: "w", Target: domainwf.StatusAssigned, AgentID: "ag-1", Actor: admin,
		Override: true, Reason: "urgent client escalation",
	})
	require.NoError(t, err)
	assert.True(t, res.Record.Override)
	assert.Equal(t, "ag-1", res.Item.AssignedAgentID)

	overrides := env.Events.OfType(event.TypeCapacityOverridden)
	require.Len(t, overrides, 1)
	assert.Equal(t, []string{"ADMIN"}, overrides[0].Roles)

	transitioned := env.Events.OfType(event.TypeItemTransitioned)
	require.Len(t, transitioned, 1)
	assert.Equal(t, []string{"ag-1"}, transitioned[0].Recipients)
}

func TestTransition_ResumeFromHoldChecksCapacity(t *testing.T) {
	engine, env := newEngine(t)
	env.Item(t, &entity.WorkItem{ID: "held", ClientID: "mutuelle", Status: domainwf.StatusOnHold, TeamID: "north", AssignedAgentID: "ag-1"})
	env.Item(t, &entity.WorkItem{ID: "busy", ClientID: "mutuelle", Status: domainwf.StatusInProgress, TeamID: "north", AssignedAgentID: "ag-1"})

	_, err := engine.Transition(context.Background(), TransitionRequest{ItemID: "held", Target: domainwf.StatusInProgress, Actor: agentActor("ag-1")})
	assert.ErrorIs(t, err, domainwf.ErrCapacityExceeded)
}

func TestTransition_ReenteringTeamLoadChecksTeamCapacity(t *testing.T) {
	engine, env := newEngine(t)
	ctx := context.Background()
	env.Team(t, &entity.Team{ID: "tiny", LeaderID: "lead-1", MaxLoad: 1})
	env.Agent(t, &entity.Agent{ID: "ag-t", Role: domainwf.RoleAgent, TeamID: "tiny", Capacity: 5})
	env.Item(t, &entity.WorkItem{ID: "queued", ClientID: "mutuelle", Status: domainwf.StatusToAssign, TeamID: "tiny"})

	tests := []struct {
		name  string
		from  domainwf.Status
		agent string
		req   TransitionRequest
	}{
		{"unblock to agent", domainwf.StatusBlocked, "",
			TransitionRequest{Target: domainwf.StatusAssigned, AgentID: "ag-t", Actor: lead}},
		{"unblock to team", domainwf.StatusBlocked, "",
			TransitionRequest{Target: domainwf.StatusToAssign, Actor: lead}},
		{"resume from hold", domainwf.StatusOnHold, "ag-t",
			TransitionRequest{Target: domainwf.StatusInProgress, Actor: agentActor("ag-t")}},
		{"hold back to triage", domainwf.StatusOnHold, "ag-t",
			TransitionRequest{Target: domainwf.StatusToAssign, Actor: lead, Reason: "agent on leave"}},
		{"rejected at validation", domainwf.StatusProcessed, "",
			TransitionRequest{Target: domainwf.StatusToAssign, Actor: lead, Reason: "claims missing"}},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := "w" + string(rune('a'+i))
			env.Item(t, &entity.WorkItem{ID: id, ClientID: "mutuelle", Status: tt.from, TeamID: "tiny", AssignedAgentID: tt.agent})

			req := tt.req
			req.ItemID = id
			_, err := engine.Transition(ctx, req)
			assert.ErrorIs(t, err, domainwf.ErrCapacityExceeded)

			item := env.Reload(t, id)
			assert.Equal(t, tt.from, item.Status)
			assert.Equal(t, int64(1), item.Version)
		})
	}

	load, err := env.Items.CountByTeam(ctx, "tiny", domainwf.TeamLoadStatuses)
	require.NoError(t, err)
	assert.Equal(t, 1, load)

	t.Run("override records the bypass", func(t *testing.T) {
		res, err := engine.Transition(ctx, TransitionRequest{
			ItemID: "wa", Target: domainwf.StatusAssigned, AgentID: "ag-t", Actor: admin,
			Override: true, Reason: "client escalation",
		})
		require.NoError(t, err)
		assert.True(t, res.Record.Override)
		assert.Equal(t, "client escalation", res.Record.Reason)
		assert.Len(t, env.Events.OfType(event.TypeCapacityOverridden), 1)
	})

	t.Run("room in the team", func(t *testing.T) {
		env.Item(t, &entity.WorkItem{ID: "nb", ClientID: "mutuelle", Status: domainwf.StatusBlocked, TeamID: "north"})
		moved := move(t, engine, "nb", domainwf.StatusToAssign, lead)
		assert.Equal(t, "north", moved.TeamID)
	})
}

func TestTransition_AgentMustBelongToTeam(t *testing.T) {
	engine, env := newEngine(t)
	env.Team(t, &entity.Team{ID: "south", LeaderID: "lead-2", MaxLoad: 10})
	env.Agent(t, &entity.Agent{ID: "ag-s", Role: domainwf.RoleAgent, TeamID: "south", Capacity: 5})
	env.Item(t, &entity.WorkItem{ID: "w", ClientID: "mutuelle", Status: domainwf.StatusToAssign, TeamID: "north"})

	_, err := engine.Transition(context.Background(), TransitionRequest{ItemID: "w", Target: domainwf.StatusAssigned, AgentID: "ag-s", Actor: lead})
	assert.ErrorIs(t, err, domainwf.ErrPreconditionFailed)
}

func TestTransition_BlockedClearsAgentAndCannotClose(t *testing.T) {
	engine, env := newEngine(t)
	env.Item(t, &entity.WorkItem{ID: "w", ClientID: "mutuelle", Status: domainwf.StatusInProgress, TeamID: "north", AssignedAgentID: "ag-2"})

	blocked := move(t, engine, "w", domainwf.StatusBlocked, agentActor("ag-2"), withReason("illegible scan"))
	assert.Empty(t, blocked.AssignedAgentID)
	assert.Equal(t, "north", blocked.TeamID)

	_, err := engine.Transition(context.Background(), TransitionRequest{ItemID: "w", Target: domainwf.StatusClosed, Actor: admin})
	assert.ErrorIs(t, err, domainwf.ErrInvalidTransition)

	reassigned := move(t, engine, "w", domainwf.StatusAssigned, lead, withAgent("ag-1"))
	assert.Equal(t, "ag-1", reassigned.AssignedAgentID)
}

func TestTransition_ConcurrentAssignmentRespectsCapacity(t *testing.T) {
	engine, env := newEngine(t)
	const n = 6
	for i := 0; i < n; i++ {
		env.Item(t, &entity.WorkItem{ID: string(rune('a' + i)), ClientID: "mutuelle", Status: domainwf.StatusToAssign, TeamID: "north"})
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			<-start
			_, err := engine.Transition(context.Background(), TransitionRequest{
				ItemID: id, Target: domainwf.StatusAssigned, AgentID: "ag-1", Actor: lead,
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else {
				failures = append(failures, err)
			}
		}(string(rune('a' + i)))
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	for _, err := range failures {
		assert.ErrorIs(t, err, domainwf.ErrCapacityExceeded)
	}

	load, err := env.Items.CountByAgent(context.Background(), "ag-1", domainwf.AgentLoadStatuses)
	require.NoError(t, err)
	assert.Equal(t, 1, load)
}

func TestTransition_EventsOnlyAfterCommit(t *testing.T) {
	engine, env := newEngine(t)
	env.Item(t, &entity.WorkItem{ID: "w", ClientID: "mutuelle", Status: domainwf.StatusReceived})

	errAbort := errors.New("abort")
	err := env.DB.WithTransaction(context.Background(), func(ctx context.Context) error {
		_, err := engine.Transition(ctx, TransitionRequest{ItemID: "w", Target: domainwf.StatusToDigitize, Actor: bureau})
		require.NoError(t, err)
		assert.Empty(t, env.Events.All())
		return errAbort
	})
	assert.ErrorIs(t, err, errAbort)
	assert.Empty(t, env.Events.All())
	assert.Equal(t, domainwf.StatusReceived, env.Reload(t, "w").Status)
}

func TestBulkTransition(t *testing.T) {
	engine, env := newEngine(t)
	env.Item(t, &entity.WorkItem{ID: "a", ClientID: "mutuelle", Status: domainwf.StatusReceived})
	env.Item(t, &entity.WorkItem{ID: "b", ClientID: "mutuelle", Status: domainwf.StatusDigitized})
	env.Item(t, &entity.WorkItem{ID: "c", ClientID: "mutuelle", Status: domainwf.StatusReceived})

	results := engine.BulkTransition(context.Background(), []TransitionRequest{
		{ItemID: "a", Target: domainwf.StatusToDigitize, Actor: bureau},
		{ItemID: "b", Target: domainwf.StatusToDigitize, Actor: bureau},
		{ItemID: "c", Target: domainwf.StatusToDigitize, Actor: bureau},
	})

	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.ErrorIs(t, results[1].Err, domainwf.ErrInvalidTransition)
	assert.NotEmpty(t, results[1].Error)
	assert.True(t, results[2].Success)
}

func TestStageDurationsFromHistory(t *testing.T) {
	engine, env := newEngine(t)
	ctx := context.Background()

	item, err := engine.CreateItem(ctx, CreateItemRequest{Reference: "BDX-9", ClientID: "mutuelle", Actor: bureau})
	require.NoError(t, err)
	env.Clock.Advance(2 * time.Hour)
	move(t, engine, item.ID, domainwf.StatusToDigitize, bureau)
	env.Clock.Advance(30 * time.Minute)

	records, err := engine.History(ctx, item.ID)
	require.NoError(t, err)
	d := entity.StageDurations(records, env.Clock.Now())
	assert.Equal(t, 2*time.Hour, d[domainwf.StatusReceived])
	assert.Equal(t, 30*time.Minute, d[domainwf.StatusToDigitize])
}
