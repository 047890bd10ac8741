package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/garyjia/bordereau-engine/internal/application/alerting"
	"github.com/garyjia/bordereau-engine/internal/application/escalation"
	"github.com/garyjia/bordereau-engine/internal/application/routing"
	wfapp "github.com/garyjia/bordereau-engine/internal/application/workflow"
	"github.com/garyjia/bordereau-engine/internal/domain/entity"
	"github.com/garyjia/bordereau-engine/internal/domain/event"
	"github.com/garyjia/bordereau-engine/internal/domain/sla"
	domainwf "github.com/garyjia/bordereau-engine/internal/domain/workflow"
	"github.com/garyjia/bordereau-engine/internal/testutil/fixture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var intakeRules = []Rule{
	{From: domainwf.StatusReceived, To: domainwf.StatusToDigitize, After: time.Hour},
	{From: domainwf.StatusToDigitize, To: domainwf.StatusDigitizing, After: 4 * time.Hour},
	{From: domainwf.StatusDigitizing, To: domainwf.StatusDigitized, After: 24 * time.Hour},
}

type harness struct {
	env          *fixture.Env
	engine       wfapp.WorkflowEngine
	orchestrator *Orchestrator
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	env := fixture.New(t)
	engine := wfapp.NewEngine(env.Items, env.History, env.Roster, env.Clients, env.DB,
		wfapp.WithPublisher(env.Events), wfapp.WithClock(env.Clock))
	router := routing.NewRouter(routing.Deps{
		Engine:    engine,
		Items:     env.Items,
		History:   env.History,
		Roster:    env.Roster,
		Clients:   env.Clients,
		TxManager: env.DB,
		Gate:      alerting.NewGate(env.Alerts, 24*time.Hour),
		Publisher: env.Events,
		Clock:     env.Clock,
	})
	detector := escalation.NewDetector(env.Items, env.Roster, env.Alerts, env.Events, env.Clock,
		escalation.DefaultConfig(), env.Logger)
	return &harness{
		env:          env,
		engine:       engine,
		orchestrator: NewOrchestrator(engine, router, detector, env.Items, env.Clock, cfg, env.Logger),
	}
}

func TestConfig_Validate(t *testing.T) {
	table := domainwf.DefaultTable()
	assert.NoError(t, Config{Rules: intakeRules}.Validate(table))

	err := Config{Rules: []Rule{{From: domainwf.StatusReceived, To: domainwf.StatusClosed}}}.Validate(table)
	assert.ErrorIs(t, err, domainwf.ErrInvalidTransition)

	err = Config{Rules: []Rule{{From: "NOPE", To: domainwf.StatusClosed}}}.Validate(table)
	assert.ErrorIs(t, err, domainwf.ErrInvalidState)

	rejected := []struct {
		name string
		rule Rule
		want error
	}{
		{"needs a team", Rule{From: domainwf.StatusDigitized, To: domainwf.StatusToAssign}, domainwf.ErrPreconditionFailed},
		{"needs an agent", Rule{From: domainwf.StatusToAssign, To: domainwf.StatusAssigned}, domainwf.ErrPreconditionFailed},
		{"needs a reason", Rule{From: domainwf.StatusDigitizing, To: domainwf.StatusToDigitize}, domainwf.ErrPreconditionFailed},
		{"not a system edge", Rule{From: domainwf.StatusInProgress, To: domainwf.StatusProcessed}, domainwf.ErrUnauthorized},
		{"terminal source", Rule{From: domainwf.StatusClosed, To: domainwf.StatusToAssign}, domainwf.ErrItemClosed},
		{"negative delay", Rule{From: domainwf.StatusReceived, To: domainwf.StatusToDigitize, After: -time.Hour}, nil},
	}
	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			err := Config{Rules: []Rule{tt.rule}}.Validate(table)
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestTick_RulesHonourDelayAndBatch(t *testing.T) {
	h := newHarness(t, Config{BatchSize: 2, Rules: intakeRules[:1]})
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		h.env.Item(t, &entity.WorkItem{ID: id, ClientID: "c", Status: domainwf.StatusReceived})
		h.env.Clock.Advance(time.Minute)
	}

	report, err := h.orchestrator.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Transitioned)

	h.env.Clock.Advance(time.Hour)
	report, err = h.orchestrator.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Transitioned)
	assert.Equal(t, domainwf.StatusToDigitize, h.env.Reload(t, "a").Status)
	assert.Equal(t, domainwf.StatusToDigitize, h.env.Reload(t, "b").Status)
	assert.Equal(t, domainwf.StatusReceived, h.env.Reload(t, "c").Status)

	report, err = h.orchestrator.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Transitioned)

	records, err := h.env.History.ListByItem(ctx, "c")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domainwf.SystemActorID, records[0].ActorID)
	assert.Equal(t, domainwf.RoleSystem, records[0].ActorRole)
}

func TestTick_CapacityWaitIsSkipped(t *testing.T) {
	h := newHarness(t, Config{AutoAssign: true})
	h.env.Team(t, &entity.Team{ID: "north", LeaderID: "lead-n", MaxLoad: 10})
	h.env.Agent(t, &entity.Agent{ID: "ag-1", Role: domainwf.RoleAgent, TeamID: "north", Capacity: 1})
	h.env.Item(t, &entity.WorkItem{ID: "a", ClientID: "c", Status: domainwf.StatusToAssign, TeamID: "north"})
	h.env.Clock.Advance(time.Minute)
	h.env.Item(t, &entity.WorkItem{ID: "b", ClientID: "c", Status: domainwf.StatusToAssign, TeamID: "north"})

	report, err := h.orchestrator.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Assigned)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, "ag-1", h.env.Reload(t, "a").AssignedAgentID)
	assert.Equal(t, domainwf.StatusToAssign, h.env.Reload(t, "b").Status)
}

type stubRouter struct {
	routeErr error
	routed   []string
}

func (s *stubRouter) RouteToTeam(ctx context.Context, itemID string, actor domainwf.Actor) (*routing.RouteResult, error) {
	s.routed = append(s.routed, itemID)
	if s.routeErr != nil {
		return nil, s.routeErr
	}
	return &routing.RouteResult{ItemID: itemID, TeamID: "north", Changed: true}, nil
}

func (s *stubRouter) AssignAgent(ctx context.Context, itemID string, opts routing.AssignOptions) (*routing.AssignResult, error) {
	return &routing.AssignResult{ItemID: itemID}, nil
}

func TestTick_ClassifiesRouteFailures(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		skipped int
		failed  int
		routed  int
	}{
		{"routed", nil, 0, 0, 1},
		{"moved concurrently", fmt.Errorf("item w: %w", domainwf.ErrStaleState), 1, 0, 0},
		{"no longer digitized", domainwf.ErrInvalidTransition, 1, 0, 0},
		{"store failure", fmt.Errorf("disk I/O error"), 0, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := fixture.New(t)
			env.Item(t, &entity.WorkItem{ID: "w", ClientID: "c", Status: domainwf.StatusDigitized})
			router := &stubRouter{routeErr: tt.err}
			o := NewOrchestrator(nil, router, nil, env.Items, env.Clock, Config{}, env.Logger)

			report, err := o.Tick(context.Background())
			require.NoError(t, err)
			assert.Equal(t, []string{"w"}, router.routed)
			assert.Equal(t, tt.skipped, report.Skipped)
			assert.Equal(t, tt.failed, report.Failed)
			assert.Equal(t, tt.routed, report.Routed)
		})
	}
}

func TestTick_StopsAtDeadline(t *testing.T) {
	h := newHarness(t, Config{Rules: intakeRules})
	h.env.Item(t, &entity.WorkItem{ID: "a", ClientID: "c", Status: domainwf.StatusReceived})
	h.env.Clock.Advance(2 * time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := h.orchestrator.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, report.Interrupted)
	assert.Equal(t, 0, report.Transitioned)
	assert.Equal(t, domainwf.StatusReceived, h.env.Reload(t, "a").Status)
}

func TestEscalationTick_WithoutDetector(t *testing.T) {
	env := fixture.New(t)
	o := NewOrchestrator(nil, &stubRouter{}, nil, env.Items, env.Clock, Config{}, env.Logger)
	report, err := o.EscalationTick(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Overdue)
}

// An item received on day 0 with a 5 day SLA flows through intake, scan and
// routing on its own, waits with an idle agent and breaches on day 5.
func TestScenario_SixDaysToBreach(t *testing.T) {
	h := newHarness(t, Config{AutoAssign: true, Rules: intakeRules})
	ctx := context.Background()
	h.env.Client(t, &entity.Client{ID: "mutuelle", SLADays: 5, AccountManagerID: "lead-n"})
	h.env.Team(t, &entity.Team{ID: "north", LeaderID: "lead-n", MaxLoad: 10})
	h.env.Team(t, &entity.Team{ID: "south", LeaderID: "lead-s", MaxLoad: 10})
	h.env.Agent(t, &entity.Agent{ID: "ag-1", Role: domainwf.RoleAgent, TeamID: "north", Capacity: 5})

	item, err := h.engine.CreateItem(ctx, wfapp.CreateItemRequest{
		ID:        "bdx-1",
		Reference: "BDX-2024-001",
		ClientID:  "mutuelle",
		UnitCount: 40,
		Actor:     domainwf.Actor{ID: "bo-1", Role: domainwf.RoleBureauOrdre},
	})
	require.NoError(t, err)
	assert.Equal(t, 5, item.SLADurationDays)

	for hour := 1; hour <= 6*24; hour++ {
		h.env.Clock.Advance(time.Hour)
		_, err := h.orchestrator.Tick(ctx)
		require.NoError(t, err)
		_, err = h.orchestrator.EscalationTick(ctx)
		require.NoError(t, err)

		if hour == 30 {
			got := h.env.Reload(t, "bdx-1")
			assert.Equal(t, domainwf.StatusAssigned, got.Status)
			assert.Equal(t, "north", got.TeamID)
			assert.Equal(t, "ag-1", got.AssignedAgentID)
		}
	}

	got := h.env.Reload(t, "bdx-1")
	c := sla.Classify(h.env.Clock.Now(), got.ReceivedAt, got.SLADurationDays)
	assert.Equal(t, sla.TierOverdue, c.Tier)
	assert.Equal(t, 1, c.DaysOverdue)

	breaches := h.env.Events.OfType(event.TypeSLABreach)
	require.Len(t, breaches, 2)
	assert.Equal(t, fixture.Start.Add(5*24*time.Hour), breaches[0].Timestamp)
	assert.Equal(t, "bdx-1", breaches[0].ItemID)
	assert.Equal(t, []string{"ag-1", "lead-n"}, breaches[0].Recipients)
	assert.Empty(t, h.env.Events.OfType(event.TypeCriticalSLABreach))

	replayed, err := h.engine.Replay(ctx, "bdx-1")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StatusAssigned, replayed.Status)
	assert.Equal(t, "ag-1", replayed.AgentID)
}
