// Package fixture wires real repositories over a temp database for tests.
package fixture

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/garyjia/bordereau-engine/internal/application/port"
	"github.com/garyjia/bordereau-engine/internal/domain/entity"
	"github.com/garyjia/bordereau-engine/internal/domain/event"
	"github.com/garyjia/bordereau-engine/internal/infrastructure/persistence/repository"
	"github.com/garyjia/bordereau-engine/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/bordereau-engine/internal/testutil"
	"github.com/garyjia/bordereau-engine/pkg/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Start is the fake clock origin used by fixtures
var Start = time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)

// Env bundles the stores of one test database
type Env struct {
	DB      *sqlite.DB
	Items   port.WorkItemStore
	History port.HistoryRepository
	Roster  port.RosterRepository
	Clients port.ClientRepository
	Alerts  port.AlertRepository
	Clock   *clock.Fake
	Events  *Recorder
	Logger  *zap.Logger
}

// New creates an Env on a fresh database
func New(t testing.TB) *Env {
	t.Helper()
	db := testutil.NewDB(t)
	logger := zap.NewNop()
	return &Env{
		DB:      db,
		Items:   repository.NewWorkItemRepository(db.DB, logger),
		History: repository.NewHistoryRepository(db.DB, logger),
		Roster:  repository.NewRosterRepository(db.DB, logger),
		Clients: repository.NewClientRepository(db.DB, logger),
		Alerts:  repository.NewAlertRepository(db.DB, logger),
		Clock:   clock.NewFake(Start),
		Events:  &Recorder{},
		Logger:  logger,
	}
}

// Team stores a team
func (e *Env) Team(t testing.TB, team *entity.Team) *entity.Team {
	t.Helper()
	require.NoError(t, e.Roster.UpsertTeam(context.Background(), team))
	return team
}

// Agent stores an active agent
func (e *Env) Agent(t testing.TB, agent *entity.Agent) *entity.Agent {
	t.Helper()
	agent.Active = true
	if agent.Name == "" {
		agent.Name = agent.ID
	}
	require.NoError(t, e.Roster.UpsertAgent(context.Background(), agent))
	return agent
}

// Client stores a client
func (e *Env) Client(t testing.TB, client *entity.Client) *entity.Client {
	t.Helper()
	if client.Name == "" {
		client.Name = client.ID
	}
	require.NoError(t, e.Clients.UpsertClient(context.Background(), client))
	return client
}

// Item stores an item directly, bypassing the engine
func (e *Env) Item(t testing.TB, item *entity.WorkItem) *entity.WorkItem {
	t.Helper()
	now := e.Clock.Now()
	if item.Reference == "" {
		item.Reference = "BDX-" + item.ID
	}
	if item.ReceivedAt.IsZero() {
		item.ReceivedAt = now
	}
	if item.SLADurationDays == 0 {
		item.SLADurationDays = 10
	}
	if item.StatusChangedAt.IsZero() {
		item.StatusChangedAt = now
	}
	item.CreatedAt, item.UpdatedAt = now, now
	require.NoError(t, e.Items.Create(context.Background(), item))
	return item
}

// Reload fetches the stored item
func (e *Env) Reload(t testing.TB, id string) *entity.WorkItem {
	t.Helper()
	item, err := e.Items.Get(context.Background(), id)
	require.NoError(t, err)
	return item
}

// Recorder captures published events
type Recorder struct {
	mu     sync.Mutex
	events []*event.Event
}

// Publish implements port.EventPublisher
func (r *Recorder) Publish(ctx context.Context, evt *event.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

// All returns every recorded event
func (r *Recorder) All() []*event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*event.Event(nil), r.events...)
}

// OfType returns recorded events of one type
func (r *Recorder) OfType(t event.Type) []*event.Event {
	var out []*event.Event
	for _, e := range r.All() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Reset forgets recorded events
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
