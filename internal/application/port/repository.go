package port

import (
	"context"
	"time"

	"github.com/garyjia/bordereau-engine/internal/domain/entity"
	"github.com/garyjia/bordereau-engine/internal/domain/workflow"
)

// CandidateQuery selects work items for batch processing, oldest first
type CandidateQuery struct {
	Statuses []workflow.Status
	// ChangedBefore keeps items whose status changed at or before this instant (zero means any)
	ChangedBefore time.Time
	// WithoutTeam keeps only items that have no team yet
	WithoutTeam bool
	Limit       int
}

// Mutation edits a work item inside AtomicUpdate
type Mutation func(item *entity.WorkItem) error

// WorkItemStore defines persistence operations for WorkItem
type WorkItemStore interface {
	// Create inserts a new item with version 1
	Create(ctx context.Context, item *entity.WorkItem) error

	// Get returns workflow.ErrNotFound when the item does not exist
	Get(ctx context.Context, id string) (*entity.WorkItem, error)

	// FindCandidates returns items ordered by status_changed_at ascending
	FindCandidates(ctx context.Context, q CandidateQuery) ([]*entity.WorkItem, error)

	// AtomicUpdate applies mutate and bumps the version only if the stored
	// version equals expectedVersion, otherwise workflow.ErrStaleState
	AtomicUpdate(ctx context.Context, id string, expectedVersion int64, mutate Mutation) (*entity.WorkItem, error)

	// ListOpen returns non-terminal items ordered by received_at
	ListOpen(ctx context.Context, limit int) ([]*entity.WorkItem, error)

	// CountByAgent counts items owned by agentID in the given statuses
	CountByAgent(ctx context.Context, agentID string, statuses []workflow.Status) (int, error)

	// CountByTeam counts items of teamID in the given statuses
	CountByTeam(ctx context.Context, teamID string, statuses []workflow.Status) (int, error)
}

// HistoryRepository defines persistence operations for TransitionRecord
type HistoryRepository interface {
	Append(ctx context.Context, record *entity.TransitionRecord) error
	ListByItem(ctx context.Context, itemID string) ([]*entity.TransitionRecord, error)

	// CompletedAgentsForClient lists agents who moved an item of clientID
	// from IN_PROGRESS to PROCESSED, most experienced first
	CompletedAgentsForClient(ctx context.Context, clientID string) ([]string, error)
}

// RosterRepository defines persistence operations for agents and teams
type RosterRepository interface {
	UpsertAgent(ctx context.Context, agent *entity.Agent) error
	GetAgent(ctx context.Context, id string) (*entity.Agent, error)
	ListAgentsByTeam(ctx context.Context, teamID string) ([]*entity.Agent, error)
	ListAgentsByRole(ctx context.Context, role workflow.Role) ([]*entity.Agent, error)

	UpsertTeam(ctx context.Context, team *entity.Team) error
	GetTeam(ctx context.Context, id string) (*entity.Team, error)
	ListTeams(ctx context.Context) ([]*entity.Team, error)

	// SetCursor stores the round-robin position of a team
	SetCursor(ctx context.Context, teamID string, cursor int) error
}

// ClientDirectory resolves client level settings
type ClientDirectory interface {
	GetClient(ctx context.Context, id string) (*entity.Client, error)

	// SLADays returns the contract SLA when the contract is active, else the client SLA
	SLADays(ctx context.Context, clientID, contractID string) (int, error)
}

// ClientRepository is the writable side of ClientDirectory
type ClientRepository interface {
	ClientDirectory
	UpsertClient(ctx context.Context, client *entity.Client) error
	UpsertContract(ctx context.Context, contract *entity.Contract) error
}

// AlertRepository defines persistence operations for AlertState
type AlertRepository interface {
	// Get returns workflow.ErrNotFound when no state is stored
	Get(ctx context.Context, kind entity.AlertKind, subjectID string) (*entity.AlertState, error)

	// Save inserts when state.Version is 0, else updates guarded by the version.
	// On success state.Version holds the stored version.
	Save(ctx context.Context, state *entity.AlertState) error

	// ListActive returns the raised alerts of a kind ordered by subject
	ListActive(ctx context.Context, kind entity.AlertKind) ([]*entity.AlertState, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	// AfterCommit runs fn once the transaction in ctx commits. Without a
	// transaction fn runs immediately. Rolled back transactions drop fn.
	AfterCommit(ctx context.Context, fn func())
}
