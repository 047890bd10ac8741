package workflow

import (
	"context"
	"time"

	"github.com/garyjia/bordereau-engine/internal/domain/entity"
	"github.com/garyjia/bordereau-engine/internal/domain/event"
	domainwf "github.com/garyjia/bordereau-engine/internal/domain/workflow"
)

// WorkflowEngine moves work items along the stage graph
type WorkflowEngine interface {
	// CreateItem registers a received bordereau and snapshots its SLA
	CreateItem(ctx context.Context, req CreateItemRequest) (*entity.WorkItem, error)

	// Transition validates and applies one transition atomically
	Transition(ctx context.Context, req TransitionRequest) (*TransitionResult, error)

	// BulkTransition applies each request in its own transaction
	BulkTransition(ctx context.Context, reqs []TransitionRequest) []BulkResult

	Get(ctx context.Context, itemID string) (*entity.WorkItem, error)
	History(ctx context.Context, itemID string) ([]*entity.TransitionRecord, error)

	// Replay rebuilds status and owner from history
	Replay(ctx context.Context, itemID string) (entity.ReplayState, error)

	Table() *domainwf.Table
}

// CreateItemRequest describes a new bordereau
type CreateItemRequest struct {
	ID         string
	Reference  string
	ClientID   string
	ContractID string
	// ReceivedAt defaults to now
	ReceivedAt time.Time
	UnitCount  int
	Actor      domainwf.Actor
}

// TransitionRequest asks for one status change
type TransitionRequest struct {
	ItemID string
	Target domainwf.Status
	Actor  domainwf.Actor
	Reason string

	// AgentID is required by edges that hand the item to an agent
	AgentID string
	// TeamID is required by edges that hand the item to a team
	TeamID string

	// Override bypasses capacity guards; needs the override capability and a reason
	Override bool

	// ExpectedVersion, when set, must match the stored version
	ExpectedVersion *int64
}

// TransitionResult is the state after a successful transition
type TransitionResult struct {
	Item   *entity.WorkItem
	Record *entity.TransitionRecord
	Event  *event.Event
}

// BulkResult reports the outcome of one request of a bulk operation
type BulkResult struct {
	ItemID  string `json:"item_id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Err     error  `json:"-"`
}
