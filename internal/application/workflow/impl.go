package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/garyjia/bordereau-engine/internal/application/capacity"
	"github.com/garyjia/bordereau-engine/internal/application/port"
	"github.com/garyjia/bordereau-engine/internal/domain/entity"
	"github.com/garyjia/bordereau-engine/internal/domain/event"
	domainwf "github.com/garyjia/bordereau-engine/internal/domain/workflow"
	"github.com/garyjia/bordereau-engine/pkg/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// engineImpl is the concrete implementation of WorkflowEngine
type engineImpl struct {
	items     port.WorkItemStore
	history   port.HistoryRepository
	roster    port.RosterRepository
	clients   port.ClientDirectory
	txManager port.TransactionManager
	tracker   *capacity.Tracker

	table     *domainwf.Table
	publisher port.EventPublisher
	clock     clock.Clock
	logger    *zap.Logger
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithPublisher sets where committed events are published
func WithPublisher(p port.EventPublisher) EngineOption {
	return func(e *engineImpl) {
		e.publisher = p
	}
}

// WithClock overrides the time source
func WithClock(c clock.Clock) EngineOption {
	return func(e *engineImpl) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithLogger sets the engine logger
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *engineImpl) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithTable replaces the default transition table
func WithTable(t *domainwf.Table) EngineOption {
	return func(e *engineImpl) {
		e.table = t
	}
}

// NewEngine creates a new workflow engine
func NewEngine(
	items port.WorkItemStore,
	history port.HistoryRepository,
	roster port.RosterRepository,
	clients port.ClientDirectory,
	txManager port.TransactionManager,
	opts ...EngineOption,
) WorkflowEngine {
	e := &engineImpl{
		items:     items,
		history:   history,
		roster:    roster,
		clients:   clients,
		txManager: txManager,
		tracker:   capacity.NewTracker(items),
		table:     domainwf.DefaultTable(),
		clock:     clock.Real{},
		logger:    zap.NewNop(),
	}

	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("workflow")

	return e
}

func (e *engineImpl) Table() *domainwf.Table {
	return e.table
}

func (e *engineImpl) Get(ctx context.Context, itemID string) (*entity.WorkItem, error) {
	return e.items.Get(ctx, itemID)
}

func (e *engineImpl) History(ctx context.Context, itemID string) ([]*entity.TransitionRecord, error) {
	if _, err := e.items.Get(ctx, itemID); err != nil {
		return nil, err
	}
	return e.history.ListByItem(ctx, itemID)
}

func (e *engineImpl) Replay(ctx context.Context, itemID string) (entity.ReplayState, error) {
	records, err := e.History(ctx, itemID)
	if err != nil {
		return entity.ReplayState{}, err
	}
	return entity.Replay(records)
}

// CreateItem registers a bordereau in RECEIVED
func (e *engineImpl) CreateItem(ctx context.Context, req CreateItemRequest) (*entity.WorkItem, error) {
	if !req.Actor.Can(domainwf.CapIntake) {
		return nil, fmt.Errorf("%w: role %s cannot register bordereaux", domainwf.ErrUnauthorized, req.Actor.Role)
	}
	if req.ClientID == "" || req.Reference == "" {
		return nil, fmt.Errorf("%w: client and reference are required", domainwf.ErrPreconditionFailed)
	}

	now := e.clock.Now()
	item := &entity.WorkItem{
		ID:              req.ID,
		Reference:       req.Reference,
		ClientID:        req.ClientID,
		ContractID:      req.ContractID,
		ReceivedAt:      req.ReceivedAt,
		Status:          domainwf.StatusReceived,
		UnitCount:       req.UnitCount,
		StatusChangedAt: now,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.ReceivedAt.IsZero() {
		item.ReceivedAt = now
	}

	var evt *event.Event
	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		days, err := e.clients.SLADays(txCtx, req.ClientID, req.ContractID)
		if err != nil {
			return fmt.Errorf("failed to resolve SLA: %w", err)
		}
		item.SLADurationDays = days

		if err := e.items.Create(txCtx, item); err != nil {
			return err
		}

		record := &entity.TransitionRecord{
			WorkItemID: item.ID,
			ToStatus:   domainwf.StatusReceived,
			ActorID:    req.Actor.ID,
			ActorRole:  req.Actor.Role,
			Timestamp:  now,
		}
		if err := e.history.Append(txCtx, record); err != nil {
			return fmt.Errorf("failed to create history record: %w", err)
		}

		evt = event.New(event.TypeItemCreated, item.ID, now, map[string]any{
			"reference": item.Reference,
			"client_id": item.ClientID,
			"sla_days":  item.SLADurationDays,
		})
		e.publishAfterCommit(txCtx, evt)
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Work item created",
		zap.String("item_id", item.ID),
		zap.String("client_id", item.ClientID),
		zap.Int("sla_days", item.SLADurationDays))
	return item, nil
}

// Transition runs every guard and the owner write in one transaction
func (e *engineImpl) Transition(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	var result *TransitionResult

	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		item, err := e.items.Get(txCtx, req.ItemID)
		if err != nil {
			return err
		}
		if req.ExpectedVersion != nil && *req.ExpectedVersion != item.Version {
			return fmt.Errorf("item %s at version %d, expected %d: %w",
				item.ID, item.Version, *req.ExpectedVersion, domainwf.ErrStaleState)
		}

		edge, err := e.table.Check(item.Status, req.Target, req.Actor, item.AssignedAgentID, req.Reason)
		if err != nil {
			return err
		}

		if req.Override {
			if !req.Actor.Can(domainwf.CapOverride) {
				return fmt.Errorf("%w: override requires the override capability", domainwf.ErrUnauthorized)
			}
			if req.Reason == "" {
				return fmt.Errorf("%w: override", domainwf.ErrReasonRequired)
			}
		}

		agentID, teamID, bypassed, err := e.resolveOwner(txCtx, item, edge, req)
		if err != nil {
			return err
		}

		now := e.clock.Now()
		updated, err := e.items.AtomicUpdate(txCtx, item.ID, item.Version, func(w *entity.WorkItem) error {
			w.Status = req.Target
			w.AssignedAgentID = agentID
			w.TeamID = teamID
			w.StatusChangedAt = now
			w.UpdatedAt = now
			if req.Target.IsTerminal() {
				w.ClosedAt = &now
			}
			return nil
		})
		if err != nil {
			return err
		}

		record := &entity.TransitionRecord{
			WorkItemID:  item.ID,
			FromStatus:  item.Status,
			ToStatus:    req.Target,
			ActorID:     req.Actor.ID,
			ActorRole:   req.Actor.Role,
			Timestamp:   now,
			Reason:      req.Reason,
			AgentID:     agentID,
			TeamID:      teamID,
			PrevAgentID: item.AssignedAgentID,
			Override:    bypassed,
		}
		if err := e.history.Append(txCtx, record); err != nil {
			return fmt.Errorf("failed to create history record: %w", err)
		}

		evt := event.New(event.TypeItemTransitioned, item.ID, now, map[string]any{
			"from":     string(item.Status),
			"to":       string(req.Target),
			"actor_id": req.Actor.ID,
			"agent_id": agentID,
			"team_id":  teamID,
			"reason":   req.Reason,
			"version":  updated.Version,
		})
		if agentID != "" && agentID != item.AssignedAgentID {
			evt = evt.To(agentID)
		}
		e.publishAfterCommit(txCtx, evt)

		if bypassed {
			e.publishAfterCommit(txCtx, event.New(event.TypeCapacityOverridden, item.ID, now, map[string]any{
				"actor_id": req.Actor.ID,
				"agent_id": agentID,
				"team_id":  teamID,
				"reason":   req.Reason,
			}).ToRole(string(domainwf.RoleAdmin)))
		}

		result = &TransitionResult{Item: updated, Record: record, Event: evt}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Work item transitioned",
		zap.String("item_id", result.Item.ID),
		zap.String("from", string(result.Record.FromStatus)),
		zap.String("to", string(result.Record.ToStatus)),
		zap.String("actor_id", req.Actor.ID),
		zap.Bool("override", result.Record.Override))
	return result, nil
}

// resolveOwner computes the owner after the edge and enforces capacity.
// bypassed reports whether an override let a full owner take the item.
func (e *engineImpl) resolveOwner(ctx context.Context, item *entity.WorkItem, edge domainwf.Edge, req TransitionRequest) (agentID, teamID string, bypassed bool, err error) {
	agentID, teamID = item.AssignedAgentID, item.TeamID

	switch edge.Effect {
	case domainwf.EffectSetTeam:
		if req.TeamID == "" {
			return "", "", false, fmt.Errorf("%w: team required for %s", domainwf.ErrPreconditionFailed, req.Target)
		}
		teamID, agentID = req.TeamID, ""
	case domainwf.EffectSetAgent:
		if req.AgentID == "" {
			return "", "", false, fmt.Errorf("%w: agent required for %s", domainwf.ErrPreconditionFailed, req.Target)
		}
		agentID = req.AgentID
	case domainwf.EffectClearAgent:
		agentID = ""
	default:
		if !req.Target.IsAgentOwned() {
			agentID = ""
		}
	}

	if req.Target.IsAgentOwned() && agentID == "" {
		return "", "", false, fmt.Errorf("%w: %s needs an agent", domainwf.ErrPreconditionFailed, req.Target)
	}

	addsAgentLoad := agentID != "" && req.Target.CountsTowardAgentLoad() &&
		!(item.Status.CountsTowardAgentLoad() && item.AssignedAgentID == agentID)
	if agentID != item.AssignedAgentID || addsAgentLoad {
		agent, err := e.roster.GetAgent(ctx, agentID)
		if err != nil {
			return "", "", false, err
		}
		if agentID != item.AssignedAgentID {
			if err := checkAssignable(agent, teamID); err != nil {
				return "", "", false, err
			}
			if teamID == "" {
				teamID = agent.TeamID
			}
		}
		if addsAgentLoad {
			ok, err := e.tracker.HasCapacity(ctx, capacity.Owner{Kind: capacity.OwnerAgent, ID: agent.ID, Capacity: agent.Capacity}, 1)
			if err != nil {
				return "", "", false, err
			}
			if !ok {
				if !req.Override {
					return "", "", false, fmt.Errorf("%w: agent %s is full", domainwf.ErrCapacityExceeded, agent.ID)
				}
				bypassed = true
			}
		}
	}

	// Team load grows when the item changes team or re-enters a counted
	// status (resume from hold, unblock, send back to triage).
	teamChanged := teamID != item.TeamID
	addsTeamLoad := teamID != "" && req.Target.CountsTowardTeamLoad() &&
		(teamChanged || !item.Status.CountsTowardTeamLoad())
	if teamID != "" && (teamChanged || addsTeamLoad) {
		team, err := e.roster.GetTeam(ctx, teamID)
		if err != nil {
			return "", "", false, err
		}
		if addsTeamLoad {
			ok, err := e.tracker.HasCapacity(ctx, capacity.Owner{Kind: capacity.OwnerTeam, ID: team.ID, Capacity: team.MaxLoad}, 1)
			if err != nil {
				return "", "", false, err
			}
			if !ok {
				if !req.Override {
					return "", "", false, fmt.Errorf("%w: team %s is full", domainwf.ErrCapacityExceeded, team.ID)
				}
				bypassed = true
			}
		}
	}

	return agentID, teamID, bypassed, nil
}

func checkAssignable(agent *entity.Agent, teamID string) error {
	if !agent.Active {
		return fmt.Errorf("%w: agent %s is inactive", domainwf.ErrPreconditionFailed, agent.ID)
	}
	if !agent.Role.Capabilities().Has(domainwf.CapProcess) {
		return fmt.Errorf("%w: agent %s cannot process items", domainwf.ErrPreconditionFailed, agent.ID)
	}
	if teamID != "" && agent.TeamID != teamID {
		return fmt.Errorf("%w: agent %s is not in team %s", domainwf.ErrPreconditionFailed, agent.ID, teamID)
	}
	return nil
}

// BulkTransition never stops at the first failure
func (e *engineImpl) BulkTransition(ctx context.Context, reqs []TransitionRequest) []BulkResult {
	results := make([]BulkResult, 0, len(reqs))
	for _, req := range reqs {
		_, err := e.Transition(ctx, req)
		r := BulkResult{ItemID: req.ItemID, Success: err == nil, Err: err}
		if err != nil {
			r.Error = err.Error()
		}
		results = append(results, r)
	}
	return results
}

func (e *engineImpl) publishAfterCommit(ctx context.Context, evt *event.Event) {
	if e.publisher == nil {
		return
	}
	e.txManager.AfterCommit(ctx, func() {
		if err := e.publisher.Publish(context.WithoutCancel(ctx), evt); err != nil {
			e.logger.Warn("Failed to publish event",
				zap.String("event_type", evt.Type.String()),
				zap.String("item_id", evt.ItemID),
				zap.Error(err))
		}
	})
}

// IsRetryable reports whether err came from a concurrent writer
func IsRetryable(err error) bool {
	return errors.Is(err, domainwf.ErrStaleState)
}
