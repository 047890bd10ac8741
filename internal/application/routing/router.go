// Package routing hands digitized items to teams and team items to agents.
package routing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/garyjia/bordereau-engine/internal/application/alerting"
	"github.com/garyjia/bordereau-engine/internal/application/capacity"
	"github.com/garyjia/bordereau-engine/internal/application/port"
	wfapp "github.com/garyjia/bordereau-engine/internal/application/workflow"
	"github.com/garyjia/bordereau-engine/internal/domain/entity"
	"github.com/garyjia/bordereau-engine/internal/domain/event"
	domainwf "github.com/garyjia/bordereau-engine/internal/domain/workflow"
	"github.com/garyjia/bordereau-engine/pkg/clock"
	"go.uber.org/zap"
)

// Router chooses owners and applies them through the workflow engine
type Router struct {
	engine    wfapp.WorkflowEngine
	items     port.WorkItemStore
	history   port.HistoryRepository
	roster    port.RosterRepository
	clients   port.ClientDirectory
	txManager port.TransactionManager
	tracker   *capacity.Tracker
	gate      *alerting.Gate
	publisher port.EventPublisher
	clock     clock.Clock
	logger    *zap.Logger
}

// Deps groups the collaborators of a Router
type Deps struct {
	Engine    wfapp.WorkflowEngine
	Items     port.WorkItemStore
	History   port.HistoryRepository
	Roster    port.RosterRepository
	Clients   port.ClientDirectory
	TxManager port.TransactionManager
	// Gate deduplicates routing-block alerts; nil alerts on every attempt
	Gate      *alerting.Gate
	Publisher port.EventPublisher
	Clock     clock.Clock
	Logger    *zap.Logger
}

// NewRouter creates a router
func NewRouter(d Deps) *Router {
	r := &Router{
		engine:    d.Engine,
		items:     d.Items,
		history:   d.History,
		roster:    d.Roster,
		clients:   d.Clients,
		txManager: d.TxManager,
		tracker:   capacity.NewTracker(d.Items),
		gate:      d.Gate,
		publisher: d.Publisher,
		clock:     d.Clock,
		logger:    d.Logger,
	}
	if r.clock == nil {
		r.clock = clock.Real{}
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	r.logger = r.logger.Named("routing")
	return r
}

// RouteResult describes the team holding an item after RouteToTeam
type RouteResult struct {
	ItemID string `json:"item_id"`
	TeamID string `json:"team_id"`
	// Changed is false when the item already had a team
	Changed bool `json:"changed"`
	// Policy names the rule that chose the team
	Policy string `json:"policy"`
}

// AssignResult describes the agent holding an item after assignment
type AssignResult struct {
	ItemID     string `json:"item_id"`
	AgentID    string `json:"agent_id"`
	Changed    bool   `json:"changed"`
	Specialist bool   `json:"specialist"`
}

// AssignOptions tunes AssignAgent
type AssignOptions struct {
	Actor domainwf.Actor
	// AgentID picks the agent explicitly instead of the load-based choice
	AgentID string
}

const (
	policyPreferred = "PREFERRED"
	policyLowest    = string(entity.OverflowLowestLoad)
	policyRR        = string(entity.OverflowRoundRobin)
	policyEscalated = string(entity.OverflowEscalate)
)

type teamLoad struct {
	team *entity.Team
	load capacity.Load
}

func (t teamLoad) hasRoom() bool {
	return t.load.Current+1 <= t.team.MaxLoad
}

// RouteToTeam moves a DIGITIZED item to TO_ASSIGN with a team
func (r *Router) RouteToTeam(ctx context.Context, itemID string, actor domainwf.Actor) (*RouteResult, error) {
	var (
		result  *RouteResult
		pending []*event.Event
		blocked *teamLoad
	)

	err := r.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		item, err := r.items.Get(txCtx, itemID)
		if err != nil {
			return err
		}
		if item.TeamID != "" && item.Status != domainwf.StatusDigitized {
			result = &RouteResult{ItemID: item.ID, TeamID: item.TeamID}
			return nil
		}
		if item.Status != domainwf.StatusDigitized {
			return fmt.Errorf("%w: cannot route item in %s", domainwf.ErrInvalidTransition, item.Status)
		}

		teams, err := r.teamLoads(txCtx)
		if err != nil {
			return err
		}

		chosen, policy, events, err := r.chooseTeam(txCtx, item, teams)
		pending = append(pending, events...)
		if err != nil {
			var be *blockedError
			if errors.As(err, &be) {
				blocked = &be.full
			}
			return err
		}

		version := item.Version
		if _, err := r.engine.Transition(txCtx, wfapp.TransitionRequest{
			ItemID:          item.ID,
			Target:          domainwf.StatusToAssign,
			Actor:           actor,
			TeamID:          chosen.ID,
			ExpectedVersion: &version,
		}); err != nil {
			return err
		}

		result = &RouteResult{ItemID: item.ID, TeamID: chosen.ID, Changed: true, Policy: policy}
		return nil
	})

	now := r.clock.Now()
	switch {
	case err == nil:
		r.clearBlock(ctx, itemID)
		r.publish(ctx, pending...)
	case errors.Is(err, domainwf.ErrCapacityExceeded):
		if r.shouldAlertBlock(ctx, itemID, now) {
			evt := event.New(event.TypeRoutingBlocked, itemID, now, map[string]any{"reason": err.Error()})
			if blocked == nil {
				evt = evt.ToRole(string(domainwf.RoleTeamLead))
			} else {
				// same load keys as a team overload.alert
				evt = evt.WithPayload("team_id", blocked.team.ID).
					WithPayload("owner_id", blocked.team.ID).
					WithPayload("owner_kind", string(capacity.OwnerTeam)).
					WithPayload("load", blocked.load.Current).
					WithPayload("capacity", blocked.team.MaxLoad).
					WithPayload("utilization", blocked.load.Utilization).
					WithPayload("threshold", 100.0)
				if blocked.team.LeaderID != "" {
					evt = evt.To(blocked.team.LeaderID)
				} else {
					evt = evt.ToRole(string(domainwf.RoleTeamLead))
				}
			}
			r.publish(ctx, append(pending, evt)...)
		}
	}
	if err != nil {
		return nil, err
	}

	if result.Changed {
		r.logger.Info("Item routed",
			zap.String("item_id", result.ItemID),
			zap.String("team_id", result.TeamID),
			zap.String("policy", result.Policy))
	}
	return result, nil
}

// blockedError marks a BLOCK overflow refusal
type blockedError struct {
	full teamLoad
}

func (e *blockedError) Error() string {
	return fmt.Sprintf("team %s is full and blocks overflow", e.full.team.ID)
}

func (e *blockedError) Unwrap() error {
	return domainwf.ErrCapacityExceeded
}

// chooseTeam applies the preferred team and overflow rules
func (r *Router) chooseTeam(ctx context.Context, item *entity.WorkItem, teams []teamLoad) (*entity.Team, string, []*event.Event, error) {
	preferred, err := r.preferredTeam(ctx, item, teams)
	if err != nil {
		return nil, "", nil, err
	}

	if preferred == nil {
		t := lowest(teams, "")
		if t == nil {
			return nil, "", nil, fmt.Errorf("%w: no team has room", domainwf.ErrCapacityExceeded)
		}
		return t, policyLowest, nil, nil
	}
	if preferred.hasRoom() {
		return preferred.team, policyPreferred, nil, nil
	}

	now := r.clock.Now()
	switch preferred.team.OverflowPolicy {
	case entity.OverflowBlock:
		return nil, "", nil, &blockedError{full: *preferred}

	case entity.OverflowEscalate:
		evt := event.New(event.TypeOverflowEscalated, item.ID, now, map[string]any{
			"team_id":     preferred.team.ID,
			"load":        preferred.load.Current,
			"max_load":    preferred.team.MaxLoad,
			"utilization": preferred.load.Utilization,
		}).ToRole(string(domainwf.RoleAdmin))
		t := lowest(teams, preferred.team.ID)
		if t == nil {
			return nil, "", []*event.Event{evt}, fmt.Errorf("%w: no team has room", domainwf.ErrCapacityExceeded)
		}
		return t, policyEscalated, []*event.Event{evt}, nil

	case entity.OverflowRoundRobin:
		t, err := r.roundRobin(ctx, preferred.team, teams)
		if err != nil {
			return nil, "", nil, err
		}
		return t, policyRR, nil, nil

	default:
		t := lowest(teams, preferred.team.ID)
		if t == nil {
			return nil, "", nil, fmt.Errorf("%w: no team has room", domainwf.ErrCapacityExceeded)
		}
		return t, policyLowest, nil, nil
	}
}

// preferredTeam is the team led by the client's account manager
func (r *Router) preferredTeam(ctx context.Context, item *entity.WorkItem, teams []teamLoad) (*teamLoad, error) {
	client, err := r.clients.GetClient(ctx, item.ClientID)
	if errors.Is(err, domainwf.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if client.AccountManagerID == "" {
		return nil, nil
	}
	for i := range teams {
		if teams[i].team.LeaderID == client.AccountManagerID {
			return &teams[i], nil
		}
	}
	return nil, nil
}

// roundRobin walks the alternates of team from its stored cursor
func (r *Router) roundRobin(ctx context.Context, team *entity.Team, teams []teamLoad) (*entity.Team, error) {
	byID := make(map[string]teamLoad, len(teams))
	for _, t := range teams {
		byID[t.team.ID] = t
	}

	ring := team.Alternates
	if len(ring) == 0 {
		for _, t := range teams {
			if t.team.ID != team.ID {
				ring = append(ring, t.team.ID)
			}
		}
	}
	if len(ring) == 0 {
		return nil, fmt.Errorf("%w: team %s has no alternates", domainwf.ErrCapacityExceeded, team.ID)
	}

	start := team.RRCursor % len(ring)
	if start < 0 {
		start = 0
	}
	for i := 0; i < len(ring); i++ {
		idx := (start + i) % len(ring)
		t, ok := byID[ring[idx]]
		if !ok || !t.hasRoom() {
			continue
		}
		if err := r.roster.SetCursor(ctx, team.ID, (idx+1)%len(ring)); err != nil {
			return nil, err
		}
		return t.team, nil
	}
	return nil, fmt.Errorf("%w: every alternate of team %s is full", domainwf.ErrCapacityExceeded, team.ID)
}

func (r *Router) teamLoads(ctx context.Context) ([]teamLoad, error) {
	teams, err := r.roster.ListTeams(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]teamLoad, 0, len(teams))
	for _, t := range teams {
		load, err := r.tracker.Snapshot(ctx, capacity.Owner{Kind: capacity.OwnerTeam, ID: t.ID, Capacity: t.MaxLoad})
		if err != nil {
			return nil, err
		}
		out = append(out, teamLoad{team: t, load: load})
	}
	return out, nil
}

// lowest returns the least utilized team with room, ties broken by id
func lowest(teams []teamLoad, exclude string) *entity.Team {
	var best *teamLoad
	for i := range teams {
		t := &teams[i]
		if t.team.ID == exclude || !t.hasRoom() {
			continue
		}
		if best == nil || t.load.Utilization < best.load.Utilization ||
			(t.load.Utilization == best.load.Utilization && t.team.ID < best.team.ID) {
			best = t
		}
	}
	if best == nil {
		return nil
	}
	return best.team
}

// AssignAgent moves a TO_ASSIGN or BLOCKED item to ASSIGNED
func (r *Router) AssignAgent(ctx context.Context, itemID string, opts AssignOptions) (*AssignResult, error) {
	var result *AssignResult

	err := r.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		item, err := r.items.Get(txCtx, itemID)
		if err != nil {
			return err
		}
		if item.Status.IsAgentOwned() && item.AssignedAgentID != "" {
			result = &AssignResult{ItemID: item.ID, AgentID: item.AssignedAgentID}
			return nil
		}
		if item.Status != domainwf.StatusToAssign && item.Status != domainwf.StatusBlocked {
			return fmt.Errorf("%w: cannot assign item in %s", domainwf.ErrInvalidTransition, item.Status)
		}

		agentID, specialist := opts.AgentID, false
		if agentID == "" {
			agentID, specialist, err = r.chooseAgent(txCtx, item)
			if err != nil {
				return err
			}
		}

		version := item.Version
		if _, err := r.engine.Transition(txCtx, wfapp.TransitionRequest{
			ItemID:          item.ID,
			Target:          domainwf.StatusAssigned,
			Actor:           opts.Actor,
			AgentID:         agentID,
			ExpectedVersion: &version,
		}); err != nil {
			return err
		}

		result = &AssignResult{ItemID: item.ID, AgentID: agentID, Changed: true, Specialist: specialist}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Changed {
		r.logger.Info("Item assigned",
			zap.String("item_id", result.ItemID),
			zap.String("agent_id", result.AgentID),
			zap.Bool("specialist", result.Specialist))
	}
	return result, nil
}

// ForceAssign assigns past the capacity guard; the override is kept in history
func (r *Router) ForceAssign(ctx context.Context, itemID, agentID string, actor domainwf.Actor, reason string) (*AssignResult, error) {
	res, err := r.engine.Transition(ctx, wfapp.TransitionRequest{
		ItemID:   itemID,
		Target:   domainwf.StatusAssigned,
		Actor:    actor,
		AgentID:  agentID,
		Reason:   reason,
		Override: true,
	})
	if err != nil {
		return nil, err
	}
	r.logger.Warn("Item force-assigned",
		zap.String("item_id", itemID),
		zap.String("agent_id", agentID),
		zap.String("actor_id", actor.ID),
		zap.Bool("capacity_bypassed", res.Record.Override))
	return &AssignResult{ItemID: itemID, AgentID: agentID, Changed: true}, nil
}

// BulkAssign runs AssignAgent for each item
func (r *Router) BulkAssign(ctx context.Context, itemIDs []string, actor domainwf.Actor) []wfapp.BulkResult {
	results := make([]wfapp.BulkResult, 0, len(itemIDs))
	for _, id := range itemIDs {
		_, err := r.AssignAgent(ctx, id, AssignOptions{Actor: actor})
		res := wfapp.BulkResult{ItemID: id, Success: err == nil, Err: err}
		if err != nil {
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	return results
}

type agentLoad struct {
	agent *entity.Agent
	load  capacity.Load
}

// chooseAgent prefers agents who completed items of the same client
func (r *Router) chooseAgent(ctx context.Context, item *entity.WorkItem) (string, bool, error) {
	agents, err := r.roster.ListAgentsByTeam(ctx, item.TeamID)
	if err != nil {
		return "", false, err
	}

	var candidates []agentLoad
	for _, a := range agents {
		if !a.Active || !a.Role.Capabilities().Has(domainwf.CapProcess) {
			continue
		}
		load, err := r.tracker.Snapshot(ctx, capacity.Owner{Kind: capacity.OwnerAgent, ID: a.ID, Capacity: a.Capacity})
		if err != nil {
			return "", false, err
		}
		if load.Current+1 > a.Capacity {
			continue
		}
		candidates = append(candidates, agentLoad{agent: a, load: load})
	}
	if len(candidates) == 0 {
		return "", false, fmt.Errorf("%w: no agent of team %s has room", domainwf.ErrCapacityExceeded, item.TeamID)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].load.Utilization != candidates[j].load.Utilization {
			return candidates[i].load.Utilization < candidates[j].load.Utilization
		}
		return candidates[i].agent.ID < candidates[j].agent.ID
	})

	specialists, err := r.history.CompletedAgentsForClient(ctx, item.ClientID)
	if err != nil {
		return "", false, err
	}
	known := make(map[string]bool, len(specialists))
	for _, id := range specialists {
		known[id] = true
	}
	for _, c := range candidates {
		if known[c.agent.ID] {
			return c.agent.ID, true, nil
		}
	}
	return candidates[0].agent.ID, false, nil
}

func (r *Router) shouldAlertBlock(ctx context.Context, itemID string, now time.Time) bool {
	if r.gate == nil {
		return true
	}
	fire, err := r.gate.Fire(ctx, entity.AlertRoutingBlock, itemID, now)
	if err != nil {
		r.logger.Warn("Failed to record routing block", zap.String("item_id", itemID), zap.Error(err))
		return true
	}
	return fire
}

func (r *Router) clearBlock(ctx context.Context, itemID string) {
	if r.gate == nil {
		return
	}
	if err := r.gate.Clear(ctx, entity.AlertRoutingBlock, itemID); err != nil {
		r.logger.Warn("Failed to clear routing block", zap.String("item_id", itemID), zap.Error(err))
	}
}

func (r *Router) publish(ctx context.Context, events ...*event.Event) {
	if r.publisher == nil {
		return
	}
	for _, evt := range events {
		if err := r.publisher.Publish(ctx, evt); err != nil {
			r.logger.Warn("Failed to publish event",
				zap.String("event_type", evt.Type.String()),
				zap.String("item_id", evt.ItemID),
				zap.Error(err))
		}
	}
}
