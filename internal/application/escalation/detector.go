// Package escalation raises overload and SLA breach alerts on the slow tick.
package escalation

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/bordereau-engine/internal/application/alerting"
	"github.com/garyjia/bordereau-engine/internal/application/capacity"
	"github.com/garyjia/bordereau-engine/internal/application/port"
	"github.com/garyjia/bordereau-engine/internal/domain/entity"
	"github.com/garyjia/bordereau-engine/internal/domain/event"
	"github.com/garyjia/bordereau-engine/internal/domain/sla"
	domainwf "github.com/garyjia/bordereau-engine/internal/domain/workflow"
	"github.com/garyjia/bordereau-engine/pkg/clock"
	"go.uber.org/zap"
)

// Config holds detector thresholds
type Config struct {
	// DefaultThreshold applies to teams without their own alert threshold (percent)
	DefaultThreshold float64
	// Cooldown is the minimum time between two alerts for one ongoing condition
	Cooldown time.Duration
	// CriticalOverdueDays is the overdue days beyond which breaches go to admins
	CriticalOverdueDays int
}

// DefaultConfig returns the stock thresholds
func DefaultConfig() Config {
	return Config{
		DefaultThreshold:    90,
		Cooldown:            24 * time.Hour,
		CriticalOverdueDays: 10,
	}
}

// Report summarizes one detector run
type Report struct {
	TeamsChecked  int            `json:"teams_checked"`
	AgentsChecked int            `json:"agents_checked"`
	ItemsChecked  int            `json:"items_checked"`
	Overdue       int            `json:"overdue"`
	Events        []*event.Event `json:"events"`
}

// Detector evaluates load and SLA over the whole population
type Detector struct {
	items     port.WorkItemStore
	roster    port.RosterRepository
	tracker   *capacity.Tracker
	gate      *alerting.Gate
	publisher port.EventPublisher
	clock     clock.Clock
	cfg       Config
	logger    *zap.Logger
}

// NewDetector creates a detector
func NewDetector(
	items port.WorkItemStore,
	roster port.RosterRepository,
	alerts port.AlertRepository,
	publisher port.EventPublisher,
	clk clock.Clock,
	cfg Config,
	logger *zap.Logger,
) *Detector {
	if cfg.DefaultThreshold <= 0 {
		cfg.DefaultThreshold = DefaultConfig().DefaultThreshold
	}
	if cfg.CriticalOverdueDays <= 0 {
		cfg.CriticalOverdueDays = DefaultConfig().CriticalOverdueDays
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		items:     items,
		roster:    roster,
		tracker:   capacity.NewTracker(items),
		gate:      alerting.NewGate(alerts, cfg.Cooldown),
		publisher: publisher,
		clock:     clk,
		cfg:       cfg,
		logger:    logger.Named("escalation"),
	}
}

// Run evaluates every team, agent and open item once and publishes the alerts it raises
func (d *Detector) Run(ctx context.Context) (*Report, error) {
	now := d.clock.Now()
	report := &Report{}

	teams, err := d.roster.ListTeams(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	leaders := make(map[string]string, len(teams))
	for _, team := range teams {
		leaders[team.ID] = team.LeaderID
	}

	for _, team := range teams {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := d.checkTeam(ctx, team, now, report); err != nil {
			d.logger.Error("Team overload check failed", zap.String("team_id", team.ID), zap.Error(err))
		}
	}

	if err := d.checkSLA(ctx, leaders, now, report); err != nil {
		return report, err
	}

	for _, evt := range report.Events {
		d.publish(ctx, evt)
	}

	d.logger.Info("Escalation pass completed",
		zap.Int("teams", report.TeamsChecked),
		zap.Int("agents", report.AgentsChecked),
		zap.Int("items", report.ItemsChecked),
		zap.Int("overdue", report.Overdue),
		zap.Int("events", len(report.Events)))
	return report, nil
}

func (d *Detector) threshold(team *entity.Team) float64 {
	if team.AlertThreshold > 0 {
		return team.AlertThreshold
	}
	return d.cfg.DefaultThreshold
}

func (d *Detector) checkTeam(ctx context.Context, team *entity.Team, now time.Time, report *Report) error {
	threshold := d.threshold(team)

	load, err := d.tracker.Snapshot(ctx, capacity.Owner{Kind: capacity.OwnerTeam, ID: team.ID, Capacity: team.MaxLoad})
	if err != nil {
		return err
	}
	report.TeamsChecked++
	if evt, err := d.evaluate(ctx, entity.AlertTeamOverload, load, threshold, now); err != nil {
		return err
	} else if evt != nil {
		report.Events = append(report.Events, evt.To(team.LeaderID).ToRole(string(domainwf.RoleAdmin)))
	}

	agents, err := d.roster.ListAgentsByTeam(ctx, team.ID)
	if err != nil {
		return err
	}
	for _, agent := range agents {
		if !agent.Active || !agent.Role.Capabilities().Has(domainwf.CapProcess) {
			continue
		}
		load, err := d.tracker.Snapshot(ctx, capacity.Owner{Kind: capacity.OwnerAgent, ID: agent.ID, Capacity: agent.Capacity})
		if err != nil {
			return err
		}
		report.AgentsChecked++
		evt, err := d.evaluate(ctx, entity.AlertAgentOverload, load, threshold, now)
		if err != nil {
			return err
		}
		if evt != nil {
			report.Events = append(report.Events, evt.WithPayload("team_id", team.ID).To(team.LeaderID))
		}
	}
	return nil
}

// evaluate returns an overload event when the condition is raised and due
func (d *Detector) evaluate(ctx context.Context, kind entity.AlertKind, load capacity.Load, threshold float64, now time.Time) (*event.Event, error) {
	if load.Utilization < threshold {
		return nil, d.gate.Clear(ctx, kind, load.OwnerID)
	}
	fire, err := d.gate.Fire(ctx, kind, load.OwnerID, now)
	if err != nil || !fire {
		return nil, err
	}
	return event.New(event.TypeOverloadAlert, "", now, map[string]any{
		"owner_id":    load.OwnerID,
		"owner_kind":  string(load.Kind),
		"load":        load.Current,
		"capacity":    load.Capacity,
		"utilization": load.Utilization,
		"threshold":   threshold,
	}), nil
}

func (d *Detector) checkSLA(ctx context.Context, leaders map[string]string, now time.Time, report *Report) error {
	items, err := d.items.ListOpen(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list open items: %w", err)
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		report.ItemsChecked++

		c := sla.Classify(now, item.ReceivedAt, item.SLADurationDays)
		if c.Tier != sla.TierOverdue {
			continue
		}
		report.Overdue++

		fire, err := d.gate.Fire(ctx, entity.AlertSLABreach, item.ID, now)
		if err != nil {
			d.logger.Error("SLA breach dedup failed", zap.String("item_id", item.ID), zap.Error(err))
			continue
		}
		if !fire {
			continue
		}
		report.Events = append(report.Events, d.breachEvent(item, c, leaders, now))
	}
	return nil
}

func (d *Detector) breachEvent(item *entity.WorkItem, c sla.Classification, leaders map[string]string, now time.Time) *event.Event {
	payload := map[string]any{
		"reference":    item.Reference,
		"client_id":    item.ClientID,
		"status":       string(item.Status),
		"days_elapsed": c.DaysElapsed,
		"days_overdue": c.DaysOverdue,
		"sla_days":     item.SLADurationDays,
		"agent_id":     item.AssignedAgentID,
		"team_id":      item.TeamID,
	}

	if c.DaysOverdue > d.cfg.CriticalOverdueDays {
		return event.New(event.TypeCriticalSLABreach, item.ID, now, payload).
			ToRole(string(domainwf.RoleAdmin))
	}

	evt := event.New(event.TypeSLABreach, item.ID, now, payload)
	if item.AssignedAgentID != "" {
		evt = evt.To(item.AssignedAgentID)
	}
	if lead := leaders[item.TeamID]; item.TeamID != "" && lead != "" {
		return evt.To(lead)
	}
	if item.AssignedAgentID == "" {
		evt = evt.ToRole(string(domainwf.RoleTeamLead))
	}
	return evt
}

func (d *Detector) publish(ctx context.Context, evt *event.Event) {
	if d.publisher == nil {
		return
	}
	if err := d.publisher.Publish(ctx, evt); err != nil {
		d.logger.Warn("Failed to publish alert",
			zap.String("event_type", evt.Type.String()),
			zap.String("item_id", evt.ItemID),
			zap.Error(err))
	}
}
