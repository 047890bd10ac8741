// Package scheduler drives the automatic parts of the workflow on each tick.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/bordereau-engine/internal/application/escalation"
	"github.com/garyjia/bordereau-engine/internal/application/port"
	"github.com/garyjia/bordereau-engine/internal/application/routing"
	wfapp "github.com/garyjia/bordereau-engine/internal/application/workflow"
	"github.com/garyjia/bordereau-engine/internal/domain/entity"
	domainwf "github.com/garyjia/bordereau-engine/internal/domain/workflow"
	"github.com/garyjia/bordereau-engine/pkg/clock"
	"go.uber.org/zap"
)

// Rule moves items from one status to another once they have waited long enough
type Rule struct {
	From  domainwf.Status
	To    domainwf.Status
	After time.Duration
}

// Config tunes the orchestrator
type Config struct {
	// BatchSize caps the candidates taken per phase (top-K oldest)
	BatchSize int
	// TickTimeout bounds one tick; zero means no deadline
	TickTimeout time.Duration
	// AutoAssign lets the fast tick assign TO_ASSIGN items to agents
	AutoAssign bool
	Rules      []Rule
}

// Validate checks the auto-transition rules against the table. A rule must
// name an edge SYSTEM may take with no reason and no owner to choose;
// those edges go through routing or a person.
func (c Config) Validate(table *domainwf.Table) error {
	system := domainwf.System()
	for _, r := range c.Rules {
		if !r.From.IsValid() || !r.To.IsValid() {
			return fmt.Errorf("%w: rule %s -> %s", domainwf.ErrInvalidState, r.From, r.To)
		}
		edge, err := table.Lookup(r.From, r.To)
		if err != nil {
			return fmt.Errorf("rule %s -> %s: %w", r.From, r.To, err)
		}
		if err := table.Authorize(edge, system, ""); err != nil {
			return fmt.Errorf("rule %s -> %s: %w", r.From, r.To, err)
		}
		if edge.ReasonRequired {
			return fmt.Errorf("%w: rule %s -> %s needs a reason", domainwf.ErrPreconditionFailed, r.From, r.To)
		}
		if edge.Effect == domainwf.EffectSetTeam || edge.Effect == domainwf.EffectSetAgent {
			return fmt.Errorf("%w: rule %s -> %s needs an owner", domainwf.ErrPreconditionFailed, r.From, r.To)
		}
		if r.After < 0 {
			return fmt.Errorf("rule %s -> %s: negative delay", r.From, r.To)
		}
	}
	return nil
}

// Router is the part of routing the orchestrator drives
type Router interface {
	RouteToTeam(ctx context.Context, itemID string, actor domainwf.Actor) (*routing.RouteResult, error)
	AssignAgent(ctx context.Context, itemID string, opts routing.AssignOptions) (*routing.AssignResult, error)
}

// Escalator runs one escalation pass
type Escalator interface {
	Run(ctx context.Context) (*escalation.Report, error)
}

// TickReport counts what one fast tick did
type TickReport struct {
	Transitioned int  `json:"transitioned"`
	Routed       int  `json:"routed"`
	Assigned     int  `json:"assigned"`
	Skipped      int  `json:"skipped"`
	Failed       int  `json:"failed"`
	Interrupted  bool `json:"interrupted"`
}

// Orchestrator runs the fast and slow ticks
type Orchestrator struct {
	engine    wfapp.WorkflowEngine
	router    Router
	escalator Escalator
	items     port.WorkItemStore
	clock     clock.Clock
	cfg       Config
	logger    *zap.Logger
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(
	engine wfapp.WorkflowEngine,
	router Router,
	escalator Escalator,
	items port.WorkItemStore,
	clk clock.Clock,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		engine:    engine,
		router:    router,
		escalator: escalator,
		items:     items,
		clock:     clk,
		cfg:       cfg,
		logger:    logger.Named("scheduler"),
	}
}

// errInterrupted stops the remaining phases once the tick deadline is hit
var errInterrupted = errors.New("tick interrupted")

// Tick applies the auto-transition rules, routes digitized items and,
// when enabled, assigns team items. Per-item failures are logged and skipped.
func (o *Orchestrator) Tick(ctx context.Context) (*TickReport, error) {
	ctx, cancel := o.withDeadline(ctx)
	defer cancel()

	start := time.Now()
	now := o.clock.Now()
	report := &TickReport{}
	var errs []error

	phases := []func(context.Context, time.Time, *TickReport) error{
		o.applyRules,
		o.routePending,
	}
	if o.cfg.AutoAssign {
		phases = append(phases, o.assignPending)
	}

	for _, phase := range phases {
		err := phase(ctx, now, report)
		if errors.Is(err, errInterrupted) {
			report.Interrupted = true
			o.logger.Warn("Tick deadline reached, remaining work deferred", zap.Error(ctx.Err()))
			break
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	o.logger.Debug("Tick completed",
		zap.Int("transitioned", report.Transitioned),
		zap.Int("routed", report.Routed),
		zap.Int("assigned", report.Assigned),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Duration("elapsed", time.Since(start)))
	return report, errors.Join(errs...)
}

// EscalationTick runs one overload and SLA breach pass
func (o *Orchestrator) EscalationTick(ctx context.Context) (*escalation.Report, error) {
	if o.escalator == nil {
		return &escalation.Report{}, nil
	}
	ctx, cancel := o.withDeadline(ctx)
	defer cancel()
	return o.escalator.Run(ctx)
}

func (o *Orchestrator) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.TickTimeout > 0 {
		return context.WithTimeout(ctx, o.cfg.TickTimeout)
	}
	return context.WithCancel(ctx)
}

func (o *Orchestrator) applyRules(ctx context.Context, now time.Time, report *TickReport) error {
	var errs []error
	for _, rule := range o.cfg.Rules {
		items, err := o.items.FindCandidates(ctx, port.CandidateQuery{
			Statuses:      []domainwf.Status{rule.From},
			ChangedBefore: now.Add(-rule.After),
			Limit:         o.cfg.BatchSize,
		})
		if err != nil {
			if ctx.Err() != nil {
				return errInterrupted
			}
			errs = append(errs, fmt.Errorf("failed to find %s candidates: %w", rule.From, err))
			continue
		}

		for _, item := range items {
			if ctx.Err() != nil {
				return errInterrupted
			}
			version := item.Version
			_, err := o.engine.Transition(ctx, wfapp.TransitionRequest{
				ItemID:          item.ID,
				Target:          rule.To,
				Actor:           domainwf.System(),
				ExpectedVersion: &version,
			})
			if o.record(item, "auto_transition", err, report) {
				report.Transitioned++
			}
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) routePending(ctx context.Context, now time.Time, report *TickReport) error {
	items, err := o.items.FindCandidates(ctx, port.CandidateQuery{
		Statuses:    []domainwf.Status{domainwf.StatusDigitized},
		WithoutTeam: true,
		Limit:       o.cfg.BatchSize,
	})
	if err != nil {
		if ctx.Err() != nil {
			return errInterrupted
		}
		return fmt.Errorf("failed to find routing candidates: %w", err)
	}

	for _, item := range items {
		if ctx.Err() != nil {
			return errInterrupted
		}
		res, err := o.router.RouteToTeam(ctx, item.ID, domainwf.System())
		if o.record(item, "route", err, report) && res.Changed {
			report.Routed++
		}
	}
	return nil
}

func (o *Orchestrator) assignPending(ctx context.Context, now time.Time, report *TickReport) error {
	items, err := o.items.FindCandidates(ctx, port.CandidateQuery{
		Statuses: []domainwf.Status{domainwf.StatusToAssign},
		Limit:    o.cfg.BatchSize,
	})
	if err != nil {
		if ctx.Err() != nil {
			return errInterrupted
		}
		return fmt.Errorf("failed to find assignment candidates: %w", err)
	}

	for _, item := range items {
		if ctx.Err() != nil {
			return errInterrupted
		}
		res, err := o.router.AssignAgent(ctx, item.ID, routing.AssignOptions{Actor: domainwf.System()})
		if o.record(item, "assign", err, report) && res.Changed {
			report.Assigned++
		}
	}
	return nil
}

// record logs the outcome of one item and reports whether it succeeded
func (o *Orchestrator) record(item *entity.WorkItem, action string, err error, report *TickReport) bool {
	if err == nil {
		return true
	}

	fields := []zap.Field{
		zap.String("item_id", item.ID),
		zap.String("action", action),
		zap.String("status", string(item.Status)),
		zap.Error(err),
	}
	switch {
	case wfapp.IsRetryable(err), errors.Is(err, domainwf.ErrInvalidTransition), errors.Is(err, domainwf.ErrItemClosed):
		// moved by someone else since the candidate query
		report.Skipped++
		o.logger.Debug("Item skipped", fields...)
	case errors.Is(err, domainwf.ErrCapacityExceeded):
		report.Skipped++
		o.logger.Info("Item waiting for capacity", fields...)
	default:
		report.Failed++
		o.logger.Warn("Scheduled action failed", fields...)
	}
	return false
}
