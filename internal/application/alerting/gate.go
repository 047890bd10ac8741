// Package alerting deduplicates repeated alert conditions through the alert store.
package alerting

import (
	"context"
	"errors"
	"time"

	"github.com/garyjia/bordereau-engine/internal/application/port"
	"github.com/garyjia/bordereau-engine/internal/domain/entity"
	"github.com/garyjia/bordereau-engine/internal/domain/workflow"
)

// Gate decides whether a raised condition should alert again
type Gate struct {
	alerts   port.AlertRepository
	cooldown time.Duration
}

// NewGate creates a gate. A zero cooldown alerts once per rise.
func NewGate(alerts port.AlertRepository, cooldown time.Duration) *Gate {
	return &Gate{alerts: alerts, cooldown: cooldown}
}

// Fire records that the condition holds at now and reports whether an alert
// is due: on the first rise, or when the cooldown has elapsed since the last one.
// Losing a race against another writer reports false.
func (g *Gate) Fire(ctx context.Context, kind entity.AlertKind, subjectID string, now time.Time) (bool, error) {
	st, err := g.alerts.Get(ctx, kind, subjectID)
	switch {
	case errors.Is(err, workflow.ErrNotFound):
		st = &entity.AlertState{Kind: kind, SubjectID: subjectID}
	case err != nil:
		return false, err
	case st.Active && (g.cooldown <= 0 || now.Sub(st.LastAlertedAt) < g.cooldown):
		return false, nil
	}

	st.Active = true
	st.LastAlertedAt = now
	if err := g.alerts.Save(ctx, st); err != nil {
		if errors.Is(err, workflow.ErrStaleState) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Clear marks the condition as gone so the next rise alerts immediately
func (g *Gate) Clear(ctx context.Context, kind entity.AlertKind, subjectID string) error {
	st, err := g.alerts.Get(ctx, kind, subjectID)
	if errors.Is(err, workflow.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !st.Active {
		return nil
	}
	st.Active = false
	if err := g.alerts.Save(ctx, st); err != nil && !errors.Is(err, workflow.ErrStaleState) {
		return err
	}
	return nil
}
