// Package notify turns published events into deliveries to people and roles.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/garyjia/bordereau-engine/internal/application/port"
	"github.com/garyjia/bordereau-engine/internal/domain/event"
	"go.uber.org/zap"
)

// Fanout delivers each event to its recipients and roles.
// Delivery failures are logged and never reach the publisher.
type Fanout struct {
	dispatcher port.NotificationDispatcher
	logger     *zap.Logger
}

// NewFanout creates a fanout over dispatcher
func NewFanout(dispatcher port.NotificationDispatcher, logger *zap.Logger) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{dispatcher: dispatcher, logger: logger.Named("notify")}
}

// Handle is a dispatcher.Handler
func (f *Fanout) Handle(ctx context.Context, evt *event.Event) error {
	if len(evt.Recipients) == 0 && len(evt.Roles) == 0 {
		return nil
	}

	delivered, failed := 0, 0
	for _, userID := range evt.Recipients {
		if err := f.dispatcher.Notify(ctx, userID, evt); err != nil {
			failed++
			f.logger.Warn("Failed to notify user",
				zap.String("user_id", userID),
				zap.String("event_type", evt.Type.String()),
				zap.String("item_id", evt.ItemID),
				zap.Error(err))
			continue
		}
		delivered++
	}
	for _, role := range evt.Roles {
		if err := f.dispatcher.BroadcastToRole(ctx, role, evt); err != nil {
			failed++
			f.logger.Warn("Failed to broadcast to role",
				zap.String("role", role),
				zap.String("event_type", evt.Type.String()),
				zap.String("item_id", evt.ItemID),
				zap.Error(err))
			continue
		}
		delivered++
	}

	f.logger.Debug("Event delivered",
		zap.String("event_id", evt.ID),
		zap.String("event_type", evt.Type.String()),
		zap.Int("delivered", delivered),
		zap.Int("failed", failed))
	return nil
}

// Multi sends through every dispatcher and joins their errors
type Multi []port.NotificationDispatcher

// Notify implements port.NotificationDispatcher
func (m Multi) Notify(ctx context.Context, userID string, evt *event.Event) error {
	var errs []error
	for _, d := range m {
		if err := d.Notify(ctx, userID, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BroadcastToRole implements port.NotificationDispatcher
func (m Multi) BroadcastToRole(ctx context.Context, role string, evt *event.Event) error {
	var errs []error
	for _, d := range m {
		if err := d.BroadcastToRole(ctx, role, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Message renders a one-line human readable text for evt
func Message(evt *event.Event) string {
	ref := evt.GetPayloadString("reference")
	if ref == "" {
		ref = evt.ItemID
	}

	switch evt.Type {
	case event.TypeItemCreated:
		return fmt.Sprintf("Bordereau %s received (SLA %d days)", ref, evt.GetPayloadInt("sla_days"))
	case event.TypeItemTransitioned:
		msg := fmt.Sprintf("Bordereau %s moved from %s to %s",
			ref, evt.GetPayloadString("from"), evt.GetPayloadString("to"))
		if reason := evt.GetPayloadString("reason"); reason != "" {
			msg += ": " + reason
		}
		return msg
	case event.TypeOverloadAlert:
		return fmt.Sprintf("%s %s is at %d/%d (threshold %v%%)",
			strings.ToLower(evt.GetPayloadString("owner_kind")), evt.GetPayloadString("owner_id"),
			evt.GetPayloadInt("load"), evt.GetPayloadInt("capacity"), evt.Payload["threshold"])
	case event.TypeSLABreach:
		return fmt.Sprintf("Bordereau %s is %d day(s) past its %d day SLA",
			ref, evt.GetPayloadInt("days_overdue"), evt.GetPayloadInt("sla_days"))
	case event.TypeCriticalSLABreach:
		return fmt.Sprintf("CRITICAL: bordereau %s is %d days past its %d day SLA",
			ref, evt.GetPayloadInt("days_overdue"), evt.GetPayloadInt("sla_days"))
	case event.TypeRoutingBlocked:
		msg := fmt.Sprintf("Bordereau %s cannot be routed: %s", ref, evt.GetPayloadString("reason"))
		if owner := evt.GetPayloadString("owner_id"); owner != "" {
			msg += fmt.Sprintf(" (team %s at %d/%d)", owner, evt.GetPayloadInt("load"), evt.GetPayloadInt("capacity"))
		}
		return msg
	case event.TypeOverflowEscalated:
		return fmt.Sprintf("Preferred team %s is full, bordereau %s rerouted",
			evt.GetPayloadString("team_id"), ref)
	case event.TypeCapacityOverridden:
		return fmt.Sprintf("Capacity override on bordereau %s by %s: %s",
			ref, evt.GetPayloadString("actor_id"), evt.GetPayloadString("reason"))
	default:
		return fmt.Sprintf("%s on %s", evt.Type, ref)
	}
}
