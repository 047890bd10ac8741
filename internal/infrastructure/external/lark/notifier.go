package lark

import (
	"context"
	"errors"
	"fmt"

	"github.com/garyjia/bordereau-engine/internal/application/notify"
	"github.com/garyjia/bordereau-engine/internal/application/port"
	"github.com/garyjia/bordereau-engine/internal/domain/entity"
	"github.com/garyjia/bordereau-engine/internal/domain/event"
	domainwf "github.com/garyjia/bordereau-engine/internal/domain/workflow"
	"go.uber.org/zap"
)

// ErrNoContact is returned when a user has no Lark contact configured
var ErrNoContact = errors.New("no lark contact")

// Notifier implements port.NotificationDispatcher over Lark IM.
// User ids are resolved to Lark contacts through the roster.
type Notifier struct {
	sender Sender
	roster port.RosterRepository
	logger *zap.Logger
}

// NewNotifier creates a Lark notifier
func NewNotifier(sender Sender, roster port.RosterRepository, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{sender: sender, roster: roster, logger: logger.Named("lark")}
}

// Notify sends evt to one user
func (n *Notifier) Notify(ctx context.Context, userID string, evt *event.Event) error {
	agent, err := n.roster.GetAgent(ctx, userID)
	if err != nil {
		if errors.Is(err, domainwf.ErrNotFound) {
			return fmt.Errorf("%w for %s", ErrNoContact, userID)
		}
		return fmt.Errorf("failed to resolve %s: %w", userID, err)
	}
	return n.send(ctx, agent, evt)
}

// BroadcastToRole sends evt to every active member of role with a contact
func (n *Notifier) BroadcastToRole(ctx context.Context, role string, evt *event.Event) error {
	agents, err := n.roster.ListAgentsByRole(ctx, domainwf.Role(role))
	if err != nil {
		return fmt.Errorf("failed to list %s members: %w", role, err)
	}

	var errs []error
	sent := 0
	for _, agent := range agents {
		if !agent.Active || agent.ContactID == "" {
			continue
		}
		if err := n.send(ctx, agent, evt); err != nil {
			errs = append(errs, err)
			continue
		}
		sent++
	}
	if sent == 0 && len(errs) == 0 {
		n.logger.Warn("Nobody to notify for role",
			zap.String("role", role),
			zap.String("event_type", evt.Type.String()))
	}
	return errors.Join(errs...)
}

func (n *Notifier) send(ctx context.Context, agent *entity.Agent, evt *event.Event) error {
	if agent.ContactID == "" {
		return fmt.Errorf("%w for %s", ErrNoContact, agent.ID)
	}
	if _, err := n.sender.SendText(ctx, agent.ContactID, notify.Message(evt)); err != nil {
		return fmt.Errorf("failed to notify %s: %w", agent.ID, err)
	}
	return nil
}
