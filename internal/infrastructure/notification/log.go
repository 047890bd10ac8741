// Package notification holds the NotificationDispatcher that writes to the log.
package notification

import (
	"context"

	"github.com/garyjia/bordereau-engine/internal/application/notify"
	"github.com/garyjia/bordereau-engine/internal/domain/event"
	"go.uber.org/zap"
)

// LogNotifier writes every notification as a structured log line
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log notifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notification")}
}

// Notify implements port.NotificationDispatcher
func (n *LogNotifier) Notify(ctx context.Context, userID string, evt *event.Event) error {
	n.logger.Info(notify.Message(evt), append(fields(evt), zap.String("user_id", userID))...)
	return nil
}

// BroadcastToRole implements port.NotificationDispatcher
func (n *LogNotifier) BroadcastToRole(ctx context.Context, role string, evt *event.Event) error {
	n.logger.Info(notify.Message(evt), append(fields(evt), zap.String("role", role))...)
	return nil
}

func fields(evt *event.Event) []zap.Field {
	return []zap.Field{
		zap.String("event_id", evt.ID),
		zap.String("event_type", evt.Type.String()),
		zap.String("item_id", evt.ItemID),
		zap.Time("event_time", evt.Timestamp),
	}
}
