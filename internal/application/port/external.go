package port

import (
	"context"

	"github.com/garyjia/bordereau-engine/internal/domain/event"
)

// NotificationDispatcher delivers events to people
type NotificationDispatcher interface {
	Notify(ctx context.Context, userID string, evt *event.Event) error
	BroadcastToRole(ctx context.Context, role string, evt *event.Event) error
}

// EventPublisher publishes domain events to in-process subscribers
type EventPublisher interface {
	Publish(ctx context.Context, evt *event.Event) error
}
