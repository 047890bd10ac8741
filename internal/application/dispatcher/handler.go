package dispatcher

import (
	"context"

	"github.com/garyjia/bordereau-engine/internal/domain/event"
)

// Handler processes domain events
type Handler func(ctx context.Context, evt *event.Event) error

// HandlerInfo contains handler metadata for debugging
type HandlerInfo struct {
	Name      string
	EventType event.Type
	Handler   Handler
}

// anyType is the subscription key used by SubscribeAll
const anyType event.Type = "*"
