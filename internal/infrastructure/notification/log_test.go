package notification

import (
	"context"
	"testing"
	"time"

	"github.com/garyjia/bordereau-engine/internal/domain/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := NewLogNotifier(zap.New(core))
	evt := event.New(event.TypeRoutingBlocked, "w", time.Now(), map[string]any{"reason": "capacity exceeded"})

	require.NoError(t, n.Notify(context.Background(), "lead-n", evt))
	require.NoError(t, n.BroadcastToRole(context.Background(), "TEAM_LEAD", evt))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "Bordereau w cannot be routed: capacity exceeded", entries[0].Message)
	assert.Equal(t, "lead-n", entries[0].ContextMap()["user_id"])
	assert.Equal(t, "TEAM_LEAD", entries[1].ContextMap()["role"])
	assert.Equal(t, "routing.blocked", entries[1].ContextMap()["event_type"])
}
