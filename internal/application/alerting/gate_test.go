package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/garyjia/bordereau-engine/internal/domain/entity"
	"github.com/garyjia/bordereau-engine/internal/testutil/fixture"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_CooldownAndReset(t *testing.T) {
	env := fixture.New(t)
	gate := NewGate(env.Alerts, 4*time.Hour)
	ctx := context.Background()
	now := fixture.Start

	fire := func(at time.Time) bool {
		ok, err := gate.Fire(ctx, entity.AlertAgentOverload, "ag-1", at)
		require.NoError(t, err)
		return ok
	}

	assert.True(t, fire(now))
	assert.False(t, fire(now.Add(time.Hour)))
	assert.False(t, fire(now.Add(3*time.Hour)))
	assert.True(t, fire(now.Add(4*time.Hour)))
	assert.False(t, fire(now.Add(5*time.Hour)))

	require.NoError(t, gate.Clear(ctx, entity.AlertAgentOverload, "ag-1"))
	assert.True(t, fire(now.Add(5*time.Hour)))

	// other subjects are independent
	ok, err := gate.Fire(ctx, entity.AlertAgentOverload, "ag-2", now.Add(5*time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGate_ZeroCooldownFiresOncePerRise(t *testing.T) {
	env := fixture.New(t)
	gate := NewGate(env.Alerts, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := gate.Fire(ctx, entity.AlertTeamOverload, "north", fixture.Start.Add(time.Duration(i)*24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, i == 0, ok)
	}

	require.NoError(t, gate.Clear(ctx, entity.AlertTeamOverload, "unknown"))
}
