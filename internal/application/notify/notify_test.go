package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/garyjia/bordereau-engine/internal/domain/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type delivery struct {
	to   string
	kind string
}

type fakeDispatcher struct {
	sent    []delivery
	failFor map[string]bool
}

func (f *fakeDispatcher) Notify(ctx context.Context, userID string, evt *event.Event) error {
	if f.failFor[userID] {
		return errors.New("unreachable")
	}
	f.sent = append(f.sent, delivery{to: userID, kind: "user"})
	return nil
}

func (f *fakeDispatcher) BroadcastToRole(ctx context.Context, role string, evt *event.Event) error {
	if f.failFor[role] {
		return errors.New("unreachable")
	}
	f.sent = append(f.sent, delivery{to: role, kind: "role"})
	return nil
}

var at = time.Date(2024, 3, 9, 8, 0, 0, 0, time.UTC)

func TestFanout_DeliversToRecipientsAndRoles(t *testing.T) {
	d := &fakeDispatcher{failFor: map[string]bool{"ag-gone": true}}
	f := NewFanout(d, nil)

	evt := event.New(event.TypeSLABreach, "w", at, nil).
		To("ag-1", "ag-gone", "lead-n").
		ToRole("ADMIN")

	require.NoError(t, f.Handle(context.Background(), evt))
	assert.Equal(t, []delivery{
		{to: "ag-1", kind: "user"},
		{to: "lead-n", kind: "user"},
		{to: "ADMIN", kind: "role"},
	}, d.sent)
}

func TestFanout_IgnoresUnaddressedEvents(t *testing.T) {
	d := &fakeDispatcher{}
	f := NewFanout(d, nil)
	require.NoError(t, f.Handle(context.Background(), event.New(event.TypeItemCreated, "w", at, nil)))
	assert.Empty(t, d.sent)
}

func TestMulti_JoinsErrors(t *testing.T) {
	ok := &fakeDispatcher{}
	bad := &fakeDispatcher{failFor: map[string]bool{"ag-1": true, "ADMIN": true}}
	m := Multi{ok, bad}
	evt := event.New(event.TypeSLABreach, "w", at, nil)

	assert.Error(t, m.Notify(context.Background(), "ag-1", evt))
	assert.Error(t, m.BroadcastToRole(context.Background(), "ADMIN", evt))
	assert.Len(t, ok.sent, 2)
}

func TestMessage(t *testing.T) {
	tests := []struct {
		name string
		evt  *event.Event
		want string
	}{
		{
			name: "breach",
			evt: event.New(event.TypeSLABreach, "w", at, map[string]any{
				"reference": "BDX-1", "days_overdue": 2, "sla_days": 5,
			}),
			want: "Bordereau BDX-1 is 2 day(s) past its 5 day SLA",
		},
		{
			name: "transition with reason",
			evt: event.New(event.TypeItemTransitioned, "w", at, map[string]any{
				"from": "IN_PROGRESS", "to": "ON_HOLD", "reason": "missing statement",
			}),
			want: "Bordereau w moved from IN_PROGRESS to ON_HOLD: missing statement",
		},
		{
			name: "overload",
			evt: event.New(event.TypeOverloadAlert, "", at, map[string]any{
				"owner_kind": "AGENT", "owner_id": "ag-1", "load": 9, "capacity": 10, "threshold": 90.0,
			}),
			want: "agent ag-1 is at 9/10 (threshold 90%)",
		},
		{
			name: "routing blocked by a full team",
			evt: event.New(event.TypeRoutingBlocked, "w", at, map[string]any{
				"reason": "team north is full and blocks overflow", "owner_id": "north", "load": 4, "capacity": 4,
			}),
			want: "Bordereau w cannot be routed: team north is full and blocks overflow (team north at 4/4)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Message(tt.evt))
		})
	}
}
