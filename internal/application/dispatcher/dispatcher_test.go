package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/garyjia/bordereau-engine/internal/domain/event"
)

// mockLogger implements Logger for testing
type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, fmt.Sprint(append([]interface{}{msg}, keysAndValues...)...))
}

func (m *mockLogger) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.errors)
}

func newEvent(t event.Type) *event.Event {
	return event.New(t, "item-1", time.Now(), nil)
}

func TestDispatch(t *testing.T) {
	t.Run("dispatches to typed handlers in order", func(t *testing.T) {
		d := NewDispatcher()
		var order []string
		d.SubscribeNamed(event.TypeItemTransitioned, "first", func(ctx context.Context, evt *event.Event) error {
			order = append(order, "first")
			return nil
		})
		d.SubscribeNamed(event.TypeItemTransitioned, "second", func(ctx context.Context, evt *event.Event) error {
			order = append(order, "second")
			return nil
		})

		if err := d.Dispatch(context.Background(), newEvent(event.TypeItemTransitioned)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(order) != 2 || order[0] != "first" || order[1] != "second" {
			t.Errorf("unexpected order %v", order)
		}
	})

	t.Run("catch-all handlers receive every type", func(t *testing.T) {
		d := NewDispatcher()
		var seen []event.Type
		d.SubscribeAll("notify", func(ctx context.Context, evt *event.Event) error {
			seen = append(seen, evt.Type)
			return nil
		})

		_ = d.Dispatch(context.Background(), newEvent(event.TypeSLABreach))
		_ = d.Dispatch(context.Background(), newEvent(event.TypeOverloadAlert))

		if len(seen) != 2 {
			t.Fatalf("expected 2 events, got %d", len(seen))
		}
	})

	t.Run("failing handler does not stop the others", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))
		errBoom := errors.New("boom")
		var ran atomic.Bool

		d.SubscribeNamed(event.TypeSLABreach, "failing", func(ctx context.Context, evt *event.Event) error {
			return errBoom
		})
		d.SubscribeNamed(event.TypeSLABreach, "ok", func(ctx context.Context, evt *event.Event) error {
			ran.Store(true)
			return nil
		})

		err := d.Dispatch(context.Background(), newEvent(event.TypeSLABreach))
		if !errors.Is(err, errBoom) {
			t.Errorf("expected wrapped boom, got %v", err)
		}
		if !ran.Load() {
			t.Error("second handler did not run")
		}
		if logger.ErrorCount() != 1 {
			t.Errorf("expected 1 error log, got %d", logger.ErrorCount())
		}
	})

	t.Run("recovers from handler panic", func(t *testing.T) {
		d := NewDispatcher()
		d.SubscribeNamed(event.TypeSLABreach, "panicky", func(ctx context.Context, evt *event.Event) error {
			panic("kaboom")
		})

		err := d.Dispatch(context.Background(), newEvent(event.TypeSLABreach))
		if err == nil {
			t.Fatal("expected error from panicking handler")
		}
	})

	t.Run("returns error when closed", func(t *testing.T) {
		d := NewDispatcher()
		_ = d.Close()
		if err := d.Dispatch(context.Background(), newEvent(event.TypeSLABreach)); err == nil {
			t.Error("expected error after close")
		}
	})
}

func TestUnsubscribe(t *testing.T) {
	d := NewDispatcher()
	var calls atomic.Int32
	d.SubscribeNamed(event.TypeItemCreated, "a", func(ctx context.Context, evt *event.Event) error {
		calls.Add(1)
		return nil
	})
	d.SubscribeNamed(event.TypeItemCreated, "b", func(ctx context.Context, evt *event.Event) error {
		calls.Add(10)
		return nil
	})

	d.Unsubscribe(event.TypeItemCreated, "a")
	_ = d.Dispatch(context.Background(), newEvent(event.TypeItemCreated))

	if calls.Load() != 10 {
		t.Errorf("expected only handler b to run, got %d", calls.Load())
	}
	if got := d.ListHandlers(event.TypeItemCreated); len(got) != 1 || got[0].Name != "b" {
		t.Errorf("unexpected handlers %+v", got)
	}
}

func TestPublishAsync(t *testing.T) {
	d := NewDispatcher(WithAsyncPublish())
	var calls atomic.Int32
	d.SubscribeAll("counter", func(ctx context.Context, evt *event.Event) error {
		time.Sleep(10 * time.Millisecond)
		calls.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 3; i++ {
		if err := d.Publish(ctx, newEvent(event.TypeOverloadAlert)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	cancel()

	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 handled events after close, got %d", calls.Load())
	}
	if err := d.Close(); err == nil {
		t.Error("expected error on double close")
	}
}
