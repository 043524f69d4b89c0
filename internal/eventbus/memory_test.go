package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestMatchKey(t *testing.T) {
	cases := []struct {
		eventType string
		key       string
		want      bool
	}{
		{"task.created", "task.created", true},
		{"task.created", "task.*", true},
		{"task.status_changed", "task.*", true},
		{"payment.completed", "task.*", false},
		{"task.created", "task.cancelled", false},
		{"task.created", "payment.*", false},
		{"task.created", "*", false},
	}
	for _, c := range cases {
		if got := MatchKey(c.eventType, c.key); got != c.want {
			t.Errorf("MatchKey(%q, %q) = %v, want %v", c.eventType, c.key, got, c.want)
		}
	}
}

func TestNewDropsEmptyFields(t *testing.T) {
	event := New(EventTaskCreated, map[string]string{
		"task_id": "1",
		"geohash": "",
		"blank":   "   ",
	})
	if event.ID == "" {
		t.Fatal("event id not assigned")
	}
	if _, ok := event.Fields["geohash"]; ok {
		t.Error("empty field kept")
	}
	if _, ok := event.Fields["blank"]; ok {
		t.Error("whitespace field kept")
	}
	if event.Field("task_id") != "1" {
		t.Errorf("task_id = %q", event.Field("task_id"))
	}
	if event.Int64Field("missing") != 0 {
		t.Error("missing int field must read zero")
	}
}

func TestSyncDeliveryRoutesByKey(t *testing.T) {
	bus := NewMemoryBus(zap.NewNop(), WithSyncDelivery())

	var mu sync.Mutex
	got := map[string][]string{}
	record := func(queue string) Handler {
		return func(ctx context.Context, e Event) error {
			mu.Lock()
			defer mu.Unlock()
			got[queue] = append(got[queue], e.Type)
			return nil
		}
	}

	if err := bus.Subscribe("tasks", []string{"task.*"}, record("tasks")); err != nil {
		t.Fatalf("subscribe tasks: %v", err)
	}
	if err := bus.Subscribe("payments", []string{EventTaskAssigned, EventTaskCompleted}, record("payments")); err != nil {
		t.Fatalf("subscribe payments: %v", err)
	}

	for _, eventType := range []string{EventTaskCreated, EventTaskAssigned, EventPaymentCompleted} {
		if err := bus.Publish(context.Background(), New(eventType, nil)); err != nil {
			t.Fatalf("publish %s: %v", eventType, err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got["tasks"]) != 2 {
		t.Errorf("tasks queue saw %v", got["tasks"])
	}
	if len(got["payments"]) != 1 || got["payments"][0] != EventTaskAssigned {
		t.Errorf("payments queue saw %v", got["payments"])
	}
}

func TestRetryThenDeadLetter(t *testing.T) {
	bus := NewMemoryBus(zap.NewNop(),
		WithSyncDelivery(),
		WithMaxDeliveryAttempts(3),
		WithRetryBaseDelay(time.Millisecond),
	)

	var attempts int
	err := bus.Subscribe("flaky", []string{"task.*"}, func(ctx context.Context, e Event) error {
		attempts++
		return errors.New("handler down")
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	event := New(EventTaskCreated, map[string]string{"task_id": "7"})
	if err := bus.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
	dead := bus.DeadLetters("flaky")
	if len(dead) != 1 || dead[0].ID != event.ID {
		t.Fatalf("dead letters = %v", dead)
	}
}

func TestRecoveryBeforeExhaustionIsNotDeadLettered(t *testing.T) {
	bus := NewMemoryBus(zap.NewNop(),
		WithSyncDelivery(),
		WithMaxDeliveryAttempts(3),
		WithRetryBaseDelay(time.Millisecond),
	)

	var attempts int
	_ = bus.Subscribe("recovering", []string{"task.*"}, func(ctx context.Context, e Event) error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	})

	if err := bus.Publish(context.Background(), New(EventTaskCreated, nil)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
	if dead := bus.DeadLetters("recovering"); len(dead) != 0 {
		t.Fatalf("dead letters = %v", dead)
	}
}

func TestSubscribeValidation(t *testing.T) {
	bus := NewMemoryBus(zap.NewNop(), WithSyncDelivery())
	handler := func(ctx context.Context, e Event) error { return nil }

	if err := bus.Subscribe("", []string{"task.*"}, handler); !errors.Is(err, ErrInvalidQueue) {
		t.Errorf("empty queue: err = %v", err)
	}
	if err := bus.Subscribe("q", nil, handler); !errors.Is(err, ErrNoBindingKeys) {
		t.Errorf("no keys: err = %v", err)
	}
	if err := bus.Subscribe("q", []string{"task.*"}, handler); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Subscribe("q", []string{"task.*"}, handler); !errors.Is(err, ErrQueueExists) {
		t.Errorf("duplicate queue: err = %v", err)
	}
}

func TestAsyncDeliveryAndClose(t *testing.T) {
	bus := NewMemoryBus(zap.NewNop())

	done := make(chan Event, 1)
	if err := bus.Subscribe("async", []string{EventTaskCreated}, func(ctx context.Context, e Event) error {
		done <- e
		return nil
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	event := New(EventTaskCreated, nil)
	if err := bus.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-done:
		if got.ID != event.ID {
			t.Fatalf("delivered %s, want %s", got.ID, event.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event never delivered")
	}

	bus.Close()
	if err := bus.Publish(context.Background(), New(EventTaskCreated, nil)); !errors.Is(err, ErrBusClosed) {
		t.Fatalf("publish after close: err = %v", err)
	}
}
