package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func newTestBus(retries int) *ChannelEventBus {
	return NewChannelEventBus(
		WithBufferSize(4),
		WithWorkerCount(1),
		WithRetries(retries, 5*time.Millisecond),
	)
}

func TestChannelEventBus_DeliversSubscribedType(t *testing.T) {
	eb := newTestBus(0)
	defer eb.Close()

	got := make(chan Event, 1)
	if _, err := eb.Subscribe([]EventType{EventPlanningSucceeded}, func(_ context.Context, e Event) error {
		got <- e
		return nil
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	evt := NewEvent(EventPlanningSucceeded, "plan", "test", nil).WithMetadata("steps", 3)
	if err := eb.Publish(context.Background(), evt); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case e := <-got:
		if e.Type() != EventPlanningSucceeded {
			t.Errorf("type = %s", e.Type())
		}
		if n, ok := MetaFloat(e, "steps"); !ok || n != 3 {
			t.Errorf("steps metadata = %v, %v", n, ok)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for handler")
	}
}

func TestChannelEventBus_IgnoresOtherTypes(t *testing.T) {
	eb := newTestBus(0)
	defer eb.Close()

	got := make(chan struct{}, 1)
	if _, err := eb.Subscribe([]EventType{EventPlanningFailed}, func(context.Context, Event) error {
		got <- struct{}{}
		return nil
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := eb.Publish(context.Background(), NewEvent(EventPlanningStarted, nil, "test", nil)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-got:
		t.Error("handler received an event it did not subscribe to")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannelEventBus_RetriesFailingHandler(t *testing.T) {
	eb := newTestBus(2)
	defer eb.Close()

	var mu sync.Mutex
	calls := 0
	done := make(chan struct{})
	if _, err := eb.SubscribeAll(func(context.Context, Event) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 2 {
			return context.DeadlineExceeded
		}
		close(done)
		return nil
	}); err != nil {
		t.Fatalf("SubscribeAll: %v", err)
	}
	if err := eb.Publish(context.Background(), NewEvent(EventFallbackUsed, nil, "test", nil)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler was not retried")
	}
}

func TestChannelEventBus_CancelledContext(t *testing.T) {
	eb := newTestBus(0)
	defer eb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := eb.Publish(ctx, NewEvent(EventPlanningStarted, nil, "test", nil)); err == nil {
		t.Error("expected error publishing with a cancelled context")
	}
}

func TestChannelEventBus_Unsubscribe(t *testing.T) {
	eb := newTestBus(0)
	defer eb.Close()

	got := make(chan struct{}, 1)
	id, err := eb.SubscribeAll(func(context.Context, Event) error {
		got <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("SubscribeAll: %v", err)
	}
	if err := eb.Unsubscribe(id); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if err := eb.Publish(context.Background(), NewEvent(EventPlanningStarted, nil, "test", nil)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case <-got:
		t.Error("unsubscribed handler was called")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannelEventBus_PublishAfterClose(t *testing.T) {
	eb := newTestBus(0)
	if err := eb.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := eb.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := eb.Publish(context.Background(), NewEvent(EventPlanningStarted, nil, "test", nil)); err == nil {
		t.Error("expected error after close")
	}
	if _, err := eb.SubscribeAll(func(context.Context, Event) error { return nil }); err == nil {
		t.Error("expected subscribe error after close")
	}
}
