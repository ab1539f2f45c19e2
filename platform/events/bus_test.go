package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"clinicvoice_backend/platform/logger"
)

type testEvent struct {
	BaseEvent
	name string
}

func (e testEvent) EventName() string { return e.name }

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := NewInMemoryBus(logger.New("development"))

	var count atomic.Int32
	handler := HandlerFunc(func(ctx context.Context, event Event) error {
		count.Add(1)
		return nil
	})

	bus.Subscribe("call.ended", handler)
	bus.Subscribe("call.ended", handler)
	bus.Subscribe("call.started", handler)

	bus.Publish(context.Background(), testEvent{BaseEvent: NewBaseEvent(), name: "call.ended"})
	bus.Wait()

	if got := count.Load(); got != 2 {
		t.Errorf("expected 2 handler invocations, got %d", got)
	}
}

func TestPublishSyncReturnsFirstError(t *testing.T) {
	bus := NewInMemoryBus(logger.New("development"))

	wantErr := errors.New("boom")
	bus.Subscribe("x", HandlerFunc(func(ctx context.Context, event Event) error {
		return wantErr
	}))

	err := bus.PublishSync(context.Background(), testEvent{BaseEvent: NewBaseEvent(), name: "x"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected %v, got %v", wantErr, err)
	}
}

func TestPublishSurvivesHandlerError(t *testing.T) {
	bus := NewInMemoryBus(logger.New("development"))

	var ran atomic.Bool
	bus.Subscribe("y", HandlerFunc(func(ctx context.Context, event Event) error {
		return errors.New("ignored")
	}))
	bus.Subscribe("y", HandlerFunc(func(ctx context.Context, event Event) error {
		ran.Store(true)
		return nil
	}))

	bus.Publish(context.Background(), testEvent{BaseEvent: NewBaseEvent(), name: "y"})
	bus.Wait()

	if !ran.Load() {
		t.Error("second handler should run even when the first fails")
	}
}
