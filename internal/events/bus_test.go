package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/warden-core/internal/auth"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// collectSink records the events it receives.
type collectSink struct {
	name string
	err  error

	mu     sync.Mutex
	events []auth.SecurityEvent
}

func (s *collectSink) Name() string { return s.name }

func (s *collectSink) Handle(_ context.Context, ev auth.SecurityEvent) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return s.err
}

func (s *collectSink) kinds() []auth.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.EventKind, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Kind
	}
	return out
}

func event(kind auth.EventKind) auth.SecurityEvent {
	return auth.SecurityEvent{Kind: kind, TenantID: "t1", AccountID: "acc-1", OccurredAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func TestBus_DeliversInOrderToEverySink(t *testing.T) {
	a := &collectSink{name: "a"}
	b := &collectSink{name: "b"}
	bus := NewBus(8, discardLogger(), a)
	bus.Add(b)

	bus.Publish(event(auth.EventLoginFailed))
	bus.Publish(event(auth.EventAccountLocked))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Run(ctx) // cancelled context: drains what is queued and returns

	want := []auth.EventKind{auth.EventLoginFailed, auth.EventAccountLocked}
	for _, s := range []*collectSink{a, b} {
		got := s.kinds()
		if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
			t.Errorf("sink %s got %v, want %v", s.name, got, want)
		}
	}
	if bus.Pending() != 0 {
		t.Errorf("Pending() = %d after drain, want 0", bus.Pending())
	}
}

func TestBus_FullQueueDrops(t *testing.T) {
	bus := NewBus(2, discardLogger())

	var dropped []auth.EventKind
	bus.OnDrop(func(ev auth.SecurityEvent) { dropped = append(dropped, ev.Kind) })

	bus.Publish(event(auth.EventLoginFailed))
	bus.Publish(event(auth.EventLoginFailed))
	bus.Publish(event(auth.EventAccountLocked)) // no consumer running: queue is full

	if bus.Pending() != 2 {
		t.Errorf("Pending() = %d, want 2", bus.Pending())
	}
	if len(dropped) != 1 || dropped[0] != auth.EventAccountLocked {
		t.Errorf("dropped = %v, want [account.locked]", dropped)
	}
}

func TestBus_PublishNeverBlocks(t *testing.T) {
	bus := NewBus(1, discardLogger())

	done := make(chan struct{})
	go func() {
		for range 100 {
			bus.Publish(event(auth.EventLoginFailed))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked with no consumer")
	}
}

func TestBus_SinkFailureDoesNotStopOthers(t *testing.T) {
	failing := &collectSink{name: "failing", err: errors.New("disk full")}
	panicking := SinkFunc{SinkName: "panicking", Fn: func(context.Context, auth.SecurityEvent) error { panic("boom") }}
	healthy := &collectSink{name: "healthy"}

	bus := NewBus(4, discardLogger(), failing, panicking, healthy)
	bus.Publish(event(auth.EventPasswordChanged))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Run(ctx)

	if got := healthy.kinds(); len(got) != 1 {
		t.Errorf("healthy sink got %v, want one event", got)
	}
}

func TestBus_RunDeliversUntilCancelled(t *testing.T) {
	sink := &collectSink{name: "s"}
	bus := NewBus(16, discardLogger(), sink)

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		bus.Run(ctx)
		close(finished)
	}()

	for range 10 {
		bus.Publish(event(auth.EventLoginSucceeded))
	}
	cancel()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if got := len(sink.kinds()); got != 10 {
		t.Errorf("delivered %d events, want 10", got)
	}
}

func TestSafeHandle_Panic(t *testing.T) {
	err := safeHandle(context.Background(), SinkFunc{SinkName: "p", Fn: func(context.Context, auth.SecurityEvent) error {
		panic("bad")
	}}, event(auth.EventLogout))

	var pe *panicError
	if !errors.As(err, &pe) || pe.sink != "p" {
		t.Errorf("safeHandle() error = %v, want panicError from sink p", err)
	}
}
