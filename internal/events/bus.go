package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nerrad567/warden-core/internal/auth"
)

// DefaultQueueSize is the bus buffer used when NewBus is given size <= 0.
const DefaultQueueSize = 256

// sinkTimeout bounds a single sink delivery so one slow consumer cannot
// stall the queue indefinitely.
const sinkTimeout = 5 * time.Second

// Sink consumes security events. Handle is called from the bus goroutine
// only, one event at a time.
type Sink interface {
	Name() string
	Handle(ctx context.Context, ev auth.SecurityEvent) error
}

// Bus is a bounded, single-consumer fan-out of security events.
// It implements auth.EventSink.
type Bus struct {
	queue  chan auth.SecurityEvent
	logger *slog.Logger

	mu     sync.RWMutex
	sinks  []Sink
	onDrop func(auth.SecurityEvent)
}

var _ auth.EventSink = (*Bus)(nil)

// NewBus creates a bus with the given queue size and initial sinks.
func NewBus(size int, logger *slog.Logger, sinks ...Sink) *Bus {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		queue:  make(chan auth.SecurityEvent, size),
		logger: logger,
		sinks:  sinks,
	}
}

// Add registers another sink. Safe to call while Run is active.
func (b *Bus) Add(s Sink) {
	b.mu.Lock()
	b.sinks = append(b.sinks, s)
	b.mu.Unlock()
}

// OnDrop sets a callback invoked for every event dropped on a full queue.
func (b *Bus) OnDrop(fn func(auth.SecurityEvent)) {
	b.mu.Lock()
	b.onDrop = fn
	b.mu.Unlock()
}

// Publish enqueues ev without blocking.
func (b *Bus) Publish(ev auth.SecurityEvent) {
	select {
	case b.queue <- ev:
	default:
		b.logger.Warn("security event queue full, dropping event",
			"kind", ev.Kind,
			"tenant_id", ev.TenantID,
		)
		b.mu.RLock()
		onDrop := b.onDrop
		b.mu.RUnlock()
		if onDrop != nil {
			onDrop(ev)
		}
	}
}

// Pending returns the number of queued events.
func (b *Bus) Pending() int {
	return len(b.queue)
}

// Run drains the queue until ctx is cancelled, then delivers whatever is
// still queued before returning.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case ev := <-b.queue:
			b.deliver(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-b.queue:
					b.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

// deliver hands ev to every sink. Sink failures are logged and do not stop
// delivery to the remaining sinks. Deliveries use a fresh context so
// queued events still reach the audit trail during shutdown.
func (b *Bus) deliver(ev auth.SecurityEvent) {
	b.mu.RLock()
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.RUnlock()

	for _, s := range sinks {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		err := safeHandle(ctx, s, ev)
		cancel()
		if err != nil {
			b.logger.Error("security event delivery failed",
				"sink", s.Name(),
				"kind", ev.Kind,
				"tenant_id", ev.TenantID,
				"error", err,
			)
		}
	}
}

func safeHandle(ctx context.Context, s Sink, ev auth.SecurityEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{sink: s.Name(), value: r}
		}
	}()
	return s.Handle(ctx, ev)
}
