package event

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type Listener interface {
	Handle(ctx context.Context, e Event) error
}

type ListenerFunc func(ctx context.Context, e Event) error

func (f ListenerFunc) Handle(ctx context.Context, e Event) error { return f(ctx, e) }

// Bus delivers events to every subscribed listener, in subscription order. Events reaching the
// bus are already committed, so a failing listener is logged and never stops delivery.
type Bus struct {
	logger    *zap.Logger
	mu        sync.RWMutex
	listeners []Listener
}

func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{logger: logger.With(zap.String("component", "events"))}
}

func (b *Bus) Subscribe(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

func (b *Bus) Fire(ctx context.Context, e Event) {
	b.mu.RLock()
	listeners := append([]Listener(nil), b.listeners...)
	b.mu.RUnlock()

	for _, l := range listeners {
		if err := l.Handle(ctx, e); err != nil {
			b.logger.Warn("listener failed",
				zap.String("event", e.Name()),
				zap.Stringer("event_id", e.Header().ID),
				zap.Error(err))
		}
	}
}

// Recorder keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Handle(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.events))
	for _, e := range r.events {
		names = append(names, e.Name())
	}
	return names
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
