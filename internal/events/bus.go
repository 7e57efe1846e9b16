package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

type subscription struct {
	name    string
	handler HandlerFunc
}

// EventBus is an asynchronous publish-subscribe hub. Sessions publish on it
// from their own goroutines; subscribers never block a session.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[EventType][]subscription
	stopped bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewEventBus creates a new EventBus instance.
func NewEventBus() *EventBus {
	return &EventBus{
		subs:   make(map[EventType][]subscription),
		stopCh: make(chan struct{}),
	}
}

// Subscribe registers handler for eventType under name. Names are used in
// logs and by Unsubscribe.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subs[eventType] = append(eb.subs[eventType], subscription{name: name, handler: handler})
	log.Debug().Str("event", string(eventType)).Str("handler", name).Msg("subscribed to event")
}

// SubscribeAll registers handler for every listed event type.
func (eb *EventBus) SubscribeAll(types []EventType, name string, handler HandlerFunc) {
	for _, t := range types {
		eb.Subscribe(t, name, handler)
	}
}

// Unsubscribe removes a named handler from a specific event type.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	current := eb.subs[eventType]
	kept := current[:0:0]
	for _, s := range current {
		if s.name != name {
			kept = append(kept, s)
		}
	}
	eb.subs[eventType] = kept
}

// snapshot returns the handlers for t, or nil once the bus is stopped.
// Tracked snapshots are counted in the stop wait group before the lock is
// released.
func (eb *EventBus) snapshot(t EventType, tracked bool) []subscription {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.stopped {
		return nil
	}
	subs := eb.subs[t]
	if len(subs) == 0 {
		return nil
	}
	out := make([]subscription, len(subs))
	copy(out, subs)
	if tracked {
		eb.wg.Add(len(out))
	}
	return out
}

// invoke runs one handler, converting a panic into a logged failure.
func invoke(ctx context.Context, s subscription, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(event.Type)).
				Str("handler", s.name).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()

	err = s.handler(ctx, event)
	if err != nil {
		log.Error().
			Err(err).
			Str("event", string(event.Type)).
			Str("handler", s.name).
			Msg("handler returned error")
	}
	return err
}

// Emit publishes an event to all subscribed handlers asynchronously.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	subs := eb.snapshot(event.Type, true)
	if subs == nil {
		return
	}

	log.Trace().
		Str("event", string(event.Type)).
		Str("source", event.Source).
		Int("handlers", len(subs)).
		Msg("emitting event")

	for _, s := range subs {
		go func(s subscription) {
			defer eb.wg.Done()
			invoke(ctx, s, event)
		}(s)
	}
}

// EmitSync publishes an event and waits for all handlers to complete.
// Returns the first error encountered, if any.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	subs := eb.snapshot(event.Type, false)
	if subs == nil {
		return nil
	}

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	wg.Add(len(subs))
	for _, s := range subs {
		go func(s subscription) {
			defer wg.Done()
			if err := invoke(ctx, s, event); err != nil {
				once.Do(func() { firstErr = err })
			}
		}(s)
	}
	wg.Wait()
	return firstErr
}

// Stop rejects further events and waits for in-flight handlers.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.stopped = true
	close(eb.stopCh)
	eb.mu.Unlock()

	eb.wg.Wait()
	log.Info().Msg("event bus stopped")
}

// StopCh returns a channel that is closed when the EventBus is stopped.
func (eb *EventBus) StopCh() <-chan struct{} {
	return eb.stopCh
}

// HandlerCount returns the number of handlers registered for a specific event type.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subs[eventType])
}
