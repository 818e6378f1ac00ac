package engine

import (
	"sort"
	"sync"
	"time"
)

// SubscriberID identifies one EventBus registration; Unsubscribe takes it
// back.
type SubscriberID uint64

// SubscriberFunc receives each event a registration matches.
type SubscriberFunc func(Event)

// registration pairs a handler with its type filter. A nil filter means the
// handler sees everything; the www SSE bridge subscribes that way, while the
// session and queue wiring filter to the few types they act on.
type registration struct {
	fn    SubscriberFunc
	types []EventType
}

func (r *registration) matches(t EventType) bool {
	if r.types == nil {
		return true
	}
	for _, want := range r.types {
		if want == t {
			return true
		}
	}
	return false
}

// EventBus fans engine events out to registered handlers: connectivity
// transitions, queue lifecycle, conflicts, cache refreshes, LAN traffic.
// Dispatch is synchronous on the emitting goroutine in registration order,
// so handlers that need the network hand off to their own goroutine.
type EventBus struct {
	mu     sync.RWMutex
	regs   map[SubscriberID]*registration
	lastID SubscriberID
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{regs: make(map[SubscriberID]*registration)}
}

// Subscribe registers a handler for every event type.
func (eb *EventBus) Subscribe(fn SubscriberFunc) SubscriberID {
	return eb.register(&registration{fn: fn})
}

// SubscribeTypes registers a handler for the listed event types only.
func (eb *EventBus) SubscribeTypes(fn SubscriberFunc, types ...EventType) SubscriberID {
	return eb.register(&registration{fn: fn, types: types})
}

func (eb *EventBus) register(reg *registration) SubscriberID {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.lastID++
	eb.regs[eb.lastID] = reg
	return eb.lastID
}

// Unsubscribe drops a registration. Unknown IDs are a no-op.
func (eb *EventBus) Unsubscribe(id SubscriberID) {
	eb.mu.Lock()
	delete(eb.regs, id)
	eb.mu.Unlock()
}

// Emit stamps the event time if unset and delivers to every matching
// handler. IDs are handed out in order, so dispatching by ascending ID
// preserves registration order. The target list is snapshotted under the
// read lock so a handler can unsubscribe itself mid-dispatch.
func (eb *EventBus) Emit(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	eb.mu.RLock()
	ids := make([]SubscriberID, 0, len(eb.regs))
	for id, reg := range eb.regs {
		if reg.matches(evt.Type) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	targets := make([]SubscriberFunc, len(ids))
	for i, id := range ids {
		targets[i] = eb.regs[id].fn
	}
	eb.mu.RUnlock()

	for _, fn := range targets {
		fn(evt)
	}
}
