package lan

import (
	"sync"
	"time"
)

// Debouncer coalesces rapid publishes of the same key into one, keeping the
// latest value. Cart updates fire on every keystroke at the register; only
// the final state within the window needs to reach the floor.
type Debouncer struct {
	window time.Duration
	fire   func(key string, value *Message)

	mu      sync.Mutex
	pending map[string]*Message
	timers  map[string]*time.Timer
	closed  bool
}

// NewDebouncer creates a debouncer that delivers through fire after window
// of quiet per key.
func NewDebouncer(window time.Duration, fire func(key string, value *Message)) *Debouncer {
	if window <= 0 {
		window = 100 * time.Millisecond
	}
	return &Debouncer{
		window:  window,
		fire:    fire,
		pending: make(map[string]*Message),
		timers:  make(map[string]*time.Timer),
	}
}

// Put schedules a value. A newer value for the same key before the window
// elapses replaces the older one and restarts the window.
func (d *Debouncer) Put(key string, value *Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.pending[key] = value
	if t, ok := d.timers[key]; ok {
		t.Reset(d.window)
		return
	}
	d.timers[key] = time.AfterFunc(d.window, func() { d.flush(key) })
}

func (d *Debouncer) flush(key string) {
	d.mu.Lock()
	value, ok := d.pending[key]
	delete(d.pending, key)
	delete(d.timers, key)
	d.mu.Unlock()
	if ok {
		d.fire(key, value)
	}
}

// Flush delivers any pending value for key immediately.
func (d *Debouncer) Flush(key string) {
	d.mu.Lock()
	if t, ok := d.timers[key]; ok {
		t.Stop()
	}
	d.mu.Unlock()
	d.flush(key)
}

// Cancel drops any pending value for key without delivering it.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[key]; ok {
		t.Stop()
	}
	delete(d.pending, key)
	delete(d.timers, key)
}

// Close stops all timers and drops pending values.
func (d *Debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for _, t := range d.timers {
		t.Stop()
	}
	d.pending = make(map[string]*Message)
	d.timers = make(map[string]*time.Timer)
}
