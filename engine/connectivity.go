package engine

import (
	"context"
	"sync"
	"time"

	"tillsync/backend"
	"tillsync/config"
)

// connectivityMonitor probes the backend on an interval and emits bus
// events on state transitions only. The first probe result is treated as a
// transition so subscribers learn the initial state.
type connectivityMonitor struct {
	remote   backend.Client
	bus      *EventBus
	interval time.Duration
	timeout  time.Duration

	mu     sync.RWMutex
	known  bool
	online bool

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func newConnectivityMonitor(remote backend.Client, bus *EventBus, cfg config.BackendConfig) *connectivityMonitor {
	interval := cfg.ProbeInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &connectivityMonitor{
		remote:   remote,
		bus:      bus,
		interval: interval,
		timeout:  timeout,
		stopCh:   make(chan struct{}),
	}
}

func (m *connectivityMonitor) Start() {
	m.wg.Add(1)
	go m.loop()
}

func (m *connectivityMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// Online returns the last probed state. False until the first probe lands.
func (m *connectivityMonitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.known && m.online
}

// CheckNow probes immediately, outside the ticker cadence. Used when a
// backend call fails mid-operation and the caller wants the state refreshed
// without waiting out the interval.
func (m *connectivityMonitor) CheckNow() bool {
	return m.probe()
}

func (m *connectivityMonitor) loop() {
	defer m.wg.Done()

	m.probe()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.probe()
		}
	}
}

func (m *connectivityMonitor) probe() bool {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	err := m.remote.Ping(ctx)
	cancel()

	online := err == nil
	m.mu.Lock()
	changed := !m.known || m.online != online
	m.known = true
	m.online = online
	m.mu.Unlock()

	if changed {
		if online {
			m.bus.Emit(Event{Type: EventWentOnline, Payload: ConnectivityEvent{Online: true}})
		} else {
			m.bus.Emit(Event{Type: EventWentOffline, Payload: ConnectivityEvent{Online: false, Error: err.Error()}})
		}
	}
	return online
}
