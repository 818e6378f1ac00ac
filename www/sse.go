package www

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"tillsync/engine"
)

// SSEEvent is the typed envelope sent to SSE clients.
type SSEEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type sseClient struct {
	events chan SSEEvent
}

// EventHub manages SSE client connections and broadcasts.
type EventHub struct {
	mu        sync.RWMutex
	clients   map[*sseClient]struct{}
	broadcast chan SSEEvent
	stopChan  chan struct{}
}

// NewEventHub creates a new EventHub.
func NewEventHub() *EventHub {
	return &EventHub{
		clients:   make(map[*sseClient]struct{}),
		broadcast: make(chan SSEEvent, 256),
		stopChan:  make(chan struct{}),
	}
}

// Start begins the event fan-out loop.
func (h *EventHub) Start() {
	go h.run()
}

// Stop shuts down the event hub.
func (h *EventHub) Stop() {
	select {
	case <-h.stopChan:
	default:
		close(h.stopChan)
	}
}

// Broadcast sends an event to all connected clients.
func (h *EventHub) Broadcast(evt SSEEvent) {
	select {
	case h.broadcast <- evt:
	default:
		// Drop if broadcast buffer is full
	}
}

func (h *EventHub) register(c *sseClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *EventHub) unregister(c *sseClient) {
	h.mu.Lock()
	delete(h.clients, c)
	close(c.events)
	h.mu.Unlock()
}

func (h *EventHub) run() {
	for {
		select {
		case <-h.stopChan:
			return
		case evt := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.events <- evt:
				default:
					// Client buffer full, drop event
				}
			}
			h.mu.RUnlock()
		}
	}
}

// HandleSSE is the HTTP handler for SSE connections.
func (h *EventHub) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := &sseClient{events: make(chan SSEEvent, 64)}
	h.register(client)
	defer h.unregister(client)

	// Send connected event
	fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.stopChan:
			return
		case evt, ok := <-client.events:
			if !ok {
				return
			}
			data, err := json.Marshal(evt.Data)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// SetupEngineListeners wires engine events to SSE broadcasts so the POS
// front-end tracks connectivity, queue depth, and conflicts live.
func (h *EventHub) SetupEngineListeners(eng *engine.Engine) {
	eng.Events.Subscribe(func(evt engine.Event) {
		var sseEvt SSEEvent

		switch evt.Type {
		case engine.EventWentOnline, engine.EventWentOffline:
			p := evt.Payload.(engine.ConnectivityEvent)
			sseEvt = SSEEvent{Type: "connectivity", Data: p}
		case engine.EventQueueItemEnqueued, engine.EventQueueItemSynced, engine.EventQueueItemFailed:
			p := evt.Payload.(engine.QueueItemEvent)
			sseEvt = SSEEvent{Type: "queue-update", Data: p}
		case engine.EventQueueDrained:
			p := evt.Payload.(engine.QueueDrainedEvent)
			sseEvt = SSEEvent{Type: "queue-drained", Data: p}
		case engine.EventConflictDetected:
			p := evt.Payload.(engine.ConflictEvent)
			sseEvt = SSEEvent{Type: "conflict-detected", Data: p}
		case engine.EventConflictResolved:
			p := evt.Payload.(engine.ConflictEvent)
			sseEvt = SSEEvent{Type: "conflict-resolved", Data: p}
		case engine.EventCatalogDomainSynced:
			p := evt.Payload.(engine.CatalogSyncedEvent)
			sseEvt = SSEEvent{Type: "catalog-update", Data: p}
		case engine.EventReportsCached:
			p := evt.Payload.(engine.ReportsCachedEvent)
			sseEvt = SSEEvent{Type: "reports-update", Data: p}
		case engine.EventLANStatusChanged:
			p := evt.Payload.(engine.LANStatusEvent)
			sseEvt = SSEEvent{Type: "lan-status", Data: p}
		case engine.EventLANMessage:
			p := evt.Payload.(engine.LANMessageEvent)
			sseEvt = SSEEvent{Type: "lan-message", Data: p}
		default:
			return
		}

		h.Broadcast(sseEvt)
	})
}
