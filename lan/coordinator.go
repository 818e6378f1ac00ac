package lan

import (
	"log"
	"sync"
	"sync/atomic"

	"tillsync/config"
)

// EventEmitter is the interface the coordinator uses to surface LAN
// activity to the rest of the terminal.
type EventEmitter interface {
	EmitLANStatusChanged(connected, hub bool)
	EmitLANMessage(msg *Message)
}

// HandlerFunc processes one received message.
type HandlerFunc func(*Message)

// Coordinator runs this terminal's side of floor coordination. One terminal
// per store runs as hub: it relays everything arriving on the uplink topic
// onto the broadcast topic, which every terminal (hub included) consumes.
// Clients publish to the uplink and only consume the broadcast.
type Coordinator struct {
	cfg       *config.LANConfig
	nodeID    string
	transport *Transport
	emitter   EventEmitter
	tracker   *SeqTracker
	debouncer *Debouncer

	seq atomic.Uint64

	mu       sync.RWMutex
	handlers map[string][]HandlerFunc
}

// NewCoordinator creates a coordinator. Start() connects it.
func NewCoordinator(cfg *config.LANConfig, nodeID string, emitter EventEmitter) *Coordinator {
	c := &Coordinator{
		cfg:       cfg,
		nodeID:    nodeID,
		transport: NewTransport(cfg, nodeID),
		emitter:   emitter,
		tracker:   NewSeqTracker(),
		handlers:  make(map[string][]HandlerFunc),
	}
	c.debouncer = NewDebouncer(cfg.DebounceWindow, func(_ string, msg *Message) {
		c.send(msg)
	})
	return c
}

// Handle registers a handler for a message type. Handlers run on the
// transport's receive goroutine and must not block.
func (c *Coordinator) Handle(msgType string, fn HandlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[msgType] = append(c.handlers[msgType], fn)
}

// Start connects to the broker, wires subscriptions, and announces this
// terminal to the floor.
func (c *Coordinator) Start() error {
	if err := c.transport.Connect(); err != nil {
		return err
	}
	if err := c.transport.Subscribe(c.cfg.BroadcastTopic, c.onBroadcast); err != nil {
		return err
	}
	if c.cfg.Hub {
		if err := c.transport.Subscribe(c.cfg.UplinkTopic, c.onUplink); err != nil {
			return err
		}
	}
	c.emitter.EmitLANStatusChanged(true, c.cfg.Hub)
	c.Publish(TypeHello, HelloPayload{TerminalID: c.nodeID, Role: c.role()})
	return nil
}

// Stop announces departure and tears the broker link down.
func (c *Coordinator) Stop() {
	c.Publish(TypeBye, HelloPayload{TerminalID: c.nodeID, Role: c.role()})
	c.debouncer.Close()
	c.transport.Close()
	c.emitter.EmitLANStatusChanged(false, c.cfg.Hub)
}

// Connected returns whether the broker link is up.
func (c *Coordinator) Connected() bool {
	return c.transport.IsConnected()
}

// Hub returns whether this terminal relays floor traffic.
func (c *Coordinator) Hub() bool {
	return c.cfg.Hub
}

func (c *Coordinator) role() string {
	if c.cfg.Hub {
		return "hub"
	}
	return "client"
}

// Publish sends a message to the floor. Cart updates are debounced so a
// burst of keystroke-level changes collapses into the final state; a cart
// clear cancels any update still waiting. Delivery is best-effort.
func (c *Coordinator) Publish(msgType string, payload any) {
	msg, err := NewMessage(msgType, c.nodeID, payload)
	if err != nil {
		log.Printf("lan: build %s message: %v", msgType, err)
		return
	}
	switch msgType {
	case TypeCartUpdate:
		c.debouncer.Put(TypeCartUpdate, msg)
	case TypeCartClear:
		c.debouncer.Cancel(TypeCartUpdate)
		c.send(msg)
	default:
		c.send(msg)
	}
}

// send assigns the next seq and publishes. Clients publish to the uplink
// for the hub to relay; the hub publishes straight to the broadcast.
func (c *Coordinator) send(msg *Message) {
	msg.Seq = c.seq.Add(1)
	topic := c.cfg.UplinkTopic
	if c.cfg.Hub {
		topic = c.cfg.BroadcastTopic
	}
	if err := c.transport.PublishMessage(topic, msg); err != nil {
		log.Printf("lan: publish %s: %v", msg.Type, err)
	}
}

// onUplink relays client traffic onto the broadcast topic verbatim. Seq and
// sender are preserved so receivers dedupe against the originator, not the
// relay.
func (c *Coordinator) onUplink(data []byte) {
	if err := c.transport.Publish(c.cfg.BroadcastTopic, data); err != nil {
		log.Printf("lan: relay: %v", err)
	}
}

// onBroadcast delivers floor traffic to local handlers, dropping our own
// messages and anything arriving out of order.
func (c *Coordinator) onBroadcast(data []byte) {
	msg, err := Decode(data)
	if err != nil {
		log.Printf("lan: decode inbound: %v", err)
		return
	}
	if msg.Sender == c.nodeID {
		return
	}
	if !c.tracker.Accept(msg.Sender, msg.Seq) {
		return
	}
	if msg.Type == TypeBye {
		c.tracker.Forget(msg.Sender)
	}

	c.mu.RLock()
	handlers := append([]HandlerFunc(nil), c.handlers[msg.Type]...)
	c.mu.RUnlock()
	for _, fn := range handlers {
		fn(msg)
	}
	c.emitter.EmitLANMessage(msg)
}
