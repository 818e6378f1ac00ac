// Package lan coordinates terminals on the store's local network. Delivery
// is fire-and-forget: messages are ephemeral UI state, and anything durable
// goes through the sync queue instead.
package lan

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message types exchanged between terminals.
const (
	TypeCartUpdate      = "cart_update"
	TypeCartClear       = "cart_clear"
	TypeNewOrder        = "new_order"
	TypeOrderStatus     = "order_status"
	TypeTicketPreparing = "ticket_preparing"
	TypeTicketReady     = "ticket_ready"
	TypeHello           = "hello"
	TypeBye             = "bye"
)

// Version is the wire protocol version.
const Version = 1

// Message is the wire envelope for all LAN traffic. Seq is per-sender
// monotonic; receivers drop messages older than the last seen seq so
// delayed broker redeliveries can't resurrect stale state.
type Message struct {
	Version int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Sender  string          `json:"sender"`
	Seq     uint64          `json:"seq"`
	SentAt  time.Time       `json:"ts"`
	Payload json.RawMessage `json:"p"`
}

// NewMessage creates an outbound message. Seq is assigned by the sender's
// Coordinator at publish time.
func NewMessage(msgType, sender string, payload any) (*Message, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Version: Version,
		Type:    msgType,
		ID:      uuid.New().String(),
		Sender:  sender,
		SentAt:  time.Now().UTC(),
		Payload: p,
	}, nil
}

// Encode marshals the message to JSON.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode unmarshals a wire message.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// DecodePayload unmarshals the payload into target.
func (m *Message) DecodePayload(target any) error {
	return json.Unmarshal(m.Payload, target)
}

// CartUpdatePayload mirrors an in-progress cart to observing displays.
type CartUpdatePayload struct {
	TerminalID string          `json:"terminal_id"`
	OrderType  string          `json:"order_type,omitempty"`
	Items      json.RawMessage `json:"items"`
	Subtotal   float64         `json:"subtotal"`
	Total      float64         `json:"total"`
}

// OrderStatusPayload announces an order lifecycle change.
type OrderStatusPayload struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
}

// TicketPayload announces a kitchen ticket state change.
type TicketPayload struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	Station     string `json:"station,omitempty"`
}

// HelloPayload announces a terminal joining or leaving the floor.
type HelloPayload struct {
	TerminalID string `json:"terminal_id"`
	Role       string `json:"role"`
}

// SeqTracker tracks the highest seq seen per sender and rejects older
// arrivals. The zero value is not usable; use NewSeqTracker.
type SeqTracker struct {
	mu   sync.Mutex
	seen map[string]uint64
}

// NewSeqTracker creates an empty tracker.
func NewSeqTracker() *SeqTracker {
	return &SeqTracker{seen: make(map[string]uint64)}
}

// Accept reports whether a message with the given sender and seq should be
// delivered, and records it as seen when so. The first message from a
// sender is always accepted; equal seqs are duplicates and rejected.
func (t *SeqTracker) Accept(sender string, seq uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	last, ok := t.seen[sender]
	if ok && seq <= last {
		return false
	}
	t.seen[sender] = seq
	return true
}

// Forget drops a sender's state, e.g. after a bye message, so a restarted
// terminal beginning again at seq 1 is not discarded.
func (t *SeqTracker) Forget(sender string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.seen, sender)
}
