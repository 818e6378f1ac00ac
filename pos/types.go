// Package pos defines the business payload types carried by the sync queue.
// Payloads are typed at the core boundary; only the conflict diff renderer
// falls back to generic key-value maps.
package pos

import (
	"encoding/json"
	"fmt"
)

// Queue item types, in cross-type transmission order: an order must reach
// the backend before the payment that references it, and stock movements
// follow both.
const (
	TypeOrder         = "order"
	TypePayment       = "payment"
	TypeStockMovement = "stock_movement"
)

var typeRank = map[string]int{
	TypeOrder:         0,
	TypePayment:       1,
	TypeStockMovement: 2,
}

// TypeRank returns the drain priority for a queue item type. Unknown types
// sort last so new types never jump ahead of financial records.
func TypeRank(itemType string) int {
	if r, ok := typeRank[itemType]; ok {
		return r
	}
	return len(typeRank)
}

// OrderItem is one line of an order.
type OrderItem struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    float64         `json:"quantity"`
	UnitPrice   float64         `json:"unit_price"`
	TotalPrice  float64         `json:"total_price"`
	Modifiers   json.RawMessage `json:"modifiers,omitempty"`
}

// OrderPayload is an order created at the terminal.
type OrderPayload struct {
	ID            string      `json:"id"`
	OrderNumber   string      `json:"order_number"`
	OrderType     string      `json:"order_type"`
	TableNumber   string      `json:"table_number,omitempty"`
	CustomerID    string      `json:"customer_id,omitempty"`
	SessionID     string      `json:"session_id,omitempty"`
	Subtotal      float64     `json:"subtotal"`
	TaxAmount     float64     `json:"tax_amount"`
	Total         float64     `json:"total"`
	PaymentStatus string      `json:"payment_status"`
	Notes         string      `json:"notes,omitempty"`
	TerminalID    string      `json:"terminal_id"`
	Items         []OrderItem `json:"items"`
	UpdatedAt     string      `json:"updated_at,omitempty"`
}

// PaymentPayload is a payment taken at the terminal. OrderID may reference
// an order created offline and not yet synced.
type PaymentPayload struct {
	ID         string  `json:"id"`
	OrderID    string  `json:"order_id"`
	SessionID  string  `json:"session_id,omitempty"`
	Method     string  `json:"method"`
	Amount     float64 `json:"amount"`
	Reference  string  `json:"reference,omitempty"`
	TerminalID string  `json:"terminal_id"`
	UpdatedAt  string  `json:"updated_at,omitempty"`
}

// StockMovementPayload is a stock adjustment recorded at the terminal.
type StockMovementPayload struct {
	ID           string  `json:"id"`
	ProductID    string  `json:"product_id"`
	MovementType string  `json:"movement_type"`
	Quantity     float64 `json:"quantity"`
	Reason       string  `json:"reason,omitempty"`
	ReferenceID  string  `json:"reference_id,omitempty"`
	StockBefore  float64 `json:"stock_before"`
	StockAfter   float64 `json:"stock_after"`
	TerminalID   string  `json:"terminal_id"`
	UpdatedAt    string  `json:"updated_at,omitempty"`
}

// Payload is implemented by every queue payload type.
type Payload interface {
	EntityID() string
}

func (p *OrderPayload) EntityID() string         { return p.ID }
func (p *PaymentPayload) EntityID() string       { return p.ID }
func (p *StockMovementPayload) EntityID() string { return p.ID }

// Decode unmarshals a raw queue payload into its typed form.
func Decode(itemType string, raw []byte) (Payload, error) {
	var p Payload
	switch itemType {
	case TypeOrder:
		p = &OrderPayload{}
	case TypePayment:
		p = &PaymentPayload{}
	case TypeStockMovement:
		p = &StockMovementPayload{}
	default:
		return nil, fmt.Errorf("unknown queue item type %q", itemType)
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", itemType, err)
	}
	return p, nil
}

// EntityIDOf extracts the business entity ID from a raw payload without a
// full typed decode. Returns "" when absent.
func EntityIDOf(raw []byte) string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return probe.ID
}
