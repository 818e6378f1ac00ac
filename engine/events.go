package engine

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of event emitted on the Engine's bus.
type EventType int

const (
	// Connectivity events
	EventWentOnline EventType = iota + 1
	EventWentOffline

	// Queue events
	EventQueueItemEnqueued
	EventQueueItemSynced
	EventQueueItemFailed
	EventQueueDrained

	// Conflict events
	EventConflictDetected
	EventConflictResolved

	// Cache events
	EventCatalogDomainSynced
	EventReportsCached

	// LAN events
	EventLANStatusChanged
	EventLANMessage
)

// Event is the envelope dispatched on the Engine's EventBus.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   interface{}
}

// ConnectivityEvent is emitted on online/offline transitions.
type ConnectivityEvent struct {
	Online bool   `json:"online"`
	Error  string `json:"error,omitempty"`
}

// QueueItemEvent is emitted as queue items move through their lifecycle.
type QueueItemEvent struct {
	ItemID   string `json:"item_id"`
	ItemType string `json:"item_type"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// QueueDrainedEvent is emitted when a drain cycle leaves no pending items.
type QueueDrainedEvent struct {
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}

// ConflictEvent is emitted when a conflict is detected or resolved.
type ConflictEvent struct {
	ConflictID   int64  `json:"conflict_id"`
	QueueItemID  string `json:"queue_item_id"`
	EntityType   string `json:"entity_type"`
	EntityID     string `json:"entity_id"`
	ConflictType string `json:"conflict_type"`
	Resolution   string `json:"resolution,omitempty"`
}

// CatalogSyncedEvent is emitted after one cache domain refreshes.
type CatalogSyncedEvent struct {
	Domain  string `json:"domain"`
	Applied int    `json:"applied"`
	Removed int    `json:"removed"`
	Cursor  string `json:"cursor"`
}

// ReportsCachedEvent is emitted after report snapshots are stored.
type ReportsCachedEvent struct {
	ReportType string `json:"report_type"`
	Dates      int    `json:"dates"`
}

// LANStatusEvent is emitted when the LAN coordinator's link state changes.
type LANStatusEvent struct {
	Connected bool `json:"connected"`
	Hub       bool `json:"hub"`
}

// LANMessageEvent carries a received LAN message to local consumers (SSE).
type LANMessageEvent struct {
	MsgType string          `json:"msg_type"`
	Sender  string          `json:"sender"`
	Payload json.RawMessage `json:"payload"`
}
