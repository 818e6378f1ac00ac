package engine

import (
	"tillsync/lan"
	"tillsync/store"
)

// queueEmitter adapts the engine's EventBus to the outbox.EventEmitter interface.
type queueEmitter struct {
	bus *EventBus
}

func (e *queueEmitter) EmitQueueItemEnqueued(itemID, itemType string) {
	e.bus.Emit(Event{Type: EventQueueItemEnqueued, Payload: QueueItemEvent{
		ItemID: itemID, ItemType: itemType,
	}})
}

func (e *queueEmitter) EmitQueueItemSynced(itemID, itemType string) {
	e.bus.Emit(Event{Type: EventQueueItemSynced, Payload: QueueItemEvent{
		ItemID: itemID, ItemType: itemType,
	}})
}

func (e *queueEmitter) EmitQueueItemFailed(itemID, itemType string, attempts int, errMsg string) {
	e.bus.Emit(Event{Type: EventQueueItemFailed, Payload: QueueItemEvent{
		ItemID: itemID, ItemType: itemType, Attempts: attempts, Error: errMsg,
	}})
}

func (e *queueEmitter) EmitQueueDrained(synced, failed int) {
	e.bus.Emit(Event{Type: EventQueueDrained, Payload: QueueDrainedEvent{
		Synced: synced, Failed: failed,
	}})
}

// conflictEmitter adapts the engine's EventBus to the conflict.EventEmitter interface.
type conflictEmitter struct {
	bus *EventBus
}

func (e *conflictEmitter) EmitConflictDetected(c *store.ConflictRecord) {
	e.bus.Emit(Event{Type: EventConflictDetected, Payload: ConflictEvent{
		ConflictID: c.ID, QueueItemID: c.QueueItemID,
		EntityType: c.EntityType, EntityID: c.EntityID, ConflictType: c.ConflictType,
	}})
}

func (e *conflictEmitter) EmitConflictResolved(c *store.ConflictRecord, resolution string) {
	e.bus.Emit(Event{Type: EventConflictResolved, Payload: ConflictEvent{
		ConflictID: c.ID, QueueItemID: c.QueueItemID,
		EntityType: c.EntityType, EntityID: c.EntityID, ConflictType: c.ConflictType,
		Resolution: resolution,
	}})
}

// catalogEmitter adapts the engine's EventBus to the catalog.EventEmitter interface.
type catalogEmitter struct {
	bus *EventBus
}

func (e *catalogEmitter) EmitCatalogDomainSynced(domain string, applied, removed int, cursor string) {
	e.bus.Emit(Event{Type: EventCatalogDomainSynced, Payload: CatalogSyncedEvent{
		Domain: domain, Applied: applied, Removed: removed, Cursor: cursor,
	}})
}

// reportsEmitter adapts the engine's EventBus to the reports.EventEmitter interface.
type reportsEmitter struct {
	bus *EventBus
}

func (e *reportsEmitter) EmitReportsCached(reportType string, dates int) {
	e.bus.Emit(Event{Type: EventReportsCached, Payload: ReportsCachedEvent{
		ReportType: reportType, Dates: dates,
	}})
}

// lanEmitter adapts the engine's EventBus to the lan.EventEmitter interface.
type lanEmitter struct {
	bus *EventBus
}

func (e *lanEmitter) EmitLANStatusChanged(connected, hub bool) {
	e.bus.Emit(Event{Type: EventLANStatusChanged, Payload: LANStatusEvent{
		Connected: connected, Hub: hub,
	}})
}

func (e *lanEmitter) EmitLANMessage(msg *lan.Message) {
	e.bus.Emit(Event{Type: EventLANMessage, Payload: LANMessageEvent{
		MsgType: msg.Type, Sender: msg.Sender, Payload: msg.Payload,
	}})
}
