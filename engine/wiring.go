package engine

import (
	"context"
	"log"
)

// wireEventHandlers sets up the event chain:
// WentOnline → kick the queue drain + refresh the catalog
// connectivity and queue transitions → offline session bookkeeping
func (e *Engine) wireEventHandlers() {
	// Recovery: drain the backlog and catch the caches up.
	e.Events.SubscribeTypes(func(Event) {
		e.sessions.WentOnline()
		e.queue.Kick()
		go func() {
			if _, err := e.catalog.SyncAll(context.Background()); err != nil {
				log.Printf("engine: catalog sync after recovery: %v", err)
			}
		}()
	}, EventWentOnline)

	e.Events.SubscribeTypes(func(Event) {
		e.sessions.WentOffline()
	}, EventWentOffline)

	// Queue lifecycle → offline period counters.
	e.Events.SubscribeTypes(func(evt Event) {
		switch evt.Type {
		case EventQueueItemEnqueued:
			e.sessions.ItemEnqueued()
		case EventQueueItemSynced:
			e.sessions.ItemSynced()
		case EventQueueItemFailed:
			e.sessions.ItemFailed()
		case EventQueueDrained:
			e.sessions.QueueDrained()
		}
	}, EventQueueItemEnqueued, EventQueueItemSynced, EventQueueItemFailed, EventQueueDrained)
}
