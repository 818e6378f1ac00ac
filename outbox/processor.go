// Package outbox drains the durable write queue against the remote backend.
package outbox

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"tillsync/backend"
	"tillsync/config"
	"tillsync/pos"
	"tillsync/store"
)

// backoffDelays is the retry ladder for transient failures.
var backoffDelays = []time.Duration{
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
	time.Minute,
	5 * time.Minute,
}

func backoffDelay(attempts int) time.Duration {
	if attempts >= len(backoffDelays) {
		return backoffDelays[len(backoffDelays)-1]
	}
	return backoffDelays[attempts]
}

// EventEmitter is the interface the processor uses to emit queue events.
type EventEmitter interface {
	EmitQueueItemEnqueued(itemID, itemType string)
	EmitQueueItemSynced(itemID, itemType string)
	EmitQueueItemFailed(itemID, itemType string, attempts int, errMsg string)
	EmitQueueDrained(synced, failed int)
}

// ConflictSink receives items the backend rejected for structural reasons.
type ConflictSink interface {
	HandleRejection(ctx context.Context, item *store.QueueItem, remoteErr *backend.RemoteError) error
}

// Processor owns the drain cycle: periodic ticks, reconnect kicks, and the
// single-flight guard ensuring at most one drain runs at a time.
type Processor struct {
	db      *store.DB
	remote  backend.Client
	sink    ConflictSink
	emitter EventEmitter
	cfg     config.QueueConfig

	drainMu  sync.Mutex // single-flight guard
	kickCh   chan struct{}
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewProcessor creates a queue processor. Start() begins the drain loop.
func NewProcessor(db *store.DB, remote backend.Client, sink ConflictSink, emitter EventEmitter, cfg config.QueueConfig) *Processor {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 500
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = 30 * time.Second
	}
	return &Processor{
		db:      db,
		remote:  remote,
		sink:    sink,
		emitter: emitter,
		cfg:     cfg,
		kickCh:  make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
}

// Enqueue appends a business event to the queue. Returns store.ErrQueueFull
// when the queue is at capacity; callers must surface that to the operator.
func (p *Processor) Enqueue(itemType string, payload []byte) (*store.QueueItem, error) {
	item, err := p.db.EnqueueQueueItem(itemType, payload, p.cfg.Capacity)
	if err != nil {
		return nil, err
	}
	p.emitter.EmitQueueItemEnqueued(item.ID, item.Type)
	return item, nil
}

// Retry manually moves a failed item back to pending. Attempts are kept for
// audit.
func (p *Processor) Retry(id string) error {
	if err := p.db.ResetQueueItemToPending(id); err != nil {
		return err
	}
	p.Kick()
	return nil
}

// Remove deletes an item after a skip resolution or operator discard.
func (p *Processor) Remove(id string) error {
	return p.db.RemoveQueueItem(id)
}

// Counts returns queue status counts with the configured capacity filled in.
func (p *Processor) Counts() (store.QueueCounts, error) {
	c, err := p.db.GetQueueCounts()
	if err != nil {
		return c, err
	}
	c.Capacity = p.cfg.Capacity
	return c, nil
}

// Start recovers orphaned in-flight items and begins the drain loop.
func (p *Processor) Start() {
	if n, err := p.db.RecoverOrphanedSyncing(); err != nil {
		log.Printf("outbox: recover orphaned items: %v", err)
	} else if n > 0 {
		log.Printf("outbox: recovered %d orphaned syncing items", n)
	}
	p.wg.Add(1)
	go p.loop()
}

// Stop halts the drain loop and waits for an in-flight drain to finish.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

// Kick requests a drain soon, e.g. after a reconnect. Non-blocking.
func (p *Processor) Kick() {
	select {
	case p.kickCh <- struct{}{}:
	default:
	}
}

func (p *Processor) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.runDrain()
		case <-p.kickCh:
			// Let in-flight backend writes settle before the post-reconnect
			// drain, matching the delay the UI layer expects.
			if p.cfg.ReconnectLag > 0 {
				select {
				case <-time.After(p.cfg.ReconnectLag):
				case <-p.stopCh:
					return
				}
			}
			p.runDrain()
		}
	}
}

func (p *Processor) runDrain() {
	synced, failed, err := p.ProcessQueue(context.Background())
	if err != nil {
		log.Printf("outbox: drain: %v", err)
		return
	}
	if synced > 0 || failed > 0 {
		log.Printf("outbox: drained %d synced, %d failed", synced, failed)
	}
}

// ProcessQueue drains due pending items in creation order within each type,
// with order items before payments before stock movements across types.
// At most one drain runs at a time; a second caller returns immediately.
func (p *Processor) ProcessQueue(ctx context.Context) (synced, failed int, err error) {
	if !p.drainMu.TryLock() {
		return 0, 0, nil
	}
	defer p.drainMu.Unlock()

	items, err := p.db.ListDueQueueItems(time.Now())
	if err != nil {
		return 0, 0, err
	}
	if len(items) == 0 {
		return 0, 0, nil
	}

	// Stable sort preserves per-type creation order while ranking types so
	// orders land before the payments that reference them.
	sort.SliceStable(items, func(i, j int) bool {
		return pos.TypeRank(items[i].Type) < pos.TypeRank(items[j].Type)
	})

	// Local entity ID -> server ID, for remapping FK references created
	// offline and synced earlier in this same drain.
	idMap := make(map[string]string)

	for i := range items {
		select {
		case <-p.stopCh:
			return synced, failed, nil
		case <-ctx.Done():
			return synced, failed, ctx.Err()
		default:
		}
		if p.processItem(ctx, &items[i], idMap) {
			synced++
		} else {
			failed++
		}
	}

	counts, cErr := p.db.GetQueueCounts()
	if cErr == nil && counts.Pending == 0 && counts.Syncing == 0 {
		p.emitter.EmitQueueDrained(synced, failed)
	}
	return synced, failed, nil
}

// processItem transmits one item. Returns true on success.
func (p *Processor) processItem(ctx context.Context, item *store.QueueItem, idMap map[string]string) bool {
	if err := p.db.MarkQueueItemSyncing(item.ID); err != nil {
		log.Printf("outbox: mark syncing %s: %v", item.ID, err)
		return false
	}

	payload := remapReferences(item.Type, item.Payload, idMap)

	resp, err := p.remote.Insert(ctx, item.Type, payload)
	if err == nil {
		if mErr := p.db.MarkQueueItemSynced(item.ID); mErr != nil {
			log.Printf("outbox: mark synced %s: %v", item.ID, mErr)
		}
		if localID := pos.EntityIDOf(item.Payload); localID != "" {
			if serverID := pos.EntityIDOf(resp); serverID != "" {
				idMap[localID] = serverID
			}
		}
		p.emitter.EmitQueueItemSynced(item.ID, item.Type)
		return true
	}

	remoteErr, ok := backend.AsRemoteError(err)
	if ok && !remoteErr.Transient() {
		// Structural rejection: record the conflict, park the item. Never
		// blind-retried.
		if sErr := p.sink.HandleRejection(ctx, item, remoteErr); sErr != nil {
			log.Printf("outbox: record conflict for %s: %v", item.ID, sErr)
		}
		if mErr := p.db.MarkQueueItemFailed(item.ID, remoteErr.Error()); mErr != nil {
			log.Printf("outbox: mark failed %s: %v", item.ID, mErr)
		}
		p.emitter.EmitQueueItemFailed(item.ID, item.Type, item.Attempts+1, remoteErr.Error())
		return false
	}

	// Transient failure: retry with backoff until attempts run out.
	if item.Attempts+1 >= p.cfg.MaxAttempts {
		if mErr := p.db.MarkQueueItemFailed(item.ID, err.Error()); mErr != nil {
			log.Printf("outbox: mark failed %s: %v", item.ID, mErr)
		}
		p.emitter.EmitQueueItemFailed(item.ID, item.Type, item.Attempts+1, err.Error())
		return false
	}
	next := time.Now().Add(backoffDelay(item.Attempts))
	if mErr := p.db.MarkQueueItemRetry(item.ID, err.Error(), next); mErr != nil {
		log.Printf("outbox: mark retry %s: %v", item.ID, mErr)
	}
	return false
}

// remapReferences rewrites FK fields that point at entities created offline
// and remapped to server IDs earlier in the drain. Payloads that fail a
// typed decode are transmitted unchanged.
func remapReferences(itemType string, raw json.RawMessage, idMap map[string]string) []byte {
	if len(idMap) == 0 {
		return raw
	}
	decoded, err := pos.Decode(itemType, raw)
	if err != nil {
		return raw
	}

	changed := false
	switch t := decoded.(type) {
	case *pos.PaymentPayload:
		if serverID, ok := idMap[t.OrderID]; ok {
			t.OrderID = serverID
			changed = true
		}
		if serverID, ok := idMap[t.SessionID]; ok {
			t.SessionID = serverID
			changed = true
		}
	case *pos.StockMovementPayload:
		if serverID, ok := idMap[t.ReferenceID]; ok {
			t.ReferenceID = serverID
			changed = true
		}
	case *pos.OrderPayload:
		if serverID, ok := idMap[t.SessionID]; ok {
			t.SessionID = serverID
			changed = true
		}
	}
	if !changed {
		return raw
	}
	out, err := json.Marshal(decoded)
	if err != nil {
		return raw
	}
	return out
}
