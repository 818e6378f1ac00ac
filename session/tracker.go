// Package session tracks offline periods: when connectivity dropped, when
// it recovered, and how many transactions were created and drained in
// between. Managers use the history to audit what each outage cost.
package session

import (
	"log"
	"sync"

	"tillsync/store"
)

// Tracker maintains offline period records. A period opens when
// connectivity drops and closes once the queue backlog from that outage has
// drained, so the drain counters land on the period that produced them.
// The engine feeds it connectivity and queue transitions.
type Tracker struct {
	db *store.DB

	mu       sync.Mutex
	online   bool
	draining bool // online again but backlog not yet drained
}

// NewTracker creates a tracker. An open period left over from an unclean
// shutdown stays open: the terminal may well still be offline, and the next
// recovery closes it.
func NewTracker(db *store.DB) *Tracker {
	return &Tracker{db: db, online: true}
}

// WentOffline opens a new offline period.
func (t *Tracker) WentOffline() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online = false
	t.draining = false
	if _, err := t.db.OpenOfflinePeriod(); err != nil {
		log.Printf("session: open period: %v", err)
	}
}

// WentOnline closes the open period, unless queued backlog remains; then
// the close is deferred to QueueDrained so its counters stay attributable.
func (t *Tracker) WentOnline() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online = true
	if t.hasBacklog() {
		t.draining = true
		return
	}
	if err := t.db.CloseOfflinePeriod(); err != nil {
		log.Printf("session: close period: %v", err)
	}
}

// ItemEnqueued counts a transaction created during the open period.
func (t *Tracker) ItemEnqueued() {
	if err := t.db.BumpOfflineCreated(); err != nil {
		log.Printf("session: bump created: %v", err)
	}
}

// ItemSynced counts a transaction drained during the open period.
func (t *Tracker) ItemSynced() {
	if err := t.db.BumpOfflineSynced(); err != nil {
		log.Printf("session: bump synced: %v", err)
	}
}

// ItemFailed counts a transaction that exhausted retries during the open
// period.
func (t *Tracker) ItemFailed() {
	if err := t.db.BumpOfflineFailed(); err != nil {
		log.Printf("session: bump failed: %v", err)
	}
}

// QueueDrained closes a period whose close was deferred pending drain.
func (t *Tracker) QueueDrained() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.online || !t.draining {
		return
	}
	t.draining = false
	if err := t.db.CloseOfflinePeriod(); err != nil {
		log.Printf("session: close period: %v", err)
	}
}

func (t *Tracker) hasBacklog() bool {
	counts, err := t.db.GetQueueCounts()
	if err != nil {
		log.Printf("session: queue counts: %v", err)
		return false
	}
	return counts.Pending > 0 || counts.Syncing > 0
}

// Current returns the ongoing offline period, or nil when online.
func (t *Tracker) Current() (*store.OfflinePeriod, error) {
	return t.db.GetOpenOfflinePeriod()
}

// History returns past periods, newest first.
func (t *Tracker) History(limit int) ([]store.OfflinePeriod, error) {
	return t.db.ListOfflinePeriods(limit)
}
