package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Queue item statuses. Transitions are monotonic except the explicit
// failed -> pending retry edge.
const (
	StatusPending = "pending"
	StatusSyncing = "syncing"
	StatusSynced  = "synced"
	StatusFailed  = "failed"
)

// ErrQueueFull is returned by EnqueueQueueItem when the queue is at capacity
// even after purging synced items. Callers must surface this to the operator.
var ErrQueueFull = errors.New("sync queue full")

// QueueItem is a locally created business event pending transmission.
type QueueItem struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	Status        string          `json:"status"`
	Attempts      int             `json:"attempts"`
	LastError     *string         `json:"last_error"`
	NextAttemptAt *time.Time      `json:"next_attempt_at"`
	CreatedAt     time.Time       `json:"created_at"`
}

// QueueCounts holds per-status item counts for the operator UI.
type QueueCounts struct {
	Pending  int `json:"pending"`
	Syncing  int `json:"syncing"`
	Synced   int `json:"synced"`
	Failed   int `json:"failed"`
	Total    int `json:"total"`
	Capacity int `json:"capacity"`
}

const queueCols = `id, item_type, payload, status, attempts, last_error, next_attempt_at, created_at`

// EnqueueQueueItem appends a pending item. When the queue is at capacity it
// first purges synced items; if still full it fails with ErrQueueFull.
func (db *DB) EnqueueQueueItem(itemType string, payload []byte, capacity int) (*QueueItem, error) {
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM queue_items`).Scan(&count); err != nil {
		return nil, err
	}
	if count >= capacity {
		if _, err := db.PurgeSyncedQueueItems(); err != nil {
			return nil, err
		}
		if err := db.QueryRow(`SELECT COUNT(*) FROM queue_items`).Scan(&count); err != nil {
			return nil, err
		}
		if count >= capacity {
			return nil, ErrQueueFull
		}
	}

	id := uuid.New().String()
	if _, err := db.Exec(`INSERT INTO queue_items (id, item_type, payload, status) VALUES (?, ?, ?, 'pending')`,
		id, itemType, string(payload)); err != nil {
		return nil, err
	}
	return db.GetQueueItem(id)
}

// GetQueueItem returns a single item by ID, or nil if absent.
func (db *DB) GetQueueItem(id string) (*QueueItem, error) {
	row := db.QueryRow(`SELECT `+queueCols+` FROM queue_items WHERE id = ?`, id)
	item, err := scanQueueItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return item, err
}

// ListQueueItems returns items, optionally filtered by status, oldest first.
func (db *DB) ListQueueItems(status string) ([]QueueItem, error) {
	q := `SELECT ` + queueCols + ` FROM queue_items ORDER BY created_at, id`
	args := []any{}
	if status != "" {
		q = `SELECT ` + queueCols + ` FROM queue_items WHERE status = ? ORDER BY created_at, id`
		args = append(args, status)
	}
	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanQueueItems(rows)
}

// ListDueQueueItems returns pending items whose backoff window has elapsed,
// in creation order. Items of the same type keep their relative order.
func (db *DB) ListDueQueueItems(now time.Time) ([]QueueItem, error) {
	rows, err := db.Query(`SELECT `+queueCols+` FROM queue_items
		WHERE status = 'pending' AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		ORDER BY created_at, id`, now.Format(localStampLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanQueueItems(rows)
}

// MarkQueueItemSyncing flags an item as in flight.
func (db *DB) MarkQueueItemSyncing(id string) error {
	_, err := db.Exec(`UPDATE queue_items SET status = 'syncing' WHERE id = ?`, id)
	return err
}

// MarkQueueItemSynced flags an item as transmitted; synced items are
// evicted lazily by PurgeSyncedQueueItems.
func (db *DB) MarkQueueItemSynced(id string) error {
	_, err := db.Exec(`UPDATE queue_items SET status = 'synced', last_error = NULL, next_attempt_at = NULL WHERE id = ?`, id)
	return err
}

// MarkQueueItemRetry returns an item to pending after a transient failure,
// recording the error and the earliest next attempt time.
func (db *DB) MarkQueueItemRetry(id, errMsg string, nextAttempt time.Time) error {
	_, err := db.Exec(`UPDATE queue_items
		SET status = 'pending', attempts = attempts + 1, last_error = ?, next_attempt_at = ?
		WHERE id = ?`, errMsg, nextAttempt.Format(localStampLayout), id)
	return err
}

// MarkQueueItemFailed parks an item after a non-retryable failure or
// exhausted attempts. A manual retry or conflict resolution moves it on.
func (db *DB) MarkQueueItemFailed(id, errMsg string) error {
	_, err := db.Exec(`UPDATE queue_items
		SET status = 'failed', attempts = attempts + 1, last_error = ?, next_attempt_at = NULL
		WHERE id = ?`, errMsg, id)
	return err
}

// ResetQueueItemToPending is the manual retry edge. Attempts are preserved
// for audit.
func (db *DB) ResetQueueItemToPending(id string) error {
	_, err := db.Exec(`UPDATE queue_items
		SET status = 'pending', last_error = NULL, next_attempt_at = NULL
		WHERE id = ? AND status = 'failed'`, id)
	return err
}

// RemoveQueueItem deletes an item (skip resolution or operator discard).
func (db *DB) RemoveQueueItem(id string) error {
	_, err := db.Exec(`DELETE FROM queue_items WHERE id = ?`, id)
	return err
}

// PurgeSyncedQueueItems evicts transmitted items and returns how many.
func (db *DB) PurgeSyncedQueueItems() (int64, error) {
	res, err := db.Exec(`DELETE FROM queue_items WHERE status = 'synced'`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RecoverOrphanedSyncing resets items left in 'syncing' by a crash mid-drain
// back to pending. Called once at startup.
func (db *DB) RecoverOrphanedSyncing() (int64, error) {
	res, err := db.Exec(`UPDATE queue_items SET status = 'pending' WHERE status = 'syncing'`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetQueueCounts returns per-status counts. Capacity is filled by the caller.
func (db *DB) GetQueueCounts() (QueueCounts, error) {
	var c QueueCounts
	rows, err := db.Query(`SELECT status, COUNT(*) FROM queue_items GROUP BY status`)
	if err != nil {
		return c, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return c, err
		}
		switch status {
		case StatusPending:
			c.Pending = n
		case StatusSyncing:
			c.Syncing = n
		case StatusSynced:
			c.Synced = n
		case StatusFailed:
			c.Failed = n
		}
		c.Total += n
	}
	return c, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueueItem(row rowScanner) (*QueueItem, error) {
	var it QueueItem
	var payload, createdAt string
	var nextAttempt sql.NullString
	if err := row.Scan(&it.ID, &it.Type, &payload, &it.Status, &it.Attempts,
		&it.LastError, &nextAttempt, &createdAt); err != nil {
		return nil, err
	}
	it.Payload = json.RawMessage(payload)
	it.CreatedAt = scanTime(createdAt)
	it.NextAttemptAt = scanTimePtr(nextAttempt)
	return &it, nil
}

func scanQueueItems(rows *sql.Rows) ([]QueueItem, error) {
	var items []QueueItem
	for rows.Next() {
		it, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}
