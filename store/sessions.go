package store

import (
	"database/sql"
	"time"
)

// OfflinePeriod is the interval between a connectivity loss and recovery,
// with counters for transactions created and drained during it.
type OfflinePeriod struct {
	ID        int64      `json:"id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at"`
	TxCreated int        `json:"transactions_created"`
	TxSynced  int        `json:"transactions_synced"`
	TxFailed  int        `json:"transactions_failed"`
}

// OpenOfflinePeriod starts a new period. Any previously open period is
// closed first so at most one is ever open.
func (db *DB) OpenOfflinePeriod() (int64, error) {
	if _, err := db.Exec(`UPDATE offline_periods SET ended_at = datetime('now','localtime') WHERE ended_at IS NULL`); err != nil {
		return 0, err
	}
	res, err := db.Exec(`INSERT INTO offline_periods DEFAULT VALUES`)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// CloseOfflinePeriod stamps the end of the open period, if any.
func (db *DB) CloseOfflinePeriod() error {
	_, err := db.Exec(`UPDATE offline_periods SET ended_at = datetime('now','localtime') WHERE ended_at IS NULL`)
	return err
}

// GetOpenOfflinePeriod returns the ongoing period, or nil when online.
func (db *DB) GetOpenOfflinePeriod() (*OfflinePeriod, error) {
	row := db.QueryRow(`SELECT id, started_at, ended_at, tx_created, tx_synced, tx_failed
		FROM offline_periods WHERE ended_at IS NULL ORDER BY id DESC LIMIT 1`)
	p, err := scanOfflinePeriod(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// BumpOfflineCreated increments the created counter of the open period.
// A no-op when no period is open.
func (db *DB) BumpOfflineCreated() error {
	_, err := db.Exec(`UPDATE offline_periods SET tx_created = tx_created + 1 WHERE ended_at IS NULL`)
	return err
}

func (db *DB) BumpOfflineSynced() error {
	_, err := db.Exec(`UPDATE offline_periods SET tx_synced = tx_synced + 1 WHERE ended_at IS NULL`)
	return err
}

func (db *DB) BumpOfflineFailed() error {
	_, err := db.Exec(`UPDATE offline_periods SET tx_failed = tx_failed + 1 WHERE ended_at IS NULL`)
	return err
}

// ListOfflinePeriods returns session history, newest first.
func (db *DB) ListOfflinePeriods(limit int) ([]OfflinePeriod, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT id, started_at, ended_at, tx_created, tx_synced, tx_failed
		FROM offline_periods ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OfflinePeriod
	for rows.Next() {
		p, err := scanOfflinePeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanOfflinePeriod(row rowScanner) (*OfflinePeriod, error) {
	var p OfflinePeriod
	var startedAt string
	var endedAt sql.NullString
	if err := row.Scan(&p.ID, &startedAt, &endedAt, &p.TxCreated, &p.TxSynced, &p.TxFailed); err != nil {
		return nil, err
	}
	p.StartedAt = scanTime(startedAt)
	p.EndedAt = scanTimePtr(endedAt)
	return &p, nil
}
