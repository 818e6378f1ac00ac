package store

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"
)

// CatalogEntry is the latest known copy of a reference-data record.
// UpdatedAt carries the remote backend's last-modified timestamp (RFC3339),
// not local wall-clock time; cursors are advanced from it.
type CatalogEntry struct {
	Domain       string          `json:"domain"`
	ID           string          `json:"id"`
	Payload      json.RawMessage `json:"payload"`
	SecondaryKey string          `json:"secondary_key"`
	Active       bool            `json:"active"`
	UpdatedAt    string          `json:"updated_at"`
}

// SyncCursor tracks incremental refresh progress for one cache domain.
// LastSyncAt is the remote high-water mark (the backend's updated_at, RFC3339);
// RefreshedAt is the local wall-clock time of the last successful refresh.
type SyncCursor struct {
	Domain      string    `json:"domain"`
	LastSyncAt  string    `json:"last_sync_at"`
	RecordCount int       `json:"record_count"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// UpsertCatalogEntries performs a bulk idempotent upsert. Re-applying the
// same batch is safe; rows are last-write-wins.
func (db *DB) UpsertCatalogEntries(entries []CatalogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO catalog_entries (domain, id, payload, secondary_key, active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(domain, id) DO UPDATE SET
			payload = excluded.payload,
			secondary_key = excluded.secondary_key,
			active = excluded.active,
			updated_at = excluded.updated_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		payload := string(e.Payload)
		if payload == "" {
			payload = "{}"
		}
		if _, err := stmt.Exec(e.Domain, e.ID, payload, e.SecondaryKey, boolToInt(e.Active), e.UpdatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (db *DB) GetCatalogEntry(domain, id string) (*CatalogEntry, error) {
	row := db.QueryRow(`SELECT domain, id, payload, secondary_key, active, updated_at
		FROM catalog_entries WHERE domain = ? AND id = ?`, domain, id)
	e, err := scanCatalogEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (db *DB) GetCatalogEntryBySecondaryKey(domain, key string) (*CatalogEntry, error) {
	row := db.QueryRow(`SELECT domain, id, payload, secondary_key, active, updated_at
		FROM catalog_entries WHERE domain = ? AND secondary_key = ? LIMIT 1`, domain, key)
	e, err := scanCatalogEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// ListCatalogEntries returns entries for a domain, active ones only when
// activeOnly is set.
func (db *DB) ListCatalogEntries(domain string, activeOnly bool) ([]CatalogEntry, error) {
	q := `SELECT domain, id, payload, secondary_key, active, updated_at FROM catalog_entries WHERE domain = ?`
	if activeOnly {
		q += ` AND active = 1`
	}
	rows, err := db.Query(q+` ORDER BY id`, domain)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CatalogEntry
	for rows.Next() {
		e, err := scanCatalogEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// DeleteCatalogEntries removes records that became inactive remotely.
func (db *DB) DeleteCatalogEntries(domain string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, domain)
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := db.Exec(`DELETE FROM catalog_entries WHERE domain = ? AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (db *DB) CountCatalogEntries(domain string) (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM catalog_entries WHERE domain = ?`, domain).Scan(&n)
	return n, err
}

// GetSyncCursor returns the cursor for a domain, or nil before the first
// successful sync (cold bootstrap).
func (db *DB) GetSyncCursor(domain string) (*SyncCursor, error) {
	var c SyncCursor
	var refreshed string
	err := db.QueryRow(`SELECT domain, last_sync_at, record_count, refreshed_at FROM sync_cursors WHERE domain = ?`, domain).
		Scan(&c.Domain, &c.LastSyncAt, &c.RecordCount, &refreshed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.RefreshedAt = scanTime(refreshed)
	return &c, nil
}

func (db *DB) PutSyncCursor(domain, lastSyncAt string, recordCount int) error {
	_, err := db.Exec(`INSERT INTO sync_cursors (domain, last_sync_at, record_count, refreshed_at)
		VALUES (?, ?, ?, datetime('now','localtime'))
		ON CONFLICT(domain) DO UPDATE SET
			last_sync_at = excluded.last_sync_at,
			record_count = excluded.record_count,
			refreshed_at = excluded.refreshed_at`,
		domain, lastSyncAt, recordCount)
	return err
}

func (db *DB) ListSyncCursors() ([]SyncCursor, error) {
	rows, err := db.Query(`SELECT domain, last_sync_at, record_count, refreshed_at FROM sync_cursors ORDER BY domain`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SyncCursor
	for rows.Next() {
		var c SyncCursor
		var refreshed string
		if err := rows.Scan(&c.Domain, &c.LastSyncAt, &c.RecordCount, &refreshed); err != nil {
			return nil, err
		}
		c.RefreshedAt = scanTime(refreshed)
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCatalogEntry(row rowScanner) (*CatalogEntry, error) {
	var e CatalogEntry
	var payload string
	var active int
	if err := row.Scan(&e.Domain, &e.ID, &payload, &e.SecondaryKey, &active, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Payload = json.RawMessage(payload)
	e.Active = active != 0
	return &e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
