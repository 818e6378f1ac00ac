package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Conflict classifications reported by the remote backend.
const (
	ConflictDuplicate       = "duplicate"
	ConflictFKViolation     = "fk_violation"
	ConflictVersionMismatch = "version_mismatch"
	ConflictDeleted         = "deleted"
)

// Conflict resolutions. Unresolved conflicts wait for an operator decision.
const (
	ResolutionUnresolved = "unresolved"
	ResolutionKeepLocal  = "keep_local"
	ResolutionKeepServer = "keep_server"
	ResolutionSkip       = "skip"
)

// ConflictRecord captures a divergence between local and remote state for a
// queue item. Records are never silently discarded.
type ConflictRecord struct {
	ID           int64           `json:"id"`
	QueueItemID  string          `json:"queue_item_id"`
	EntityType   string          `json:"entity_type"`
	EntityID     string          `json:"entity_id"`
	ConflictType string          `json:"conflict_type"`
	LocalData    json.RawMessage `json:"local_data"`
	ServerData   json.RawMessage `json:"server_data"`
	Resolution   string          `json:"resolution"`
	DetectedAt   time.Time       `json:"detected_at"`
	ResolvedAt   *time.Time      `json:"resolved_at"`
}

const conflictCols = `id, queue_item_id, entity_type, entity_id, conflict_type, local_data, server_data, resolution, detected_at, resolved_at`

func (db *DB) InsertConflict(queueItemID, entityType, entityID, conflictType string, localData, serverData []byte) (int64, error) {
	if len(localData) == 0 {
		localData = []byte("{}")
	}
	if len(serverData) == 0 {
		serverData = []byte("{}")
	}
	res, err := db.Exec(`INSERT INTO conflicts (queue_item_id, entity_type, entity_id, conflict_type, local_data, server_data)
		VALUES (?, ?, ?, ?, ?, ?)`,
		queueItemID, entityType, entityID, conflictType, string(localData), string(serverData))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (db *DB) GetConflict(id int64) (*ConflictRecord, error) {
	row := db.QueryRow(`SELECT `+conflictCols+` FROM conflicts WHERE id = ?`, id)
	c, err := scanConflict(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (db *DB) ListUnresolvedConflicts() ([]ConflictRecord, error) {
	rows, err := db.Query(`SELECT ` + conflictCols + ` FROM conflicts WHERE resolution = 'unresolved' ORDER BY detected_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanConflicts(rows)
}

func (db *DB) ListConflicts() ([]ConflictRecord, error) {
	rows, err := db.Query(`SELECT ` + conflictCols + ` FROM conflicts ORDER BY detected_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanConflicts(rows)
}

// MarkConflictResolved records the operator decision. Resolved records stay
// in the table for audit.
func (db *DB) MarkConflictResolved(id int64, resolution string) error {
	_, err := db.Exec(`UPDATE conflicts SET resolution = ?, resolved_at = datetime('now','localtime')
		WHERE id = ? AND resolution = 'unresolved'`, resolution, id)
	return err
}

// CountUnresolvedConflicts is used by the operator status endpoint.
func (db *DB) CountUnresolvedConflicts() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM conflicts WHERE resolution = 'unresolved'`).Scan(&n)
	return n, err
}

func scanConflict(row rowScanner) (*ConflictRecord, error) {
	var c ConflictRecord
	var local, server, detectedAt string
	var resolvedAt sql.NullString
	if err := row.Scan(&c.ID, &c.QueueItemID, &c.EntityType, &c.EntityID, &c.ConflictType,
		&local, &server, &c.Resolution, &detectedAt, &resolvedAt); err != nil {
		return nil, err
	}
	c.LocalData = json.RawMessage(local)
	c.ServerData = json.RawMessage(server)
	c.DetectedAt = scanTime(detectedAt)
	c.ResolvedAt = scanTimePtr(resolvedAt)
	return &c, nil
}

func scanConflicts(rows *sql.Rows) ([]ConflictRecord, error) {
	var out []ConflictRecord
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
