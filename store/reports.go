package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// dateLayout is the bucket key format for report snapshots.
const dateLayout = "2006-01-02"

// ReportEntry is a date-bucketed aggregate report snapshot.
type ReportEntry struct {
	ReportType string          `json:"report_type"`
	Date       string          `json:"date"`
	Payload    json.RawMessage `json:"payload"`
	CachedAt   time.Time       `json:"cached_at"`
}

// PutReportEntry upserts a snapshot by (type, date).
func (db *DB) PutReportEntry(reportType, date string, payload []byte) error {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	_, err := db.Exec(`INSERT INTO report_cache (report_type, report_date, payload, cached_at)
		VALUES (?, ?, ?, datetime('now','localtime'))
		ON CONFLICT(report_type, report_date) DO UPDATE SET
			payload = excluded.payload,
			cached_at = excluded.cached_at`,
		reportType, date, string(payload))
	return err
}

// PutReportEntries is the bulk variant of PutReportEntry.
func (db *DB) PutReportEntries(entries []ReportEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO report_cache (report_type, report_date, payload, cached_at)
		VALUES (?, ?, ?, datetime('now','localtime'))
		ON CONFLICT(report_type, report_date) DO UPDATE SET
			payload = excluded.payload,
			cached_at = excluded.cached_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		payload := string(e.Payload)
		if payload == "" {
			payload = "{}"
		}
		if _, err := stmt.Exec(e.ReportType, e.Date, payload); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetReportRange returns all snapshots of a type with from <= date <= to,
// ordered by date.
func (db *DB) GetReportRange(reportType, from, to string) ([]ReportEntry, error) {
	rows, err := db.Query(`SELECT report_type, report_date, payload, cached_at FROM report_cache
		WHERE report_type = ? AND report_date >= ? AND report_date <= ?
		ORDER BY report_date`, reportType, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReportEntry
	for rows.Next() {
		var e ReportEntry
		var payload, cachedAt string
		if err := rows.Scan(&e.ReportType, &e.Date, &payload, &cachedAt); err != nil {
			return nil, err
		}
		e.Payload = json.RawMessage(payload)
		e.CachedAt = scanTime(cachedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// PurgeReportsBefore deletes snapshots with a date bucket older than cutoff.
func (db *DB) PurgeReportsBefore(cutoff string) (int64, error) {
	res, err := db.Exec(`DELETE FROM report_cache WHERE report_date < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// LastReportCachedAt returns the most recent snapshot time for a report
// type, or nil when nothing is cached.
func (db *DB) LastReportCachedAt(reportType string) (*time.Time, error) {
	var cachedAt sql.NullString
	err := db.QueryRow(`SELECT MAX(cached_at) FROM report_cache WHERE report_type = ?`, reportType).Scan(&cachedAt)
	if err != nil {
		return nil, err
	}
	return scanTimePtr(cachedAt), nil
}
