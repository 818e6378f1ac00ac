package store

import (
	"database/sql"
	"time"
)

// localStampLayout matches sqlite's datetime('now','localtime'), which stamps
// locally written rows (queue items, conflicts, cache refresh times).
// Backend-originated timestamps (catalog updated_at, report buckets' source
// data) arrive as RFC3339 instead and are kept as strings by their types;
// when one does reach a scan it still parses here.
const localStampLayout = "2006-01-02 15:04:05"

// scanTime parses a stored timestamp. Local stamps carry no zone marker, so
// they are parsed in the terminal's zone; otherwise staleness math against
// time.Now() would be skewed by the UTC offset.
func scanTime(s string) time.Time {
	if t, err := time.ParseInLocation(localStampLayout, s, time.Local); err == nil {
		return t
	}
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

// scanTimePtr is scanTime for nullable columns (ended_at, resolved_at,
// next_attempt_at); NULL and unparseable values map to nil.
func scanTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := scanTime(ns.String)
	if t.IsZero() {
		return nil
	}
	return &t
}
