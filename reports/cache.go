// Package reports caches date-bucketed aggregate report snapshots so recent
// figures remain viewable while the backend is unreachable. Cached data may
// be stale; callers render the cached-at time alongside it.
package reports

import (
	"context"
	"fmt"
	"log"
	"time"

	"tillsync/backend"
	"tillsync/config"
	"tillsync/store"
)

const dateLayout = "2006-01-02"

// EventEmitter is the interface the report cache uses to announce updates.
type EventEmitter interface {
	EmitReportsCached(reportType string, dates int)
}

// CachedReport is the result of a range read: the snapshots found plus
// whether every date in the requested range was covered.
type CachedReport struct {
	ReportType string              `json:"report_type"`
	From       string              `json:"from"`
	To         string              `json:"to"`
	Entries    []store.ReportEntry `json:"entries"`
	Complete   bool                `json:"complete"`
	CachedAt   *time.Time          `json:"cached_at"`
}

// Cache is the report snapshot cache.
type Cache struct {
	db      *store.DB
	remote  backend.Client
	emitter EventEmitter
	cfg     config.ReportsConfig
}

// NewCache creates the report snapshot cache.
func NewCache(db *store.DB, remote backend.Client, emitter EventEmitter, cfg config.ReportsConfig) *Cache {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Minute
	}
	return &Cache{db: db, remote: remote, emitter: emitter, cfg: cfg}
}

// Put stores one snapshot, overwriting any prior copy of the same bucket.
func (c *Cache) Put(reportType, date string, payload []byte) error {
	if _, err := time.Parse(dateLayout, date); err != nil {
		return fmt.Errorf("bad report date %q: %w", date, err)
	}
	if err := c.db.PutReportEntry(reportType, date, payload); err != nil {
		return err
	}
	c.emitter.EmitReportsCached(reportType, 1)
	return nil
}

// RefreshRange pulls every date bucket in [from, to] from the backend and
// caches the results. A failed bucket is skipped so one bad day doesn't
// lose the rest; the count of cached buckets is returned.
func (c *Cache) RefreshRange(ctx context.Context, reportType, from, to string) (int, error) {
	dates, err := datesIn(from, to)
	if err != nil {
		return 0, err
	}

	var entries []store.ReportEntry
	for _, date := range dates {
		payload, err := c.remote.FetchReport(ctx, reportType, date)
		if err != nil {
			log.Printf("reports: fetch %s %s: %v", reportType, date, err)
			continue
		}
		entries = append(entries, store.ReportEntry{ReportType: reportType, Date: date, Payload: payload})
	}
	if len(entries) == 0 {
		return 0, fmt.Errorf("no %s buckets fetched for %s..%s", reportType, from, to)
	}
	if err := c.db.PutReportEntries(entries); err != nil {
		return 0, err
	}
	c.emitter.EmitReportsCached(reportType, len(entries))
	return len(entries), nil
}

// Get reads cached snapshots for a date range. Complete is set only when
// every date in the range has a snapshot; CachedAt is the most recent
// snapshot time among the returned entries.
func (c *Cache) Get(reportType, from, to string) (*CachedReport, error) {
	dates, err := datesIn(from, to)
	if err != nil {
		return nil, err
	}

	entries, err := c.db.GetReportRange(reportType, from, to)
	if err != nil {
		return nil, err
	}

	out := &CachedReport{ReportType: reportType, From: from, To: to, Entries: entries}
	covered := make(map[string]struct{}, len(entries))
	for i := range entries {
		covered[entries[i].Date] = struct{}{}
		if out.CachedAt == nil || entries[i].CachedAt.After(*out.CachedAt) {
			t := entries[i].CachedAt
			out.CachedAt = &t
		}
	}
	out.Complete = true
	for _, d := range dates {
		if _, ok := covered[d]; !ok {
			out.Complete = false
			break
		}
	}
	return out, nil
}

// IsStale reports whether the newest snapshot of a type is older than
// maxAge; maxAge <= 0 falls back to the configured threshold. A snapshot
// aged exactly at the threshold is still fresh; only strictly older data
// triggers a refresh. Nothing cached at all counts as stale.
func (c *Cache) IsStale(reportType string, maxAge time.Duration, now time.Time) (bool, error) {
	if maxAge <= 0 {
		maxAge = c.cfg.StaleAfter
	}
	last, err := c.db.LastReportCachedAt(reportType)
	if err != nil {
		return false, err
	}
	if last == nil {
		return true, nil
	}
	return now.Sub(*last) > maxAge, nil
}

// PurgeExpired removes snapshots whose date bucket fell out of the
// retention window.
func (c *Cache) PurgeExpired(now time.Time) (int64, error) {
	cutoff := now.AddDate(0, 0, -c.cfg.RetentionDays).Format(dateLayout)
	return c.db.PurgeReportsBefore(cutoff)
}

// datesIn enumerates the date buckets from from to to inclusive.
func datesIn(from, to string) ([]string, error) {
	start, err := time.Parse(dateLayout, from)
	if err != nil {
		return nil, fmt.Errorf("bad from date %q: %w", from, err)
	}
	end, err := time.Parse(dateLayout, to)
	if err != nil {
		return nil, fmt.Errorf("bad to date %q: %w", to, err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("date range %s..%s is inverted", from, to)
	}
	var dates []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format(dateLayout))
	}
	return dates, nil
}
