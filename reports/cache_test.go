package reports

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"tillsync/backend"
	"tillsync/config"
	"tillsync/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type fakeRemote struct {
	reports map[string]json.RawMessage // "type/date" -> payload
	errs    map[string]error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		reports: make(map[string]json.RawMessage),
		errs:    make(map[string]error),
	}
}

func (f *fakeRemote) Ping(context.Context) error { return nil }

func (f *fakeRemote) FetchChangedSince(context.Context, string, string) ([]backend.ChangedRecord, error) {
	return nil, nil
}

func (f *fakeRemote) Insert(context.Context, string, []byte) (json.RawMessage, error) {
	return nil, nil
}

func (f *fakeRemote) Update(context.Context, string, string, []byte) (json.RawMessage, error) {
	return nil, nil
}

func (f *fakeRemote) Fetch(context.Context, string, string) (json.RawMessage, error) {
	return nil, nil
}

func (f *fakeRemote) FetchReport(_ context.Context, reportType, date string) (json.RawMessage, error) {
	key := reportType + "/" + date
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	if data, ok := f.reports[key]; ok {
		return data, nil
	}
	return nil, &backend.RemoteError{Kind: backend.KindDeleted, Message: "no report"}
}

type fakeEmitter struct{ cached int }

func (e *fakeEmitter) EmitReportsCached(string, int) { e.cached++ }

func newTestCache(t *testing.T, db *store.DB, remote backend.Client) (*Cache, *fakeEmitter) {
	t.Helper()
	emitter := &fakeEmitter{}
	return NewCache(db, remote, emitter, config.ReportsConfig{
		RetentionDays: 7,
		StaleAfter:    30 * time.Minute,
	}), emitter
}

func TestGetCompleteRange(t *testing.T) {
	db := testDB(t)
	cache, _ := newTestCache(t, db, newFakeRemote())

	for _, date := range []string{"2026-08-25", "2026-08-26", "2026-08-27"} {
		if err := cache.Put("daily_sales", date, []byte(`{"total":100}`)); err != nil {
			t.Fatalf("put %s: %v", date, err)
		}
	}

	got, err := cache.Get("daily_sales", "2026-08-25", "2026-08-27")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Complete {
		t.Error("range fully cached, want Complete")
	}
	if len(got.Entries) != 3 {
		t.Errorf("entries = %d, want 3", len(got.Entries))
	}
	if got.CachedAt == nil {
		t.Error("CachedAt should be set")
	}
}

func TestGetReturnsNewestCachedAt(t *testing.T) {
	db := testDB(t)
	cache, _ := newTestCache(t, db, newFakeRemote())

	cache.Put("daily_sales", "2026-08-25", []byte(`{}`))
	cache.Put("daily_sales", "2026-08-26", []byte(`{}`))
	// Backdate one bucket; the range read should surface the fresher stamp.
	if _, err := db.Exec(`UPDATE report_cache SET cached_at = '2026-08-01 00:00:00'
		WHERE report_type = 'daily_sales' AND report_date = '2026-08-25'`); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	got, err := cache.Get("daily_sales", "2026-08-25", "2026-08-26")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CachedAt == nil {
		t.Fatal("CachedAt should be set")
	}
	newest, _ := db.LastReportCachedAt("daily_sales")
	if !got.CachedAt.Equal(*newest) {
		t.Errorf("CachedAt = %v, want the most recent stamp %v", got.CachedAt, newest)
	}
	if got.CachedAt.Year() == 2026 && got.CachedAt.Month() == 8 && got.CachedAt.Day() == 1 {
		t.Error("CachedAt picked the backdated bucket")
	}
}

func TestGetIncompleteRange(t *testing.T) {
	db := testDB(t)
	cache, _ := newTestCache(t, db, newFakeRemote())

	cache.Put("daily_sales", "2026-08-25", []byte(`{}`))
	cache.Put("daily_sales", "2026-08-27", []byte(`{}`)) // 26th missing

	got, err := cache.Get("daily_sales", "2026-08-25", "2026-08-27")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Complete {
		t.Error("range has a gap, must not be Complete")
	}
	if len(got.Entries) != 2 {
		t.Errorf("entries = %d, want 2", len(got.Entries))
	}
}

func TestPutRejectsBadDate(t *testing.T) {
	db := testDB(t)
	cache, _ := newTestCache(t, db, newFakeRemote())

	if err := cache.Put("daily_sales", "08/25/2026", []byte(`{}`)); err == nil {
		t.Error("bad date format should fail")
	}
}

func TestRefreshRangeSkipsFailedBuckets(t *testing.T) {
	db := testDB(t)
	remote := newFakeRemote()
	remote.reports["daily_sales/2026-08-25"] = json.RawMessage(`{"total":50}`)
	remote.errs["daily_sales/2026-08-26"] = &backend.RemoteError{Kind: backend.KindUnavailable}
	remote.reports["daily_sales/2026-08-27"] = json.RawMessage(`{"total":75}`)
	cache, emitter := newTestCache(t, db, remote)

	n, err := cache.RefreshRange(context.Background(), "daily_sales", "2026-08-25", "2026-08-27")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if n != 2 {
		t.Errorf("cached = %d, want 2", n)
	}
	if emitter.cached != 1 {
		t.Errorf("cache emissions = %d, want 1", emitter.cached)
	}

	got, _ := cache.Get("daily_sales", "2026-08-25", "2026-08-27")
	if got.Complete {
		t.Error("failed bucket leaves the range incomplete")
	}
}

func TestRefreshRangeAllFailed(t *testing.T) {
	db := testDB(t)
	cache, _ := newTestCache(t, db, newFakeRemote())

	if _, err := cache.RefreshRange(context.Background(), "daily_sales", "2026-08-25", "2026-08-26"); err == nil {
		t.Error("expected error when nothing could be fetched")
	}
}

func TestIsStale(t *testing.T) {
	db := testDB(t)
	cache, _ := newTestCache(t, db, newFakeRemote())

	// Nothing cached: stale.
	stale, err := cache.IsStale("daily_sales", 0, time.Now())
	if err != nil {
		t.Fatalf("stale: %v", err)
	}
	if !stale {
		t.Error("empty cache should be stale")
	}

	cache.Put("daily_sales", "2026-08-29", []byte(`{}`))
	last, _ := db.LastReportCachedAt("daily_sales")

	// Fresh right now.
	stale, _ = cache.IsStale("daily_sales", 0, *last)
	if stale {
		t.Error("just-cached data should be fresh")
	}
	// Exactly at the threshold: still fresh. Only strictly older triggers.
	stale, _ = cache.IsStale("daily_sales", 0, last.Add(30*time.Minute))
	if stale {
		t.Error("exactly at the threshold should not be stale")
	}
	stale, _ = cache.IsStale("daily_sales", 0, last.Add(30*time.Minute+time.Second))
	if !stale {
		t.Error("past the threshold should be stale")
	}
	// A caller-supplied max age overrides the configured threshold.
	stale, _ = cache.IsStale("daily_sales", time.Minute, last.Add(2*time.Minute))
	if !stale {
		t.Error("tighter caller max age should report stale")
	}
	stale, _ = cache.IsStale("daily_sales", time.Hour, last.Add(45*time.Minute))
	if stale {
		t.Error("looser caller max age should report fresh")
	}
}

func TestPurgeExpired(t *testing.T) {
	db := testDB(t)
	cache, _ := newTestCache(t, db, newFakeRemote())

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	cache.Put("daily_sales", "2026-08-20", []byte(`{}`)) // older than 7 days
	cache.Put("daily_sales", "2026-08-28", []byte(`{}`))

	n, err := cache.PurgeExpired(now)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}

	got, _ := cache.Get("daily_sales", "2026-08-28", "2026-08-28")
	if len(got.Entries) != 1 {
		t.Error("recent snapshot should survive the purge")
	}
}

func TestDateRangeValidation(t *testing.T) {
	db := testDB(t)
	cache, _ := newTestCache(t, db, newFakeRemote())

	if _, err := cache.Get("daily_sales", "2026-08-27", "2026-08-25"); err == nil {
		t.Error("inverted range should fail")
	}
	if _, err := cache.Get("daily_sales", "yesterday", "2026-08-25"); err == nil {
		t.Error("bad date should fail")
	}
}
