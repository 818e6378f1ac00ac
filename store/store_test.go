package store

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

// testDB creates a temporary SQLite database for testing.
func testDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// --- Queue tests ---

func TestEnqueueAndGet(t *testing.T) {
	db := testDB(t)

	item, err := db.EnqueueQueueItem("order", []byte(`{"id":"o-1","total":12.50}`), 500)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if item.ID == "" {
		t.Fatal("ID should be assigned")
	}
	if item.Status != StatusPending {
		t.Errorf("Status = %q, want %q", item.Status, StatusPending)
	}
	if item.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0", item.Attempts)
	}

	got, err := db.GetQueueItem(item.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("item not found")
	}
	if got.Type != "order" {
		t.Errorf("Type = %q, want order", got.Type)
	}
}

func TestEnqueueCapacityPurgesSynced(t *testing.T) {
	db := testDB(t)

	// Fill to capacity 3 and sync one.
	var first *QueueItem
	for i := 0; i < 3; i++ {
		item, err := db.EnqueueQueueItem("order", []byte(`{}`), 3)
		if err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
		if i == 0 {
			first = item
		}
	}
	if err := db.MarkQueueItemSynced(first.ID); err != nil {
		t.Fatalf("mark synced: %v", err)
	}

	// At capacity, but the synced item is evictable.
	if _, err := db.EnqueueQueueItem("order", []byte(`{}`), 3); err != nil {
		t.Fatalf("enqueue after purge: %v", err)
	}

	// Now all three are pending; the next enqueue must fail.
	if _, err := db.EnqueueQueueItem("order", []byte(`{}`), 3); err != ErrQueueFull {
		t.Errorf("err = %v, want ErrQueueFull", err)
	}

	counts, err := db.GetQueueCounts()
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.Pending != 3 || counts.Synced != 0 {
		t.Errorf("counts = %+v, want 3 pending, 0 synced", counts)
	}
}

func TestQueueStatusTransitions(t *testing.T) {
	db := testDB(t)

	item, _ := db.EnqueueQueueItem("payment", []byte(`{"id":"p-1"}`), 500)

	if err := db.MarkQueueItemSyncing(item.ID); err != nil {
		t.Fatalf("syncing: %v", err)
	}
	next := time.Now().Add(5 * time.Second)
	if err := db.MarkQueueItemRetry(item.ID, "timeout: deadline exceeded", next); err != nil {
		t.Fatalf("retry: %v", err)
	}

	got, _ := db.GetQueueItem(item.ID)
	if got.Status != StatusPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
	if got.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", got.Attempts)
	}
	if got.LastError == nil || *got.LastError == "" {
		t.Error("LastError should be recorded")
	}
	if got.NextAttemptAt == nil {
		t.Error("NextAttemptAt should be set")
	}

	if err := db.MarkQueueItemFailed(item.ID, "rejected"); err != nil {
		t.Fatalf("failed: %v", err)
	}
	got, _ = db.GetQueueItem(item.ID)
	if got.Status != StatusFailed {
		t.Errorf("Status = %q, want failed", got.Status)
	}
	if got.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", got.Attempts)
	}

	// Manual retry: back to pending, attempts preserved.
	if err := db.ResetQueueItemToPending(item.ID); err != nil {
		t.Fatalf("reset: %v", err)
	}
	got, _ = db.GetQueueItem(item.ID)
	if got.Status != StatusPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
	if got.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2 (preserved)", got.Attempts)
	}
}

func TestResetOnlyAppliesToFailed(t *testing.T) {
	db := testDB(t)

	item, _ := db.EnqueueQueueItem("order", []byte(`{}`), 500)
	db.MarkQueueItemSynced(item.ID)

	if err := db.ResetQueueItemToPending(item.ID); err != nil {
		t.Fatalf("reset: %v", err)
	}
	got, _ := db.GetQueueItem(item.ID)
	if got.Status != StatusSynced {
		t.Errorf("Status = %q, want synced (reset must not touch non-failed items)", got.Status)
	}
}

func TestListDueQueueItems(t *testing.T) {
	db := testDB(t)

	ready, _ := db.EnqueueQueueItem("order", []byte(`{}`), 500)
	backoff, _ := db.EnqueueQueueItem("order", []byte(`{}`), 500)
	db.MarkQueueItemRetry(backoff.ID, "unavailable", time.Now().Add(time.Hour))

	due, err := db.ListDueQueueItems(time.Now())
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(due) != 1 || due[0].ID != ready.ID {
		t.Fatalf("due = %d items, want only the unthrottled one", len(due))
	}

	// After the backoff window, both are due.
	due, _ = db.ListDueQueueItems(time.Now().Add(2 * time.Hour))
	if len(due) != 2 {
		t.Errorf("due = %d items, want 2", len(due))
	}
}

func TestRecoverOrphanedSyncing(t *testing.T) {
	db := testDB(t)

	item, _ := db.EnqueueQueueItem("order", []byte(`{}`), 500)
	db.MarkQueueItemSyncing(item.ID)

	n, err := db.RecoverOrphanedSyncing()
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if n != 1 {
		t.Errorf("recovered = %d, want 1", n)
	}
	got, _ := db.GetQueueItem(item.ID)
	if got.Status != StatusPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
}

// --- Conflict tests ---

func TestConflictLifecycle(t *testing.T) {
	db := testDB(t)

	id, err := db.InsertConflict("item-1", "order", "o-1", ConflictDuplicate,
		[]byte(`{"total":10}`), []byte(`{"total":12}`))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	c, err := db.GetConflict(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.Resolution != ResolutionUnresolved {
		t.Errorf("Resolution = %q, want unresolved", c.Resolution)
	}
	if c.ResolvedAt != nil {
		t.Error("ResolvedAt should be nil")
	}

	unresolved, _ := db.ListUnresolvedConflicts()
	if len(unresolved) != 1 {
		t.Fatalf("unresolved = %d, want 1", len(unresolved))
	}

	if err := db.MarkConflictResolved(id, ResolutionKeepLocal); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	c, _ = db.GetConflict(id)
	if c.Resolution != ResolutionKeepLocal {
		t.Errorf("Resolution = %q, want keep_local", c.Resolution)
	}
	if c.ResolvedAt == nil {
		t.Error("ResolvedAt should be set")
	}

	// Resolving again must not overwrite the recorded decision.
	db.MarkConflictResolved(id, ResolutionSkip)
	c, _ = db.GetConflict(id)
	if c.Resolution != ResolutionKeepLocal {
		t.Errorf("Resolution = %q, want keep_local (immutable once set)", c.Resolution)
	}

	// Resolved conflicts stay in the table for audit.
	all, _ := db.ListConflicts()
	if len(all) != 1 {
		t.Errorf("all = %d, want 1", len(all))
	}
}

func TestInsertConflictDefaultsEmptyData(t *testing.T) {
	db := testDB(t)

	id, err := db.InsertConflict("item-2", "payment", "p-1", ConflictDeleted, []byte(`{"id":"p-1"}`), nil)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	c, _ := db.GetConflict(id)
	if string(c.ServerData) != "{}" {
		t.Errorf("ServerData = %s, want {}", c.ServerData)
	}
}

// --- Catalog tests ---

func TestCatalogUpsertIdempotent(t *testing.T) {
	db := testDB(t)

	entries := []CatalogEntry{
		{Domain: "products", ID: "prod-1", Payload: []byte(`{"sku":"A-100","name":"Coffee"}`), SecondaryKey: "A-100", Active: true, UpdatedAt: "2026-08-01T10:00:00Z"},
		{Domain: "products", ID: "prod-2", Payload: []byte(`{"sku":"A-200","name":"Tea"}`), SecondaryKey: "A-200", Active: true, UpdatedAt: "2026-08-01T11:00:00Z"},
	}
	if err := db.UpsertCatalogEntries(entries); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	// Re-apply with a changed payload: last write wins, no duplicate rows.
	entries[0].Payload = []byte(`{"sku":"A-100","name":"Espresso"}`)
	if err := db.UpsertCatalogEntries(entries); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}

	n, _ := db.CountCatalogEntries("products")
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
	got, _ := db.GetCatalogEntry("products", "prod-1")
	if string(got.Payload) != `{"sku":"A-100","name":"Espresso"}` {
		t.Errorf("payload not overwritten: %s", got.Payload)
	}
}

func TestCatalogSecondaryKeyLookup(t *testing.T) {
	db := testDB(t)

	db.UpsertCatalogEntries([]CatalogEntry{
		{Domain: "customers", ID: "c-1", Payload: []byte(`{"phone":"555-0100"}`), SecondaryKey: "555-0100", Active: true, UpdatedAt: "2026-08-01T10:00:00Z"},
	})

	got, err := db.GetCatalogEntryBySecondaryKey("customers", "555-0100")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got == nil || got.ID != "c-1" {
		t.Fatalf("lookup miss, got %+v", got)
	}

	miss, _ := db.GetCatalogEntryBySecondaryKey("customers", "555-9999")
	if miss != nil {
		t.Error("expected nil for unknown key")
	}
}

func TestSyncCursorRoundTrip(t *testing.T) {
	db := testDB(t)

	c, err := db.GetSyncCursor("products")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c != nil {
		t.Fatal("cursor should be nil before first sync")
	}

	if err := db.PutSyncCursor("products", "2026-08-15T09:30:00Z", 42); err != nil {
		t.Fatalf("put: %v", err)
	}
	c, _ = db.GetSyncCursor("products")
	if c == nil {
		t.Fatal("cursor missing")
	}
	if c.LastSyncAt != "2026-08-15T09:30:00Z" || c.RecordCount != 42 {
		t.Errorf("cursor = %+v", c)
	}
	if c.RefreshedAt.IsZero() {
		t.Error("RefreshedAt should be stamped")
	}
}

// --- Report cache tests ---

func TestReportRangeAndPurge(t *testing.T) {
	db := testDB(t)

	for _, date := range []string{"2026-08-25", "2026-08-26", "2026-08-28"} {
		if err := db.PutReportEntry("daily_sales", date, []byte(`{"total":100}`)); err != nil {
			t.Fatalf("put %s: %v", date, err)
		}
	}

	entries, err := db.GetReportRange("daily_sales", "2026-08-25", "2026-08-28")
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if entries[0].Date != "2026-08-25" || entries[2].Date != "2026-08-28" {
		t.Errorf("entries out of order: %s .. %s", entries[0].Date, entries[2].Date)
	}

	n, err := db.PurgeReportsBefore("2026-08-26")
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Errorf("purged = %d, want 1", n)
	}
}

func TestLastReportCachedAt(t *testing.T) {
	db := testDB(t)

	last, err := db.LastReportCachedAt("daily_sales")
	if err != nil {
		t.Fatalf("last: %v", err)
	}
	if last != nil {
		t.Error("expected nil before any snapshot")
	}

	db.PutReportEntry("daily_sales", "2026-08-29", []byte(`{}`))
	last, _ = db.LastReportCachedAt("daily_sales")
	if last == nil {
		t.Fatal("expected a timestamp")
	}
}

// --- Timestamp scanning ---

func TestScanTimeKeepsLocalZone(t *testing.T) {
	got := scanTime("2026-08-30 12:00:00")
	want := time.Date(2026, 8, 30, 12, 0, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Errorf("scanTime = %v, want %v", got, want)
	}
	// Age math against the wall clock must not pick up the UTC offset.
	if d := want.Sub(got); d != 0 {
		t.Errorf("offset skew = %v, want 0", d)
	}
}

func TestScanTimeAcceptsRFC3339(t *testing.T) {
	got := scanTime("2026-08-30T10:00:00Z")
	want := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("scanTime = %v, want %v", got, want)
	}
}

func TestScanTimePtrNullAndGarbage(t *testing.T) {
	if p := scanTimePtr(sql.NullString{}); p != nil {
		t.Error("NULL should map to nil")
	}
	if p := scanTimePtr(sql.NullString{Valid: true, String: "not a time"}); p != nil {
		t.Error("unparseable text should map to nil")
	}
	if p := scanTimePtr(sql.NullString{Valid: true, String: "2026-08-30 12:00:00"}); p == nil {
		t.Error("valid stamp should parse")
	}
}

// --- Offline period tests ---

func TestOfflinePeriodLifecycle(t *testing.T) {
	db := testDB(t)

	open, _ := db.GetOpenOfflinePeriod()
	if open != nil {
		t.Fatal("no period should be open initially")
	}

	// Counters are no-ops while online.
	db.BumpOfflineCreated()

	if _, err := db.OpenOfflinePeriod(); err != nil {
		t.Fatalf("open: %v", err)
	}
	db.BumpOfflineCreated()
	db.BumpOfflineCreated()
	db.BumpOfflineSynced()

	open, _ = db.GetOpenOfflinePeriod()
	if open == nil {
		t.Fatal("period should be open")
	}
	if open.TxCreated != 2 || open.TxSynced != 1 {
		t.Errorf("counters = created %d synced %d, want 2/1", open.TxCreated, open.TxSynced)
	}

	if err := db.CloseOfflinePeriod(); err != nil {
		t.Fatalf("close: %v", err)
	}
	open, _ = db.GetOpenOfflinePeriod()
	if open != nil {
		t.Error("period should be closed")
	}

	history, _ := db.ListOfflinePeriods(10)
	if len(history) != 1 {
		t.Fatalf("history = %d, want 1", len(history))
	}
	if history[0].EndedAt == nil {
		t.Error("EndedAt should be set")
	}
}

func TestOpenOfflinePeriodClosesPrevious(t *testing.T) {
	db := testDB(t)

	db.OpenOfflinePeriod()
	db.OpenOfflinePeriod()

	history, _ := db.ListOfflinePeriods(10)
	if len(history) != 2 {
		t.Fatalf("history = %d, want 2", len(history))
	}
	openCount := 0
	for _, p := range history {
		if p.EndedAt == nil {
			openCount++
		}
	}
	if openCount != 1 {
		t.Errorf("open periods = %d, want exactly 1", openCount)
	}
}
