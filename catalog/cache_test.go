package catalog

import (
	"context"
	"encoding/json"
	"errors"
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

// fakeRemote serves scripted change feeds per domain and records the
// cursors it was asked for.
type fakeRemote struct {
	changes map[string][]backend.ChangedRecord
	errs    map[string]error
	asked   map[string][]string // domain -> cursors requested
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		changes: make(map[string][]backend.ChangedRecord),
		errs:    make(map[string]error),
		asked:   make(map[string][]string),
	}
}

func (f *fakeRemote) Ping(context.Context) error { return nil }

func (f *fakeRemote) FetchChangedSince(_ context.Context, domain, cursor string) ([]backend.ChangedRecord, error) {
	f.asked[domain] = append(f.asked[domain], cursor)
	if err, ok := f.errs[domain]; ok {
		return nil, err
	}
	return f.changes[domain], nil
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

func (f *fakeRemote) FetchReport(context.Context, string, string) (json.RawMessage, error) {
	return nil, nil
}

type fakeEmitter struct {
	synced []string
}

func (e *fakeEmitter) EmitCatalogDomainSynced(domain string, _, _ int, _ string) {
	e.synced = append(e.synced, domain)
}

func newTestCache(t *testing.T, db *store.DB, remote backend.Client) (*Cache, *fakeEmitter) {
	t.Helper()
	emitter := &fakeEmitter{}
	return NewCache(db, remote, emitter, config.CatalogConfig{StaleAfter: 24 * time.Hour}), emitter
}

func TestSyncColdBootstrapKeepsInactive(t *testing.T) {
	db := testDB(t)
	remote := newFakeRemote()
	remote.changes[DomainProducts] = []backend.ChangedRecord{
		{ID: "prod-1", Payload: json.RawMessage(`{"sku":"A-100"}`), Active: true, UpdatedAt: "2026-08-01T10:00:00Z"},
		{ID: "prod-2", Payload: json.RawMessage(`{"sku":"A-200"}`), Active: false, UpdatedAt: "2026-08-01T11:00:00Z"},
	}
	cache, emitter := newTestCache(t, db, remote)

	res, err := cache.Sync(context.Background(), DomainProducts)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	// Bootstrap is a full pull: no delete pass, inactive records stored.
	if res.Applied != 2 || res.Removed != 0 {
		t.Fatalf("applied=%d removed=%d, want 2/0", res.Applied, res.Removed)
	}
	if res.Cursor != "2026-08-01T11:00:00Z" {
		t.Errorf("cursor = %s, want max updated_at", res.Cursor)
	}
	if remote.asked[DomainProducts][0] != "" {
		t.Errorf("bootstrap cursor = %q, want empty", remote.asked[DomainProducts][0])
	}
	if len(emitter.synced) != 1 {
		t.Errorf("synced emissions = %d, want 1", len(emitter.synced))
	}
}

func TestSyncIncrementalRemovesInactive(t *testing.T) {
	db := testDB(t)
	remote := newFakeRemote()
	remote.changes[DomainProducts] = []backend.ChangedRecord{
		{ID: "prod-1", Payload: json.RawMessage(`{"sku":"A-100"}`), Active: true, UpdatedAt: "2026-08-01T10:00:00Z"},
	}
	cache, _ := newTestCache(t, db, remote)

	if _, err := cache.Sync(context.Background(), DomainProducts); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	// Product went inactive remotely.
	remote.changes[DomainProducts] = []backend.ChangedRecord{
		{ID: "prod-1", Payload: json.RawMessage(`{"sku":"A-100"}`), Active: false, UpdatedAt: "2026-08-02T09:00:00Z"},
	}
	res, err := cache.Sync(context.Background(), DomainProducts)
	if err != nil {
		t.Fatalf("incremental: %v", err)
	}
	if res.Removed != 1 || res.Applied != 0 {
		t.Fatalf("applied=%d removed=%d, want 0/1", res.Applied, res.Removed)
	}
	if got := remote.asked[DomainProducts][1]; got != "2026-08-01T10:00:00Z" {
		t.Errorf("incremental cursor = %q, want previous max", got)
	}

	entry, _ := cache.Get(DomainProducts, "prod-1")
	if entry != nil {
		t.Error("inactive record should be removed from the cache")
	}
}

func TestSyncEmptyFeedKeepsCursor(t *testing.T) {
	db := testDB(t)
	remote := newFakeRemote()
	remote.changes[DomainProducts] = []backend.ChangedRecord{
		{ID: "prod-1", Payload: json.RawMessage(`{}`), Active: true, UpdatedAt: "2026-08-01T10:00:00Z"},
	}
	cache, _ := newTestCache(t, db, remote)
	cache.Sync(context.Background(), DomainProducts)

	remote.changes[DomainProducts] = nil
	res, err := cache.Sync(context.Background(), DomainProducts)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Cursor != "2026-08-01T10:00:00Z" {
		t.Errorf("cursor = %s, must not regress on an empty feed", res.Cursor)
	}
}

func TestSyncExtractsSecondaryKeys(t *testing.T) {
	db := testDB(t)
	remote := newFakeRemote()
	remote.changes[DomainCustomers] = []backend.ChangedRecord{
		{ID: "c-1", Payload: json.RawMessage(`{"name":"Ana","phone":"555-0100"}`), Active: true, UpdatedAt: "2026-08-01T10:00:00Z"},
	}
	cache, _ := newTestCache(t, db, remote)
	cache.Sync(context.Background(), DomainCustomers)

	entry, err := cache.GetBySecondaryKey(DomainCustomers, "555-0100")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if entry == nil || entry.ID != "c-1" {
		t.Fatalf("lookup miss: %+v", entry)
	}
}

func TestSyncAllContinuesPastFailures(t *testing.T) {
	db := testDB(t)
	remote := newFakeRemote()
	remote.errs[DomainProducts] = &backend.RemoteError{Kind: backend.KindUnavailable, Message: "503"}
	remote.changes[DomainCategories] = []backend.ChangedRecord{
		{ID: "cat-1", Payload: json.RawMessage(`{"name":"Drinks"}`), Active: true, UpdatedAt: "2026-08-01T10:00:00Z"},
	}
	cache, _ := newTestCache(t, db, remote)

	results, err := cache.SyncAll(context.Background())
	if err == nil {
		t.Fatal("expected a joined error for the failing domain")
	}
	// The failing domain must not block the rest.
	if len(results) != len(Domains)-1 {
		t.Errorf("results = %d, want %d", len(results), len(Domains)-1)
	}
	entry, _ := cache.Get(DomainCategories, "cat-1")
	if entry == nil {
		t.Error("categories should have synced despite products failing")
	}
}

func TestSyncUnknownDomain(t *testing.T) {
	db := testDB(t)
	cache, _ := newTestCache(t, db, newFakeRemote())
	if _, err := cache.Sync(context.Background(), "loyalty_tiers"); err == nil {
		t.Error("unknown domain should fail")
	}
}

func TestStatusReportsStaleAndBootstrap(t *testing.T) {
	db := testDB(t)
	remote := newFakeRemote()
	remote.changes[DomainProducts] = []backend.ChangedRecord{
		{ID: "prod-1", Payload: json.RawMessage(`{}`), Active: true, UpdatedAt: "2026-08-01T10:00:00Z"},
	}
	cache, _ := newTestCache(t, db, remote)
	cache.Sync(context.Background(), DomainProducts)

	status, err := cache.Status(time.Now())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	byDomain := make(map[string]DomainStatus)
	for _, s := range status {
		byDomain[s.Domain] = s
	}
	if s := byDomain[DomainProducts]; s.Stale || s.Bootstrap {
		t.Errorf("products = %+v, want fresh and bootstrapped", s)
	}
	if s := byDomain[DomainCustomers]; !s.Stale || !s.Bootstrap {
		t.Errorf("customers = %+v, want awaiting bootstrap", s)
	}

	// Far in the future everything is stale.
	status, _ = cache.Status(time.Now().Add(48 * time.Hour))
	for _, s := range status {
		if !s.Stale {
			t.Errorf("%s should be stale after 48h", s.Domain)
		}
	}
}

func TestSyncPropagatesBackendError(t *testing.T) {
	db := testDB(t)
	remote := newFakeRemote()
	remote.errs[DomainProducts] = errors.New("connection refused")
	cache, emitter := newTestCache(t, db, remote)

	if _, err := cache.Sync(context.Background(), DomainProducts); err == nil {
		t.Fatal("expected error")
	}
	if len(emitter.synced) != 0 {
		t.Error("no sync event should fire on failure")
	}
	if c, _ := db.GetSyncCursor(DomainProducts); c != nil {
		t.Error("cursor must not advance on failure")
	}
}
