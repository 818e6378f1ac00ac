// Package catalog maintains the local read cache of backend reference data:
// products, categories, prices, customers, and promotions. The cache is
// refreshed incrementally from the backend and serves all reads during
// outages; cache data is never pushed back.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"tillsync/backend"
	"tillsync/config"
	"tillsync/store"
)

// Cache domains, refreshed independently.
const (
	DomainProducts              = "products"
	DomainCategories            = "categories"
	DomainCustomerCategories    = "customer_categories"
	DomainProductCategoryPrices = "product_category_prices"
	DomainCustomers             = "customers"
	DomainPromotions            = "promotions"
)

// Domain describes one reference-data domain. SecondaryKeyField names the
// payload field indexed for alternate lookup (SKU scans, customer phone
// search); empty means ID-only lookup.
type Domain struct {
	Name              string
	SecondaryKeyField string
}

// Domains lists every cached domain in refresh order. Price rules refresh
// after the products and categories they reference.
var Domains = []Domain{
	{Name: DomainProducts, SecondaryKeyField: "sku"},
	{Name: DomainCategories, SecondaryKeyField: ""},
	{Name: DomainCustomerCategories, SecondaryKeyField: "slug"},
	{Name: DomainProductCategoryPrices, SecondaryKeyField: ""},
	{Name: DomainCustomers, SecondaryKeyField: "phone"},
	{Name: DomainPromotions, SecondaryKeyField: "code"},
}

// DomainNames returns the registered domain names in refresh order.
func DomainNames() []string {
	names := make([]string, len(Domains))
	for i, d := range Domains {
		names[i] = d.Name
	}
	return names
}

func domainByName(name string) (Domain, bool) {
	for _, d := range Domains {
		if d.Name == name {
			return d, true
		}
	}
	return Domain{}, false
}

// EventEmitter is the interface the cache uses to announce refreshes.
type EventEmitter interface {
	EmitCatalogDomainSynced(domain string, applied, removed int, cursor string)
}

// SyncResult summarizes one domain refresh.
type SyncResult struct {
	Domain  string `json:"domain"`
	Applied int    `json:"applied"`
	Removed int    `json:"removed"`
	Cursor  string `json:"cursor"`
}

// DomainStatus is the freshness view of one domain for the status endpoint.
type DomainStatus struct {
	Domain      string    `json:"domain"`
	RecordCount int       `json:"record_count"`
	Cursor      string    `json:"cursor"`
	RefreshedAt time.Time `json:"refreshed_at"`
	Stale       bool      `json:"stale"`
	Bootstrap   bool      `json:"bootstrap"`
}

// Cache is the reference-data read cache. Refreshes are serialized per
// domain; reads never block behind a refresh of a different domain.
type Cache struct {
	db      *store.DB
	remote  backend.Client
	emitter EventEmitter
	cfg     config.CatalogConfig

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewCache creates the catalog read cache.
func NewCache(db *store.DB, remote backend.Client, emitter EventEmitter, cfg config.CatalogConfig) *Cache {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 24 * time.Hour
	}
	return &Cache{
		db:      db,
		remote:  remote,
		emitter: emitter,
		cfg:     cfg,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (c *Cache) domainLock(domain string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[domain]
	if !ok {
		l = &sync.Mutex{}
		c.locks[domain] = l
	}
	return l
}

// Sync refreshes one domain from the backend. The first sync of a domain is
// a cold bootstrap: a full pull with no delete pass, since without a cursor
// an absent record is indistinguishable from an unchanged one. Incremental
// syncs apply changed records and remove the ones that went inactive.
func (c *Cache) Sync(ctx context.Context, domain string) (*SyncResult, error) {
	d, ok := domainByName(domain)
	if !ok {
		return nil, fmt.Errorf("unknown cache domain %q", domain)
	}

	l := c.domainLock(domain)
	l.Lock()
	defer l.Unlock()

	cursor, err := c.db.GetSyncCursor(domain)
	if err != nil {
		return nil, err
	}
	since := ""
	if cursor != nil {
		since = cursor.LastSyncAt
	}

	records, err := c.remote.FetchChangedSince(ctx, domain, since)
	if err != nil {
		return nil, fmt.Errorf("fetch %s changes: %w", domain, err)
	}

	var upserts []store.CatalogEntry
	var removeIDs []string
	maxCursor := since
	for _, rec := range records {
		if rec.UpdatedAt > maxCursor {
			maxCursor = rec.UpdatedAt
		}
		if cursor != nil && !rec.Active {
			removeIDs = append(removeIDs, rec.ID)
			continue
		}
		upserts = append(upserts, store.CatalogEntry{
			Domain:       domain,
			ID:           rec.ID,
			Payload:      rec.Payload,
			SecondaryKey: secondaryKey(d, rec.Payload),
			Active:       rec.Active,
			UpdatedAt:    rec.UpdatedAt,
		})
	}

	if err := c.db.UpsertCatalogEntries(upserts); err != nil {
		return nil, fmt.Errorf("apply %s changes: %w", domain, err)
	}
	removed := 0
	if len(removeIDs) > 0 {
		n, err := c.db.DeleteCatalogEntries(domain, removeIDs)
		if err != nil {
			return nil, fmt.Errorf("remove inactive %s records: %w", domain, err)
		}
		removed = int(n)
	}

	count, err := c.db.CountCatalogEntries(domain)
	if err != nil {
		return nil, err
	}
	if err := c.db.PutSyncCursor(domain, maxCursor, count); err != nil {
		return nil, fmt.Errorf("advance %s cursor: %w", domain, err)
	}

	res := &SyncResult{Domain: domain, Applied: len(upserts), Removed: removed, Cursor: maxCursor}
	c.emitter.EmitCatalogDomainSynced(domain, res.Applied, res.Removed, res.Cursor)
	return res, nil
}

// SyncAll refreshes every domain. A failing domain doesn't block the rest;
// all failures are joined into the returned error.
func (c *Cache) SyncAll(ctx context.Context) ([]SyncResult, error) {
	var results []SyncResult
	var errs []error
	for _, d := range Domains {
		res, err := c.Sync(ctx, d.Name)
		if err != nil {
			log.Printf("catalog: sync %s: %v", d.Name, err)
			errs = append(errs, fmt.Errorf("%s: %w", d.Name, err))
			continue
		}
		results = append(results, *res)
	}
	return results, errors.Join(errs...)
}

// Get returns one cached record by ID, or nil when not cached.
func (c *Cache) Get(domain, id string) (*store.CatalogEntry, error) {
	return c.db.GetCatalogEntry(domain, id)
}

// GetBySecondaryKey looks a record up by its domain's alternate key, e.g. a
// product by SKU or a customer by phone.
func (c *Cache) GetBySecondaryKey(domain, key string) (*store.CatalogEntry, error) {
	return c.db.GetCatalogEntryBySecondaryKey(domain, key)
}

// List returns the cached records of a domain, active ones only by default.
func (c *Cache) List(domain string, includeInactive bool) ([]store.CatalogEntry, error) {
	return c.db.ListCatalogEntries(domain, !includeInactive)
}

// Status reports per-domain freshness. A domain is stale when its last
// refresh is older than the configured threshold; a domain never synced is
// reported as awaiting bootstrap.
func (c *Cache) Status(now time.Time) ([]DomainStatus, error) {
	cursors, err := c.db.ListSyncCursors()
	if err != nil {
		return nil, err
	}
	byDomain := make(map[string]store.SyncCursor, len(cursors))
	for _, cur := range cursors {
		byDomain[cur.Domain] = cur
	}

	out := make([]DomainStatus, 0, len(Domains))
	for _, d := range Domains {
		cur, ok := byDomain[d.Name]
		if !ok {
			out = append(out, DomainStatus{Domain: d.Name, Stale: true, Bootstrap: true})
			continue
		}
		out = append(out, DomainStatus{
			Domain:      d.Name,
			RecordCount: cur.RecordCount,
			Cursor:      cur.LastSyncAt,
			RefreshedAt: cur.RefreshedAt,
			Stale:       now.Sub(cur.RefreshedAt) > c.cfg.StaleAfter,
		})
	}
	return out, nil
}

// secondaryKey extracts the domain's alternate-lookup field from a payload.
func secondaryKey(d Domain, payload json.RawMessage) string {
	if d.SecondaryKeyField == "" {
		return ""
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(payload, &probe); err != nil {
		return ""
	}
	raw, ok := probe[d.SecondaryKeyField]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
