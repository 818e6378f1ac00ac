package store

const schema = `
CREATE TABLE IF NOT EXISTS operators (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    username      TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at    TEXT NOT NULL DEFAULT (datetime('now','localtime'))
);

CREATE TABLE IF NOT EXISTS queue_items (
    id              TEXT PRIMARY KEY,
    item_type       TEXT NOT NULL,
    payload         TEXT NOT NULL,
    status          TEXT NOT NULL DEFAULT 'pending',
    attempts        INTEGER NOT NULL DEFAULT 0,
    last_error      TEXT,
    next_attempt_at TEXT,
    created_at      TEXT NOT NULL DEFAULT (datetime('now','localtime'))
);
CREATE INDEX IF NOT EXISTS idx_queue_status ON queue_items(status);
CREATE INDEX IF NOT EXISTS idx_queue_type_created ON queue_items(item_type, created_at);

CREATE TABLE IF NOT EXISTS conflicts (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    queue_item_id TEXT NOT NULL,
    entity_type   TEXT NOT NULL,
    entity_id     TEXT NOT NULL,
    conflict_type TEXT NOT NULL,
    local_data    TEXT NOT NULL DEFAULT '{}',
    server_data   TEXT NOT NULL DEFAULT '{}',
    resolution    TEXT NOT NULL DEFAULT 'unresolved',
    detected_at   TEXT NOT NULL DEFAULT (datetime('now','localtime')),
    resolved_at   TEXT
);
CREATE INDEX IF NOT EXISTS idx_conflicts_unresolved ON conflicts(resolution) WHERE resolution = 'unresolved';

CREATE TABLE IF NOT EXISTS catalog_entries (
    domain        TEXT NOT NULL,
    id            TEXT NOT NULL,
    payload       TEXT NOT NULL DEFAULT '{}',
    secondary_key TEXT NOT NULL DEFAULT '',
    active        INTEGER NOT NULL DEFAULT 1,
    updated_at    TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (domain, id)
);
CREATE INDEX IF NOT EXISTS idx_catalog_secondary ON catalog_entries(domain, secondary_key);

CREATE TABLE IF NOT EXISTS sync_cursors (
    domain       TEXT PRIMARY KEY,
    last_sync_at TEXT NOT NULL,
    record_count INTEGER NOT NULL DEFAULT 0,
    refreshed_at TEXT NOT NULL DEFAULT (datetime('now','localtime'))
);

CREATE TABLE IF NOT EXISTS report_cache (
    report_type TEXT NOT NULL,
    report_date TEXT NOT NULL,
    payload     TEXT NOT NULL DEFAULT '{}',
    cached_at   TEXT NOT NULL DEFAULT (datetime('now','localtime')),
    PRIMARY KEY (report_type, report_date)
);
CREATE INDEX IF NOT EXISTS idx_report_date ON report_cache(report_date);

CREATE TABLE IF NOT EXISTS offline_periods (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at TEXT NOT NULL DEFAULT (datetime('now','localtime')),
    ended_at   TEXT,
    tx_created INTEGER NOT NULL DEFAULT 0,
    tx_synced  INTEGER NOT NULL DEFAULT 0,
    tx_failed  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_periods_open ON offline_periods(ended_at) WHERE ended_at IS NULL;
`

func (db *DB) migrate() error {
	_, err := db.Exec(schema)
	if err != nil {
		return err
	}
	// Graceful migrations for existing DBs
	db.Exec("ALTER TABLE queue_items ADD COLUMN next_attempt_at TEXT")
	db.Exec("ALTER TABLE catalog_entries ADD COLUMN secondary_key TEXT NOT NULL DEFAULT ''")
	db.Exec("ALTER TABLE sync_cursors ADD COLUMN refreshed_at TEXT NOT NULL DEFAULT ''")
	return nil
}
