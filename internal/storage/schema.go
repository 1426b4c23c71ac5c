package storage

// migrations are applied in order; the number applied so far is kept in
// PRAGMA user_version. Never edit a released entry, append a new one.
var migrations = []string{
	// 1: base tables. Every syncable table carries cloud_id, client_key,
	// last_modified and sync_status.
	`
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    cloud_id TEXT UNIQUE,
    client_key TEXT UNIQUE,
    email TEXT NOT NULL DEFAULT '',
    display_name TEXT NOT NULL DEFAULT '',
    last_modified TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    sync_status TEXT NOT NULL DEFAULT 'synced'
        CHECK (sync_status IN ('synced', 'pending_create', 'pending_update', 'pending_delete'))
);

CREATE TABLE IF NOT EXISTS decks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    cloud_id TEXT UNIQUE,
    client_key TEXT UNIQUE,
    user_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    last_modified TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    sync_status TEXT NOT NULL DEFAULT 'synced'
        CHECK (sync_status IN ('synced', 'pending_create', 'pending_update', 'pending_delete')),

    FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
);

-- front_image/back_image hold a local file path until uploaded, then the public URL.
CREATE TABLE IF NOT EXISTS cards (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    cloud_id TEXT UNIQUE,
    client_key TEXT UNIQUE,
    deck_id INTEGER NOT NULL,
    front TEXT NOT NULL,
    back TEXT NOT NULL DEFAULT '',
    front_image TEXT,
    back_image TEXT,
    stability REAL NOT NULL DEFAULT 0,
    difficulty REAL NOT NULL DEFAULT 0,
    due_date TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    last_review TEXT,
    created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    last_modified TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    sync_status TEXT NOT NULL DEFAULT 'synced'
        CHECK (sync_status IN ('synced', 'pending_create', 'pending_update', 'pending_delete')),

    FOREIGN KEY(deck_id) REFERENCES decks(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS statistics (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    cloud_id TEXT UNIQUE,
    client_key TEXT UNIQUE,
    user_id INTEGER NOT NULL,
    day TEXT NOT NULL,
    cards_studied INTEGER NOT NULL DEFAULT 0,
    correct_count INTEGER NOT NULL DEFAULT 0,
    incorrect_count INTEGER NOT NULL DEFAULT 0,
    time_spent_seconds INTEGER NOT NULL DEFAULT 0,
    last_modified TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    sync_status TEXT NOT NULL DEFAULT 'synced'
        CHECK (sync_status IN ('synced', 'pending_create', 'pending_update', 'pending_delete')),

    FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS practices (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    cloud_id TEXT UNIQUE,
    client_key TEXT UNIQUE,
    deck_id INTEGER NOT NULL,
    mode TEXT NOT NULL,
    score INTEGER NOT NULL DEFAULT 0,
    total INTEGER NOT NULL DEFAULT 0,
    duration_seconds INTEGER NOT NULL DEFAULT 0,
    practiced_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    last_modified TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    sync_status TEXT NOT NULL DEFAULT 'synced'
        CHECK (sync_status IN ('synced', 'pending_create', 'pending_update', 'pending_delete')),

    FOREIGN KEY(deck_id) REFERENCES decks(id) ON DELETE CASCADE
);
`,
	// 2: lookup indexes for the push selection, the pull watermark and the
	// parent joins.
	`
CREATE INDEX IF NOT EXISTS idx_users_sync ON users(sync_status, last_modified);
CREATE INDEX IF NOT EXISTS idx_decks_sync ON decks(sync_status, last_modified);
CREATE INDEX IF NOT EXISTS idx_cards_sync ON cards(sync_status, last_modified);
CREATE INDEX IF NOT EXISTS idx_statistics_sync ON statistics(sync_status, last_modified);
CREATE INDEX IF NOT EXISTS idx_practices_sync ON practices(sync_status, last_modified);

CREATE INDEX IF NOT EXISTS idx_decks_user ON decks(user_id);
CREATE INDEX IF NOT EXISTS idx_cards_deck ON cards(deck_id);
CREATE INDEX IF NOT EXISTS idx_statistics_user_day ON statistics(user_id, day);
CREATE INDEX IF NOT EXISTS idx_practices_deck ON practices(deck_id);
`,
}
