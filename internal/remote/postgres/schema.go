package postgres

// schema creates the remote tables. Ids are issued by the store, client_key
// makes inserts replayable and is_deleted keeps deletions visible to other
// devices.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    client_key TEXT UNIQUE,
    email TEXT NOT NULL DEFAULT '',
    display_name TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    is_deleted BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS decks (
    id TEXT PRIMARY KEY,
    client_key TEXT UNIQUE,
    user_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    is_deleted BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS cards (
    id TEXT PRIMARY KEY,
    client_key TEXT UNIQUE,
    user_id TEXT NOT NULL,
    deck_id TEXT NOT NULL,
    front_text TEXT NOT NULL,
    back_text TEXT NOT NULL DEFAULT '',
    front_image_url TEXT,
    back_image_url TEXT,
    stability DOUBLE PRECISION NOT NULL DEFAULT 0,
    difficulty DOUBLE PRECISION NOT NULL DEFAULT 0,
    due_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    last_reviewed_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    is_deleted BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS statistics (
    id TEXT PRIMARY KEY,
    client_key TEXT UNIQUE,
    user_id TEXT NOT NULL,
    day TEXT NOT NULL,
    cards_studied INTEGER NOT NULL DEFAULT 0,
    correct_count INTEGER NOT NULL DEFAULT 0,
    incorrect_count INTEGER NOT NULL DEFAULT 0,
    time_spent_seconds INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    is_deleted BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS practices (
    id TEXT PRIMARY KEY,
    client_key TEXT UNIQUE,
    user_id TEXT NOT NULL,
    deck_id TEXT NOT NULL,
    game_mode TEXT NOT NULL,
    score INTEGER NOT NULL DEFAULT 0,
    total INTEGER NOT NULL DEFAULT 0,
    duration_seconds INTEGER NOT NULL DEFAULT 0,
    practiced_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    is_deleted BOOLEAN NOT NULL DEFAULT false
);

CREATE INDEX IF NOT EXISTS idx_decks_user_updated ON decks(user_id, updated_at);
CREATE INDEX IF NOT EXISTS idx_cards_user_updated ON cards(user_id, updated_at);
CREATE INDEX IF NOT EXISTS idx_cards_deck ON cards(deck_id);
CREATE INDEX IF NOT EXISTS idx_statistics_user_updated ON statistics(user_id, updated_at);
CREATE INDEX IF NOT EXISTS idx_practices_user_updated ON practices(user_id, updated_at);
CREATE INDEX IF NOT EXISTS idx_practices_deck ON practices(deck_id);
`
