package db

import (
	"database/sql"
	"fmt"
)

// schema is the full database schema.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id            INTEGER PRIMARY KEY,
    username      TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'manager' CHECK (role IN ('admin', 'manager')),
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at    DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username_active
    ON users(username) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS items (
    id               TEXT PRIMARY KEY,
    type             TEXT NOT NULL CHECK (type IN ('id_card', 'credit_card', 'phone', 'birth_certificate', 'other')),
    name             TEXT NOT NULL,
    description      TEXT,
    found_date       TEXT,
    location         TEXT,
    contact_info     TEXT,
    extracted_info   TEXT NOT NULL DEFAULT '{}',
    phone_number     TEXT,
    pickup_locations TEXT NOT NULL DEFAULT '[]',
    image            BLOB,
    image_ref        TEXT,
    image_mime       TEXT,
    status           TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'pre-claimed', 'claimed')),
    created_at       DATETIME NOT NULL,
    updated_at       DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_items_created_at ON items(created_at);

CREATE TABLE IF NOT EXISTS claims (
    id                TEXT PRIMARY KEY,
    item_id           TEXT NOT NULL REFERENCES items(id),
    verification_info TEXT NOT NULL DEFAULT '{}',
    status            TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'pre-claimed', 'claimed', 'rejected')),
    claim_date        DATETIME NOT NULL,
    tip_amount        INTEGER,
    rating            INTEGER CHECK (rating BETWEEN 1 AND 5),
    referral          INTEGER,
    tip_message       TEXT,
    tip_checkout_id   TEXT,
    tip_phone         TEXT,
    updated_at        DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_claims_item_status_date
    ON claims(item_id, status, claim_date);

-- At most one open claim per item.
CREATE UNIQUE INDEX IF NOT EXISTS idx_claims_one_open_per_item
    ON claims(item_id) WHERE status = 'pre-claimed';

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS revoked_tokens (
    jti        TEXT PRIMARY KEY,
    expires_at DATETIME NOT NULL
);
`

// migrations is a list of SQL statements applied in order after schema creation.
// Each migration must be idempotent. Append new migrations at the end.
var migrations = []string{
	// Migration 1: look up claims by the gateway's checkout id on callback.
	`CREATE INDEX IF NOT EXISTS idx_claims_tip_checkout_id
	     ON claims(tip_checkout_id) WHERE tip_checkout_id IS NOT NULL`,
}

// EnsureSchema creates all tables and indexes if they don't already exist,
// then applies migrations.
func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	for i, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("running migration %d: %w", i+1, err)
		}
	}

	return nil
}
