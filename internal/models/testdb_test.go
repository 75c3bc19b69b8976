// Copyright (c) 2025, the licentra contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// newTestDB opens an in-memory database with the application schema.
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err, "Failed to open test database")
	t.Cleanup(func() { db.Close() })

	// Every pooled connection to :memory: is a distinct database
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE resellers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			max_users_quota INTEGER,
			max_licenses_quota INTEGER,
			current_users_count INTEGER NOT NULL DEFAULT 0,
			current_licenses_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			reseller_id INTEGER REFERENCES resellers(id),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE licenses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			license_key TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL DEFAULT 'active',
			expires_at TIMESTAMP,
			max_devices INTEGER NOT NULL DEFAULT 1,
			device_type TEXT,
			notes TEXT,
			reseller_id INTEGER REFERENCES resellers(id),
			user_id INTEGER REFERENCES users(id),
			deleted_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE activations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			license_id INTEGER NOT NULL REFERENCES licenses(id),
			device_hash TEXT NOT NULL,
			device_info TEXT NOT NULL DEFAULT '{}',
			activated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_seen_at TIMESTAMP,
			UNIQUE (license_id, device_hash)
		);
	`)
	require.NoError(t, err, "Failed to create test schema")

	return db
}
