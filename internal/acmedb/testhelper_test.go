package acmedb

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// acmeDNSSchema is the schema acme-dns creates for its SQLite backend
var acmeDNSSchema = []string{
	`CREATE TABLE IF NOT EXISTS records(
		Username TEXT UNIQUE NOT NULL PRIMARY KEY,
		Password TEXT UNIQUE NOT NULL,
		Subdomain TEXT UNIQUE NOT NULL,
		AllowFrom TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS txt(
		Subdomain TEXT NOT NULL,
		Value   TEXT NOT NULL DEFAULT '',
		LastUpdate INT
	)`,
}

// sharedSubdomainSchema drops the UNIQUE constraint on records.Subdomain so
// two accounts can point at one subdomain
var sharedSubdomainSchema = []string{
	`CREATE TABLE IF NOT EXISTS records(
		Username TEXT UNIQUE NOT NULL PRIMARY KEY,
		Password TEXT UNIQUE NOT NULL,
		Subdomain TEXT NOT NULL,
		AllowFrom TEXT
	)`,
	acmeDNSSchema[1],
}

// setupTestDB creates an on-disk SQLite database with the given schema
func setupTestDB(t *testing.T, schema []string) (*Database, *sql.DB) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "acme-dns.db")
	return New(path, 0), createSchema(t, path, schema)
}

// createSchema creates the database file at path through a plain file name,
// bypassing the sidecar's DSN
func createSchema(t *testing.T, path string, schema []string) *sql.DB {
	t.Helper()

	raw, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		raw.Close()
	})

	for _, stmt := range schema {
		if _, err := raw.Exec(stmt); err != nil {
			t.Fatalf("failed to create schema: %v", err)
		}
	}

	return raw
}

func countRows(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()

	var n int
	if err := db.QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	return n
}
