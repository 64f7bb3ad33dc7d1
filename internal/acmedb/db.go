// Package acmedb reads and writes the acme-dns SQLite database.
//
// The database belongs to acme-dns, which keeps writing to it while the sidecar
// runs. Nothing here keeps a handle open between operations: every access goes
// through Database.WithDB, which opens a fresh handle and always closes it.
package acmedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Engine is the only database engine the sidecar can write to
const Engine = "sqlite3"

// Tables the sidecar requires in the acme-dns schema
const (
	RecordsTable = "records"
	TXTTable     = "txt"
)

// DefaultBusyTimeout bounds how long a write waits for the acme-dns lock
const DefaultBusyTimeout = 5 * time.Second

// Connector hands out a database handle that lives only for the duration of fn
type Connector interface {
	WithDB(ctx context.Context, fn func(db *sql.DB) error) error
}

// Database points at the acme-dns database file. It holds no open handle.
type Database struct {
	path        string
	busyTimeout time.Duration
}

var _ Connector = (*Database)(nil)

// New creates a Database for the SQLite file at path
func New(path string, busyTimeout time.Duration) *Database {
	if busyTimeout <= 0 {
		busyTimeout = DefaultBusyTimeout
	}
	return &Database{path: path, busyTimeout: busyTimeout}
}

// Path returns the database file path
func (d *Database) Path() string {
	return d.path
}

// dsn opens the file read-write without creating it, so a missing acme-dns
// database is never replaced by an empty one. Write transactions take the
// lock at BEGIN so the busy timeout applies to the whole transaction.
func (d *Database) dsn() string {
	q := url.Values{}
	q.Set("mode", "rw")
	q.Set("_busy_timeout", fmt.Sprint(d.busyTimeout.Milliseconds()))
	q.Set("_txlock", "immediate")
	return "file:" + escapePath(d.path) + "?" + q.Encode()
}

// escapePath percent-encodes each path segment. SQLite decodes the path of a
// file: URI, and an unescaped # or ? would end it early.
func escapePath(path string) string {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}

// WithDB opens a handle, pings it, runs fn and closes the handle on every path
func (d *Database) WithDB(ctx context.Context, fn func(db *sql.DB) error) (err error) {
	db, err := sql.Open(Engine, d.dsn())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close database: %w", closeErr))
		}
	}()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	return fn(db)
}
