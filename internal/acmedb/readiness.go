package acmedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultPollInterval is the delay between readiness checks
const DefaultPollInterval = time.Second

// ErrNotReady is matched by every NotReadyError
var ErrNotReady = errors.New("acme-dns database is not ready")

// NotReadyError describes which readiness precondition is unmet
type NotReadyError struct {
	// MissingFile is set when the database file does not exist yet
	MissingFile bool
	// MissingTables lists required tables absent from the schema
	MissingTables []string
}

func (e *NotReadyError) Error() string {
	if e.MissingFile {
		return "database file does not exist"
	}
	return fmt.Sprintf("database schema is missing tables: %s", strings.Join(e.MissingTables, ", "))
}

func (e *NotReadyError) Is(target error) bool {
	return target == ErrNotReady
}

// Gate blocks until the acme-dns database exists and carries its schema
type Gate struct {
	path     string
	conn     Connector
	interval time.Duration
	logger   *slog.Logger
}

// NewGate creates a readiness gate for the database file at path
func NewGate(path string, conn Connector, interval time.Duration, logger *slog.Logger) *Gate {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Gate{
		path:     path,
		conn:     conn,
		interval: interval,
		logger:   logger,
	}
}

// Check performs a single readiness check. No connection is opened while
// the database file is missing.
func (g *Gate) Check(ctx context.Context) error {
	if _, err := os.Stat(g.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &NotReadyError{MissingFile: true}
		}
		return fmt.Errorf("failed to stat database file: %w", err)
	}

	return g.conn.WithDB(ctx, func(db *sql.DB) error {
		missing, err := missingTables(ctx, db)
		if err != nil {
			return err
		}
		if len(missing) > 0 {
			return &NotReadyError{MissingTables: missing}
		}
		return nil
	})
}

// Wait polls Check at a fixed interval until it succeeds or ctx is done.
// There is no retry limit.
func (g *Gate) Wait(ctx context.Context) error {
	b := backoff.WithContext(backoff.NewConstantBackOff(g.interval), ctx)

	err := backoff.RetryNotify(func() error {
		return g.Check(ctx)
	}, b, g.notify)
	if err != nil {
		return err
	}

	g.logger.Info("database ready", "path", g.path)
	return nil
}

func (g *Gate) notify(err error, next time.Duration) {
	var notReady *NotReadyError
	switch {
	case errors.As(err, &notReady) && notReady.MissingFile:
		g.logger.Info("waiting for database file", "path", g.path, "retry_in", next)
	case errors.As(err, &notReady):
		g.logger.Info("waiting for database schema", "path", g.path, "missing_tables", notReady.MissingTables, "retry_in", next)
	default:
		g.logger.Warn("database readiness check failed", "path", g.path, "error", err, "retry_in", next)
	}
}

func missingTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name IN (?, ?)`,
		RecordsTable, TXTTable,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}
	defer rows.Close()

	present := make(map[string]bool, 2)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		present[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}

	var missing []string
	for _, table := range []string{RecordsTable, TXTTable} {
		if !present[table] {
			missing = append(missing, table)
		}
	}
	return missing, nil
}
