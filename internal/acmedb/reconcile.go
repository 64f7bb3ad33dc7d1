package acmedb

import (
	"context"
	"database/sql"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/foxzi/acme-dns-sidecar/internal/credential"
)

// BcryptCost matches the cost acme-dns uses when it registers accounts itself
const BcryptCost = 10

const (
	upsertRecordQuery = `INSERT INTO records (Username, Password, Subdomain, AllowFrom)
VALUES (?, ?, ?, '[]')
ON CONFLICT(Username) DO UPDATE SET Password = excluded.Password, Subdomain = excluded.Subdomain`

	deleteTXTQuery = `DELETE FROM txt WHERE Subdomain = ?`

	insertTXTQuery = `INSERT INTO txt (Subdomain, LastUpdate) VALUES (?, 0)`
)

// Reconciler writes validated credentials into the acme-dns tables
type Reconciler struct {
	conn Connector
	cost int
}

// NewReconciler creates a Reconciler writing through conn
func NewReconciler(conn Connector) *Reconciler {
	return &Reconciler{conn: conn, cost: BcryptCost}
}

// Reconcile stores rec in one transaction: the account row is inserted or
// has its password hash and subdomain refreshed (AllowFrom is kept), and the
// subdomain's TXT rows are replaced by a single fresh row. A failed
// transaction changes nothing.
func (r *Reconciler) Reconcile(ctx context.Context, rec credential.Record) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(rec.Password), r.cost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	return r.conn.WithDB(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, upsertRecordQuery, rec.Username.String(), string(hash), rec.Subdomain); err != nil {
			return fmt.Errorf("failed to upsert record: %w", err)
		}
		if _, err := tx.ExecContext(ctx, deleteTXTQuery, rec.Subdomain); err != nil {
			return fmt.Errorf("failed to delete txt rows: %w", err)
		}
		if _, err := tx.ExecContext(ctx, insertTXTQuery, rec.Subdomain); err != nil {
			return fmt.Errorf("failed to insert txt row: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	})
}
