package schema

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/veltworks/velt/internal/conn"
)

// Bootstrapper declares the store's tables, indexes, and views idempotently.
// It runs once at startup, immediately after the integrity guardian, and is
// also invoked by the guardian to rebuild a fresh schema after corruption
// repair.
type Bootstrapper struct {
	mgr *conn.Manager
}

// NewBootstrapper creates a bootstrapper using the given connection manager.
// The manager must not carry a repair hook: the guardian calls back into the
// bootstrapper during repair, and a repair-hooked manager would re-enter it.
func NewBootstrapper(mgr *conn.Manager) *Bootstrapper {
	return &Bootstrapper{mgr: mgr}
}

// Ensure creates all schema objects. Running it twice produces identical
// final schema state with no duplication errors.
func (b *Bootstrapper) Ensure(ctx context.Context) error {
	return b.mgr.With(ctx, func(c *conn.Conn) error {
		for _, stmt := range AllSchemaSQL() {
			if _, err := c.DB().ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("schema: failed to execute schema statement: %w", err)
			}
		}

		if err := b.applyAdditiveColumns(ctx, c.DB()); err != nil {
			return err
		}

		// The view references additive columns, so it is created after them.
		if _, err := c.DB().ExecContext(ctx, CreateSlowQueriesViewSQL); err != nil {
			return fmt.Errorf("schema: failed to create view: %w", err)
		}
		return nil
	})
}

// applyAdditiveColumns introspects each table and issues the additive DDL
// only for columns that are absent.
func (b *Bootstrapper) applyAdditiveColumns(ctx context.Context, db *sql.DB) error {
	for _, ac := range additiveColumns {
		has, err := tableHasColumn(ctx, db, ac.table, ac.column)
		if err != nil {
			return fmt.Errorf("schema: failed to introspect %s: %w", ac.table, err)
		}
		if has {
			continue
		}
		if _, err := db.ExecContext(ctx, ac.ddl); err != nil {
			return fmt.Errorf("schema: failed to add column %s.%s: %w", ac.table, ac.column, err)
		}
		log.Printf("[INFO] schema: added column %s.%s", ac.table, ac.column)
	}
	return nil
}

// tableHasColumn reports whether the table currently has the named column,
// using PRAGMA table_info introspection.
func tableHasColumn(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue any
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
