package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/veltworks/velt/internal/conn"
)

// DatabaseStats summarizes the physical state of the store.
type DatabaseStats struct {
	// TableRowCounts maps each user table to its current row count.
	TableRowCounts map[string]int64 `json:"table_row_counts"`
	// FileSizeBytes is the size of the backing file on disk.
	FileSizeBytes int64 `json:"file_size_bytes"`
	// Indexes lists all named indexes in the store.
	Indexes []string `json:"index_list"`
}

// OptimizeResult reports the outcome of store maintenance.
type OptimizeResult struct {
	AnalyzeResult string `json:"analyze_result"`
	VacuumResult  string `json:"vacuum_result"`
}

// TableExists reports whether a table with the given name exists.
func (e *Executor) TableExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := e.mgr.With(ctx, func(c *conn.Conn) error {
		var found string
		err := c.DB().QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&found)
		if err == nil {
			exists = true
			return nil
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	})
	return exists, err
}

// Stats returns per-table row counts, the backing file size, and the index
// inventory.
func (e *Executor) Stats(ctx context.Context) (*DatabaseStats, error) {
	stats := &DatabaseStats{TableRowCounts: make(map[string]int64)}

	err := e.mgr.With(ctx, func(c *conn.Conn) error {
		rows, err := c.DB().QueryContext(ctx,
			"SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'")
		if err != nil {
			return fmt.Errorf("query: failed to list tables: %w", err)
		}
		var tables []string
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				rows.Close()
				return fmt.Errorf("query: failed to scan table name: %w", err)
			}
			tables = append(tables, name)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("query: error iterating tables: %w", err)
		}

		for _, table := range tables {
			var count int64
			if err := c.DB().QueryRowContext(ctx,
				fmt.Sprintf("SELECT COUNT(*) FROM %q", table)).Scan(&count); err != nil {
				return fmt.Errorf("query: failed to count rows in %s: %w", table, err)
			}
			stats.TableRowCounts[table] = count
		}

		idxRows, err := c.DB().QueryContext(ctx,
			"SELECT name FROM sqlite_master WHERE type='index' AND name NOT LIKE 'sqlite_%' ORDER BY name")
		if err != nil {
			return fmt.Errorf("query: failed to list indexes: %w", err)
		}
		defer idxRows.Close()
		for idxRows.Next() {
			var name string
			if err := idxRows.Scan(&name); err != nil {
				return fmt.Errorf("query: failed to scan index name: %w", err)
			}
			stats.Indexes = append(stats.Indexes, name)
		}
		return idxRows.Err()
	})
	if err != nil {
		return nil, err
	}

	if info, err := os.Stat(e.mgr.Path()); err == nil {
		stats.FileSizeBytes = info.Size()
	}
	return stats, nil
}

// Optimize runs ANALYZE and VACUUM, reporting each outcome independently so
// a failed vacuum does not mask a successful analyze.
func (e *Executor) Optimize(ctx context.Context) (*OptimizeResult, error) {
	result := &OptimizeResult{}
	err := e.mgr.With(ctx, func(c *conn.Conn) error {
		if _, err := c.DB().ExecContext(ctx, "ANALYZE"); err != nil {
			result.AnalyzeResult = fmt.Sprintf("failed: %v", err)
		} else {
			result.AnalyzeResult = "ok"
		}

		// VACUUM cannot run inside a transaction; the handle is in
		// autocommit here.
		if _, err := c.DB().ExecContext(ctx, "VACUUM"); err != nil {
			result.VacuumResult = fmt.Sprintf("failed: %v", err)
		} else {
			result.VacuumResult = "ok"
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
