// Package query executes validated, parameterized statements against the
// backing store. It is the steady-state entry point for all business-logic
// callers: it normalizes parameters and result rows, measures execution
// end-to-end, and feeds the metrics recorder.
package query

import (
	"context"
	"database/sql"
	"strings"
	"sync/atomic"
	"time"

	"github.com/veltworks/velt/internal/conn"
	"github.com/veltworks/velt/internal/errors"
	"github.com/veltworks/velt/pkg/types"
)

// Options controls a single execution.
type Options struct {
	// Fetch selects read semantics: return rows instead of affected count.
	Fetch bool
	// UserID optionally attributes the execution to an end user.
	UserID string
	// Endpoint optionally names the API surface issuing the statement.
	Endpoint string
}

// Result is the outcome of an execution: Rows for fetches, Affected for
// mutations.
type Result struct {
	Rows     []types.Row
	Affected int64
}

// Sink receives execution telemetry. The metrics recorder implements it;
// the executor never depends on the recorder's persistence machinery.
type Sink interface {
	Observe(m types.QueryMetric)
}

// Executor validates parameters, executes statements, and normalizes rows.
type Executor struct {
	mgr  *conn.Manager
	sink Sink

	// ready gates telemetry: during the bootstrap window, before the
	// schema exists, outcomes are not reported to avoid noise and
	// cold-start recursion.
	ready atomic.Bool
}

// NewExecutor creates an executor on the given connection manager.
func NewExecutor(mgr *conn.Manager) *Executor {
	return &Executor{mgr: mgr}
}

// SetSink installs the telemetry sink.
func (e *Executor) SetSink(s Sink) {
	e.sink = s
}

// SetReady marks the end (or start) of the bootstrap window.
func (e *Executor) SetReady(ready bool) {
	e.ready.Store(ready)
}

// Execute runs one statement. Sequence and mapping parameters are serialized
// to structured text before binding; strings that look structured are
// validated first and rejected with a validation error before any execution.
// For fetches it returns normalized key/value rows; for mutations, the
// affected-row count. Execution time is measured end-to-end, including
// failures, and reported to the sink outside the bootstrap window.
func (e *Executor) Execute(ctx context.Context, statement string, params []any, opts Options) (*Result, error) {
	if strings.TrimSpace(statement) == "" {
		return nil, errors.NewValidationError(errors.CodeEmptyStatement, "statement is empty")
	}

	// Fail fast on malformed parameters, before acquisition or execution.
	bound, err := bindParams(params)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res := &Result{}

	execErr := e.mgr.With(ctx, func(c *conn.Conn) error {
		if opts.Fetch {
			rows, err := c.DB().QueryContext(ctx, statement, bound...)
			if err != nil {
				return err
			}
			defer rows.Close()

			normalized, err := normalizeRows(rows)
			if err != nil {
				return err
			}
			res.Rows = normalized
			res.Affected = int64(len(normalized))
			return nil
		}

		// Mutations run in an explicit transaction so the commit is
		// unconditional on success, matching the write path's contract.
		tx, err := c.DB().BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		result, err := tx.ExecContext(ctx, statement, bound...)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		res.Affected = affected
		return nil
	})

	e.observe(statement, time.Since(start), res.Affected, execErr, opts)

	if execErr != nil {
		return nil, execErr
	}
	return res, nil
}

// observe reports the outcome to the sink, except during the bootstrap
// window.
func (e *Executor) observe(statement string, d time.Duration, affected int64, execErr error, opts Options) {
	if e.sink == nil || !e.ready.Load() {
		return
	}
	m := types.QueryMetric{
		QueryText:    statement,
		Duration:     d,
		RowsAffected: affected,
		Success:      execErr == nil,
		Timestamp:    time.Now(),
		UserID:       opts.UserID,
		Endpoint:     opts.Endpoint,
	}
	if execErr != nil {
		m.ErrorMessage = execErr.Error()
	}
	e.sink.Observe(m)
}

// normalizeRows converts driver rows into generic key/value mappings.
func normalizeRows(rows *sql.Rows) ([]types.Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []types.Row
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(types.Row, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// normalizeValue maps driver values to caller-friendly types.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
