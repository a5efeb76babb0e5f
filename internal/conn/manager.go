// Package conn manages backing-store connection lifecycle for the Velt
// persistence core. Each logical operation acquires its own exclusively-owned
// handle, configured for write-ahead journaling, bounded lock waits, and
// referential integrity on every acquisition.
package conn

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/veltworks/velt/internal/errors"
)

// AcquireState models connection acquisition as an explicit state machine.
// A handle moves Acquiring → Acquired → Released; retry decisions depend on
// which state a failure occurred in, never on inference from error text.
type AcquireState int

const (
	// StateAcquiring means the handle has not yet been handed to the caller.
	StateAcquiring AcquireState = iota
	// StateAcquired means the handle is owned by caller code. Failures from
	// here on propagate unchanged.
	StateAcquired
	// StateReleased means the handle has been returned and closed.
	StateReleased
)

// String returns the state name for logging.
func (s AcquireState) String() string {
	switch s {
	case StateAcquiring:
		return "acquiring"
	case StateAcquired:
		return "acquired"
	case StateReleased:
		return "released"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Conn is an ephemeral, exclusively-owned handle to the backing store.
type Conn struct {
	db    *sql.DB
	state AcquireState
}

// DB returns the underlying database handle.
func (c *Conn) DB() *sql.DB {
	return c.db
}

// State returns the current acquisition state.
func (c *Conn) State() AcquireState {
	return c.state
}

// Release closes the handle. It is idempotent: releasing twice is a no-op.
func (c *Conn) Release() error {
	if c.state == StateReleased {
		return nil
	}
	c.state = StateReleased
	return c.db.Close()
}

// RepairFunc is invoked between acquisition attempts when the failure text
// indicates file corruption.
type RepairFunc func(ctx context.Context) error

// Manager acquires and configures backing-store handles. Acquisition
// failures are retried up to a bounded count with an incremental delay;
// corruption-looking failures trigger the repair hook before the next
// attempt. Once a handle is handed to the caller, nothing is retried.
type Manager struct {
	path        string
	busyTimeout time.Duration
	maxAttempts int
	retryDelay  time.Duration
	repair      RepairFunc

	// openFn exists so tests can stand in for the real driver open.
	openFn func(ctx context.Context) (*sql.DB, error)
}

// NewManager creates a connection manager for the store at path.
func NewManager(path string, busyTimeout time.Duration, maxAttempts int, retryDelay time.Duration) *Manager {
	m := &Manager{
		path:        path,
		busyTimeout: busyTimeout,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
	}
	m.openFn = m.open
	return m
}

// WithRepair sets the corruption repair hook and returns the manager.
func (m *Manager) WithRepair(fn RepairFunc) *Manager {
	m.repair = fn
	return m
}

// Path returns the backing file path.
func (m *Manager) Path() string {
	return m.path
}

// DSN returns the driver DSN with the per-acquisition pragmas applied:
// write-ahead journaling, busy-wait timeout, foreign keys, and NORMAL
// synchronous durability.
func (m *Manager) DSN() string {
	return fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=1&_synchronous=NORMAL",
		m.path, m.busyTimeout.Milliseconds())
}

// open opens and verifies a configured handle.
func (m *Manager) open(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", m.DSN())
	if err != nil {
		return nil, err
	}
	// One logical operation owns the handle exclusively.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// The DSN pragmas run on connection establishment; Ping forces that so
	// a corrupt or unopenable file fails here, before handoff.
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Acquire opens a configured handle, retrying transient acquisition failures.
// The returned Conn is in StateAcquired; the caller owns release.
func (m *Manager) Acquire(ctx context.Context) (*Conn, error) {
	c := &Conn{state: StateAcquiring}

	var lastErr error
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		db, err := m.openFn(ctx)
		if err == nil {
			c.db = db
			c.state = StateAcquired
			return c, nil
		}
		lastErr = err

		if looksCorrupt(err) && m.repair != nil {
			log.Printf("[WARN] conn: acquisition failure looks like corruption, invoking repair: %v", err)
			if repairErr := m.repair(ctx); repairErr != nil {
				log.Printf("[ERROR] conn: repair failed: %v", repairErr)
			}
		}

		if attempt < m.maxAttempts {
			select {
			case <-time.After(time.Duration(attempt) * m.retryDelay):
			case <-ctx.Done():
				return nil, errors.NewConnectionError(errors.CodeAcquireExhausted,
					"acquisition canceled", ctx.Err())
			}
		}
	}

	return nil, errors.NewConnectionError(errors.CodeAcquireExhausted,
		fmt.Sprintf("failed to acquire connection after %d attempts", m.maxAttempts), lastErr)
}

// With acquires a handle, runs fn, and guarantees release on every exit path.
// Errors returned by fn occur after handoff and propagate unchanged: they
// never trigger a retry.
func (m *Manager) With(ctx context.Context, fn func(*Conn) error) error {
	c, err := m.Acquire(ctx)
	if err != nil {
		return err
	}
	defer c.Release()
	return fn(c)
}

// corruptionMarkers are the driver error fragments that indicate on-disk
// corruption rather than a transient failure.
var corruptionMarkers = []string{
	"file is not a database",
	"database disk image is malformed",
	"corrupt",
}

// looksCorrupt reports whether an acquisition error indicates file corruption.
func looksCorrupt(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range corruptionMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
