// Package integrity verifies on-disk consistency of the backing store at
// startup and repairs corruption through a deterministic fallback chain:
// quarantine the corrupt file, rebuild a fresh schema, and as a last resort
// leave an empty placeholder so the hosting process starts degraded instead
// of crashing.
package integrity

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/veltworks/velt/internal/errors"
	"github.com/veltworks/velt/internal/storage"
)

// BootstrapFunc recreates a fresh schema on an empty store.
type BootstrapFunc func(ctx context.Context) error

// Guardian owns startup consistency checking and corruption repair. It
// assumes exclusive access to the backing file during its check/repair
// window, so it must run before any other writer is active.
type Guardian struct {
	path          string
	quarantineDir string
	bootstrap     BootstrapFunc
	archive       storage.ObjectStorage
}

// NewGuardian creates a guardian for the store at path. The bootstrap
// function rebuilds the schema after repair; archive, when non-nil, receives
// compressed quarantine snapshots for offsite retention.
func NewGuardian(path, quarantineDir string, bootstrap BootstrapFunc, archive storage.ObjectStorage) *Guardian {
	return &Guardian{
		path:          path,
		quarantineDir: quarantineDir,
		bootstrap:     bootstrap,
		archive:       archive,
	}
}

// Run performs the startup check and, on failure, the repair chain. It never
// propagates an error past its own boundary: the worst case is an empty,
// schema-less store and a logged degraded state.
func (g *Guardian) Run(ctx context.Context) {
	if err := g.Verify(ctx); err != nil {
		log.Printf("[WARN] integrity: startup check failed, starting repair: %v", err)
		if repairErr := g.Repair(ctx); repairErr != nil {
			log.Printf("[ERROR] integrity: repair incomplete, continuing degraded: %v", repairErr)
		}
		return
	}
	log.Printf("[INFO] integrity: startup check passed for %s", g.path)
}

// Verify executes the native consistency check. A nonexistent file passes:
// the store has simply not been created yet.
func (g *Guardian) Verify(ctx context.Context) error {
	if _, err := os.Stat(g.path); os.IsNotExist(err) {
		return nil
	}

	// The guardian opens its own raw handle here. Going through a
	// repair-hooked connection manager would recurse back into Repair.
	db, err := sql.Open("sqlite3", g.path+"?_busy_timeout=5000")
	if err != nil {
		return errors.NewIntegrityError(errors.CodeCorruptionDetected, "failed to open store for check", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return errors.NewIntegrityError(errors.CodeCorruptionDetected, "integrity check could not run", err)
	}
	if result != "ok" {
		return errors.NewIntegrityError(errors.CodeCorruptionDetected,
			fmt.Sprintf("integrity check reported: %s", result), nil)
	}
	return nil
}

// Repair executes the corruption fallback chain. It is also installed as the
// connection manager's repair hook, so mid-run corruption discoveries reuse
// the same path. Each stage logs its outcome; an error return means even the
// placeholder stage failed.
func (g *Guardian) Repair(ctx context.Context) error {
	if _, err := os.Stat(g.path); err == nil {
		g.quarantine(ctx)
	}

	if g.bootstrap != nil {
		if err := g.bootstrap(ctx); err != nil {
			log.Printf("[ERROR] integrity: schema rebuild failed: %v", err)
			return g.placeholder()
		}
		log.Printf("[INFO] integrity: rebuilt fresh schema at %s", g.path)
		return nil
	}
	return g.placeholder()
}

// quarantine snapshots the corrupt file (snappy-compressed, optionally
// archived offsite) and then moves it aside; if the rename fails it
// force-deletes. All stages are best-effort: a failed snapshot must not
// block recovery.
func (g *Guardian) quarantine(ctx context.Context) {
	stamp := time.Now().UTC().Format("20060102T150405")

	if data, err := os.ReadFile(g.path); err == nil {
		name := fmt.Sprintf("%s.corrupt.%s.%s.snappy", filepath.Base(g.path), stamp, uuid.New().String()[:8])
		snapPath := filepath.Join(g.quarantineDir, name)
		if err := os.MkdirAll(g.quarantineDir, 0755); err != nil {
			log.Printf("[WARN] integrity: cannot create quarantine dir: %v", err)
		} else if err := os.WriteFile(snapPath, snappy.Encode(nil, data), 0644); err != nil {
			log.Printf("[WARN] integrity: failed to write quarantine snapshot: %v", err)
		} else {
			log.Printf("[INFO] integrity: quarantined corrupt store to %s", snapPath)
			if g.archive != nil {
				if err := g.archive.Upload(ctx, snapPath, "quarantine/"+name); err != nil {
					log.Printf("[WARN] integrity: failed to archive quarantine snapshot: %v", err)
				} else {
					log.Printf("[INFO] integrity: archived quarantine snapshot as quarantine/%s", name)
				}
			}
		}
	} else {
		log.Printf("[WARN] integrity: could not read corrupt store for snapshot: %v", err)
	}

	aside := fmt.Sprintf("%s.corrupt.%s", g.path, stamp)
	if err := os.Rename(g.path, aside); err != nil {
		log.Printf("[WARN] integrity: rename to %s failed, force-deleting: %v", aside, err)
		if err := os.Remove(g.path); err != nil {
			log.Printf("[ERROR] integrity: force-delete failed: %v", err)
		}
	} else {
		log.Printf("[INFO] integrity: moved corrupt store aside to %s", aside)
	}
}

// placeholder creates an empty backing file so the process can still start
// in a degraded state rather than crash.
func (g *Guardian) placeholder() error {
	if err := os.WriteFile(g.path, nil, 0644); err != nil {
		return errors.NewIntegrityError(errors.CodeRepairFailed,
			"failed to create placeholder store", err)
	}
	log.Printf("[WARN] integrity: created empty placeholder store at %s, running degraded", g.path)
	return nil
}
