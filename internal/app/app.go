// Package app wires the persistence stack together: integrity check and
// repair, schema bootstrap, connection management, query execution,
// telemetry, and migrations, sharing one configuration.
package app

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/veltworks/velt/internal/config"
	"github.com/veltworks/velt/internal/conn"
	"github.com/veltworks/velt/internal/integrity"
	"github.com/veltworks/velt/internal/migrate"
	"github.com/veltworks/velt/internal/observability"
	"github.com/veltworks/velt/internal/query"
	"github.com/veltworks/velt/internal/schema"
	"github.com/veltworks/velt/internal/seal"
	"github.com/veltworks/velt/internal/storage"
)

// App owns the full stack around a single backing store.
type App struct {
	cfg *config.Config

	guardian   *integrity.Guardian
	mgr        *conn.Manager
	executor   *query.Executor
	recorder   *observability.Recorder
	migrations *migrate.Registry
	cipher     *seal.Cipher

	mu      sync.Mutex
	running bool
}

// New validates configuration and constructs the application. Nothing
// touches the backing store until Start.
func New(cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("app: invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("app: failed to create directories: %w", err)
	}
	return &App{cfg: cfg}, nil
}

// Start brings the store to a usable state: integrity verification with
// repair on corruption, schema bootstrap, then query and telemetry
// wiring. Safe to call on a missing, healthy, or corrupted store file.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return fmt.Errorf("app: already started")
	}

	archive, err := a.buildArchive(ctx)
	if err != nil {
		return err
	}

	// The bootstrap path uses a manager without a repair hook, so a
	// bootstrap failure during repair cannot re-enter the guardian.
	bootMgr := conn.NewManager(a.cfg.Database.Path, a.cfg.Database.BusyTimeout,
		a.cfg.Database.MaxAcquireAttempts, a.cfg.Database.RetryDelay)
	boot := schema.NewBootstrapper(bootMgr)

	a.guardian = integrity.NewGuardian(a.cfg.Database.Path, a.cfg.Quarantine.Dir, boot.Ensure, archive)
	a.guardian.Run(ctx)

	a.mgr = conn.NewManager(a.cfg.Database.Path, a.cfg.Database.BusyTimeout,
		a.cfg.Database.MaxAcquireAttempts, a.cfg.Database.RetryDelay).
		WithRepair(a.guardian.Repair)

	if err := boot.Ensure(ctx); err != nil {
		return fmt.Errorf("app: schema bootstrap failed: %w", err)
	}

	a.executor = query.NewExecutor(a.mgr)

	if a.cfg.Telemetry.Enabled {
		a.recorder = observability.NewRecorder(observability.RecorderConfig{
			Capacity:       a.cfg.Telemetry.BufferSize,
			MinDuration:    a.cfg.Telemetry.MinDuration,
			SampleRate:     a.cfg.Telemetry.SampleRate,
			MaxQueryLength: a.cfg.Telemetry.MaxQueryLength,
			MaxErrorLength: a.cfg.Telemetry.MaxErrorLength,
		})
		if err := a.recorder.OpenSideChannel(a.cfg.Database.Path); err != nil {
			log.Printf("[WARN] Telemetry side channel unavailable, metrics stay in memory: %v", err)
		}
		a.executor.SetSink(a.recorder)
	}
	a.executor.SetReady(true)

	a.migrations = migrate.NewRegistry(a.executor)
	a.cipher = seal.FromConfig(a.cfg.EncryptionKey)

	a.running = true
	log.Printf("[INFO] Store ready at %s", a.cfg.Database.Path)
	return nil
}

// Stop releases held resources. The store file itself needs no
// shutdown handling beyond closing the telemetry channel.
func (a *App) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return nil
	}
	a.running = false
	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			return fmt.Errorf("app: failed to close telemetry channel: %w", err)
		}
	}
	return nil
}

// Executor returns the query executor. Nil before Start.
func (a *App) Executor() *query.Executor { return a.executor }

// Migrations returns the migration registry. Nil before Start.
func (a *App) Migrations() *migrate.Registry { return a.migrations }

// Recorder returns the telemetry recorder, or nil when telemetry is
// disabled or the app has not started.
func (a *App) Recorder() *observability.Recorder { return a.recorder }

// Guardian returns the integrity guardian. Nil before Start.
func (a *App) Guardian() *integrity.Guardian { return a.guardian }

// Cipher returns the optional column cipher; nil when no key is
// configured.
func (a *App) Cipher() *seal.Cipher { return a.cipher }

// Config returns the resolved configuration.
func (a *App) Config() *config.Config { return a.cfg }

func (a *App) buildArchive(ctx context.Context) (storage.ObjectStorage, error) {
	switch a.cfg.Archive.Type {
	case "", "none":
		return nil, nil
	case "local":
		archive, err := storage.NewLocalStorage(a.cfg.Archive.Path)
		if err != nil {
			return nil, fmt.Errorf("app: failed to open local archive: %w", err)
		}
		return archive, nil
	case "s3":
		archive, err := storage.NewS3Storage(ctx, a.cfg.Archive.S3.Bucket, storage.S3Config{
			Region:   a.cfg.Archive.S3.Region,
			Endpoint: a.cfg.Archive.S3.Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("app: failed to open s3 archive: %w", err)
		}
		return archive, nil
	default:
		return nil, fmt.Errorf("app: unknown archive type %q", a.cfg.Archive.Type)
	}
}
