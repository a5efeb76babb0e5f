// Package migrate manages versioned schema migrations with dependency
// checks. Migration definitions live in the schema_migrations table and
// applied markers in applied_migrations, so a store carries its own
// upgrade history.
package migrate

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/veltworks/velt/internal/errors"
	"github.com/veltworks/velt/internal/query"
)

// Migration is a registered schema change. DependsOn names the version
// that must already be applied before this one may run; empty means no
// prerequisite.
type Migration struct {
	ID          string    `json:"id"`
	Version     string    `json:"version"`
	Description string    `json:"description"`
	UpSQL       string    `json:"up_sql"`
	DownSQL     string    `json:"down_sql"`
	DependsOn   string    `json:"depends_on"`
	CreatedAt   time.Time `json:"created_at"`
}

// AppliedMigration records that a version ran to completion.
type AppliedMigration struct {
	Version   string    `json:"version"`
	AppliedAt time.Time `json:"applied_at"`
}

// Registry stores and runs migrations through the query executor so
// migration DDL receives the same validation and telemetry treatment
// as application statements.
type Registry struct {
	exec *query.Executor
}

// NewRegistry creates a registry backed by the given executor.
func NewRegistry(exec *query.Executor) *Registry {
	return &Registry{exec: exec}
}

// Create registers a migration definition. Versions are unique; a
// duplicate is rejected before anything is written.
func (r *Registry) Create(ctx context.Context, m Migration) (Migration, error) {
	if strings.TrimSpace(m.Version) == "" {
		return Migration{}, errors.NewMigrationError(errors.CodeInvalidMigration, "migration version must not be empty")
	}
	if strings.TrimSpace(m.UpSQL) == "" {
		return Migration{}, errors.NewMigrationError(errors.CodeInvalidMigration, fmt.Sprintf("migration %s has no up script", m.Version))
	}

	existing, err := r.Get(ctx, m.Version)
	if err == nil && existing.Version == m.Version {
		return Migration{}, errors.NewMigrationError(errors.CodeDuplicateVersion, fmt.Sprintf("migration version %s already registered", m.Version))
	}

	m.ID = uuid.New().String()[:8]
	m.CreatedAt = time.Now().UTC()

	_, err = r.exec.Execute(ctx,
		"INSERT INTO schema_migrations (id, version, description, up_sql, down_sql, depends_on, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		[]any{m.ID, m.Version, m.Description, m.UpSQL, m.DownSQL, m.DependsOn, m.CreatedAt.Format(time.RFC3339Nano)},
		query.Options{})
	if err != nil {
		return Migration{}, fmt.Errorf("migrate: failed to register version %s: %w", m.Version, err)
	}

	log.Printf("[INFO] Registered migration %s (%s)", m.Version, m.ID)
	return m, nil
}

// Get returns the definition for a version.
func (r *Registry) Get(ctx context.Context, version string) (Migration, error) {
	res, err := r.exec.Execute(ctx,
		"SELECT id, version, description, up_sql, down_sql, depends_on, created_at FROM schema_migrations WHERE version = ?",
		[]any{version}, query.Options{Fetch: true})
	if err != nil {
		return Migration{}, fmt.Errorf("migrate: failed to load version %s: %w", version, err)
	}
	if len(res.Rows) == 0 {
		return Migration{}, errors.NewMigrationError(errors.CodeVersionNotFound, fmt.Sprintf("migration version %s not found", version))
	}
	return rowToMigration(res.Rows[0]), nil
}

// List returns all registered migrations ordered by creation time.
func (r *Registry) List(ctx context.Context) ([]Migration, error) {
	res, err := r.exec.Execute(ctx,
		"SELECT id, version, description, up_sql, down_sql, depends_on, created_at FROM schema_migrations ORDER BY rowid",
		nil, query.Options{Fetch: true})
	if err != nil {
		return nil, fmt.Errorf("migrate: failed to list migrations: %w", err)
	}
	migrations := make([]Migration, 0, len(res.Rows))
	for _, row := range res.Rows {
		migrations = append(migrations, rowToMigration(row))
	}
	return migrations, nil
}

// Applied returns the versions that have run, oldest first.
func (r *Registry) Applied(ctx context.Context) ([]AppliedMigration, error) {
	res, err := r.exec.Execute(ctx,
		"SELECT version, applied_at FROM applied_migrations ORDER BY rowid",
		nil, query.Options{Fetch: true})
	if err != nil {
		return nil, fmt.Errorf("migrate: failed to list applied migrations: %w", err)
	}
	applied := make([]AppliedMigration, 0, len(res.Rows))
	for _, row := range res.Rows {
		a := AppliedMigration{Version: asString(row["version"])}
		if ts, err := time.Parse(time.RFC3339, asString(row["applied_at"])); err == nil {
			a.AppliedAt = ts
		}
		applied = append(applied, a)
	}
	return applied, nil
}

// IsApplied reports whether a version has an applied marker.
func (r *Registry) IsApplied(ctx context.Context, version string) (bool, error) {
	res, err := r.exec.Execute(ctx,
		"SELECT version FROM applied_migrations WHERE version = ?",
		[]any{version}, query.Options{Fetch: true})
	if err != nil {
		return false, fmt.Errorf("migrate: failed to check applied marker for %s: %w", version, err)
	}
	return len(res.Rows) > 0, nil
}

// Apply runs a registered migration. Re-applying a version is a no-op.
// The dependency check happens before any schema change: a missing
// prerequisite leaves the store untouched.
func (r *Registry) Apply(ctx context.Context, version string) error {
	m, err := r.Get(ctx, version)
	if err != nil {
		return err
	}

	applied, err := r.IsApplied(ctx, version)
	if err != nil {
		return err
	}
	if applied {
		log.Printf("[INFO] Migration %s already applied, skipping", version)
		return nil
	}

	if m.DependsOn != "" {
		depApplied, err := r.IsApplied(ctx, m.DependsOn)
		if err != nil {
			return err
		}
		if !depApplied {
			return errors.NewMigrationError(errors.CodeDependencyMissing,
				fmt.Sprintf("migration %s depends on %s which has not been applied", version, m.DependsOn))
		}
	}

	if _, err := r.exec.Execute(ctx, m.UpSQL, nil, query.Options{}); err != nil {
		return fmt.Errorf("migrate: up script for %s failed: %w", version, err)
	}

	_, err = r.exec.Execute(ctx,
		"INSERT INTO applied_migrations (version, applied_at) VALUES (?, ?)",
		[]any{version, time.Now().UTC().Format(time.RFC3339)}, query.Options{})
	if err != nil {
		return fmt.Errorf("migrate: failed to record applied marker for %s: %w", version, err)
	}

	log.Printf("[INFO] Applied migration %s: %s", version, m.Description)
	return nil
}

// Rollback reverses an applied migration using its down script and
// removes the applied marker. A migration without a down script cannot
// be rolled back.
func (r *Registry) Rollback(ctx context.Context, version string) error {
	m, err := r.Get(ctx, version)
	if err != nil {
		return err
	}

	applied, err := r.IsApplied(ctx, version)
	if err != nil {
		return err
	}
	if !applied {
		return errors.NewMigrationError(errors.CodeVersionNotFound,
			fmt.Sprintf("migration %s has not been applied", version))
	}

	if strings.TrimSpace(m.DownSQL) == "" {
		return errors.NewMigrationError(errors.CodeNoDownScript,
			fmt.Sprintf("migration %s has no down script", version))
	}

	if _, err := r.exec.Execute(ctx, m.DownSQL, nil, query.Options{}); err != nil {
		return fmt.Errorf("migrate: down script for %s failed: %w", version, err)
	}

	_, err = r.exec.Execute(ctx,
		"DELETE FROM applied_migrations WHERE version = ?",
		[]any{version}, query.Options{})
	if err != nil {
		return fmt.Errorf("migrate: failed to remove applied marker for %s: %w", version, err)
	}

	log.Printf("[INFO] Rolled back migration %s", version)
	return nil
}

func rowToMigration(row map[string]any) Migration {
	m := Migration{
		ID:          asString(row["id"]),
		Version:     asString(row["version"]),
		Description: asString(row["description"]),
		UpSQL:       asString(row["up_sql"]),
		DownSQL:     asString(row["down_sql"]),
		DependsOn:   asString(row["depends_on"]),
	}
	if ts, err := time.Parse(time.RFC3339Nano, asString(row["created_at"])); err == nil {
		m.CreatedAt = ts
	}
	return m
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
