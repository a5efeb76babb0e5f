// Package schema declares and maintains the on-disk schema for the Velt
// persistence core. All objects are created with "if not exists" semantics so
// bootstrap re-runs are no-ops; post-release columns are added only after
// introspecting the live table structure.
package schema

// CreateTenantsTableSQL creates the tenants table, the root of the
// multi-tenant ownership chain.
const CreateTenantsTableSQL = `
CREATE TABLE IF NOT EXISTS tenants (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    plan TEXT NOT NULL DEFAULT 'free',
    created_at INTEGER NOT NULL
)`

// CreateUsersTableSQL creates the users table.
const CreateUsersTableSQL = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    email TEXT NOT NULL,
    display_name TEXT,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (tenant_id) REFERENCES tenants(id)
)`

// CreateQueryMetricsTableSQL creates the persisted telemetry table. The
// metrics recorder writes here through its own side-channel connection;
// statements targeting this table are never themselves recorded.
const CreateQueryMetricsTableSQL = `
CREATE TABLE IF NOT EXISTS query_metrics (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    query_hash TEXT NOT NULL,
    query_text TEXT NOT NULL,
    execution_time REAL NOT NULL,
    rows_affected INTEGER NOT NULL,
    success INTEGER NOT NULL,
    error_message TEXT,
    timestamp INTEGER NOT NULL,
    user_id TEXT
)`

// CreateSchemaMigrationsTableSQL creates the migration definition table.
const CreateSchemaMigrationsTableSQL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    id TEXT NOT NULL,
    version TEXT PRIMARY KEY,
    description TEXT NOT NULL,
    up_sql TEXT NOT NULL,
    down_sql TEXT,
    depends_on TEXT,
    created_at INTEGER NOT NULL
)`

// CreateAppliedMigrationsTableSQL creates the applied-migration markers. A
// row here is the sole proof that a migration has run.
const CreateAppliedMigrationsTableSQL = `
CREATE TABLE IF NOT EXISTS applied_migrations (
    version TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`

// CreateIndexesSQL creates all secondary indexes.
var CreateIndexesSQL = []string{
	// Telemetry lookups by time window, by statement fingerprint, and by cost
	`CREATE INDEX IF NOT EXISTS idx_query_metrics_timestamp ON query_metrics(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_query_metrics_hash ON query_metrics(query_hash)`,
	`CREATE INDEX IF NOT EXISTS idx_query_metrics_time ON query_metrics(execution_time)`,

	// User lookups within a tenant
	`CREATE INDEX IF NOT EXISTS idx_users_tenant ON users(tenant_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(tenant_id, email)`,
}

// CreateSlowQueriesViewSQL creates a convenience view over persisted
// telemetry, ordered by cost.
const CreateSlowQueriesViewSQL = `
CREATE VIEW IF NOT EXISTS v_slow_queries AS
SELECT query_hash, query_text, execution_time, rows_affected, timestamp, endpoint
FROM query_metrics
WHERE success = 1
ORDER BY execution_time DESC`

// additiveColumn describes a column added after initial release. It is
// applied only when table introspection shows the column is absent, so old
// stores upgrade in place and fresh stores see no duplicate-column errors.
type additiveColumn struct {
	table  string
	column string
	ddl    string
}

// additiveColumns lists post-release columns in application order.
var additiveColumns = []additiveColumn{
	{
		table:  "query_metrics",
		column: "endpoint",
		ddl:    `ALTER TABLE query_metrics ADD COLUMN endpoint TEXT`,
	},
	{
		table:  "users",
		column: "last_seen_at",
		ddl:    `ALTER TABLE users ADD COLUMN last_seen_at INTEGER`,
	},
}

// AllSchemaSQL returns all statements needed to initialize the store, in
// dependency order. Additive columns and the view are applied separately by
// the bootstrapper because the view depends on an additive column.
func AllSchemaSQL() []string {
	stmts := []string{
		CreateTenantsTableSQL,
		CreateUsersTableSQL,
		CreateQueryMetricsTableSQL,
		CreateSchemaMigrationsTableSQL,
		CreateAppliedMigrationsTableSQL,
	}
	stmts = append(stmts, CreateIndexesSQL...)
	return stmts
}
