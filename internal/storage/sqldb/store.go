package sqldb

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/polyglot-model-governor/internal/core/domain"
	"github.com/tjfontaine/polyglot-model-governor/internal/core/ports"
	"github.com/tjfontaine/polyglot-model-governor/internal/storage/dialect"
)

// Store is a SQL implementation of ports.Store that supports multiple
// database dialects.
type Store struct {
	db      *sqlx.DB
	dialect dialect.Dialect
}

var _ ports.Store = (*Store)(nil)

// Config holds database connection configuration
type Config struct {
	Driver string // Driver name: sqlite, postgres
	DSN    string // Data source name / connection string
}

// New creates a new SQL store with the specified configuration.
func New(cfg Config) (*Store, error) {
	d, err := dialect.FromDriverName(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}

	db, err := sqlx.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Run dialect-specific initialization (e.g., PRAGMA for SQLite)
	for _, stmt := range d.PragmaStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := &Store{db: db, dialect: d}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewSQLite creates a new SQLite store.
func NewSQLite(dbPath string) (*Store, error) {
	return New(Config{Driver: "sqlite", DSN: dbPath})
}

// NewWithDB wraps an existing connection without touching the schema.
// Used with sqlmock in tests.
func NewWithDB(db *sql.DB, driverName string, d dialect.Dialect) *Store {
	return &Store{db: sqlx.NewDb(db, driverName), dialect: d}
}

// DB returns the underlying sqlx.DB for advanced operations
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Dialect returns the dialect being used
func (s *Store) Dialect() dialect.Dialect {
	return s.dialect
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	pk := s.dialect.AutoIncrementClause()
	boolean := s.dialect.BooleanType()
	ts := s.dialect.TimestampType()

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS providers (
id %s,
name TEXT NOT NULL,
family TEXT NOT NULL,
base_url TEXT NOT NULL DEFAULT '',
is_active %s NOT NULL,
deleted_at %s,
created_by TEXT NOT NULL DEFAULT '',
updated_by TEXT NOT NULL DEFAULT '',
created_at %s NOT NULL,
updated_at %s NOT NULL
)`, pk, boolean, ts, ts, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS provider_secrets (
id %s,
provider_id BIGINT NOT NULL REFERENCES providers(id),
key_name TEXT NOT NULL,
value TEXT NOT NULL,
is_secret %s NOT NULL,
updated_at %s NOT NULL,
UNIQUE (provider_id, key_name)
)`, pk, boolean, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS models (
id %s,
provider_id BIGINT NOT NULL REFERENCES providers(id),
model_id TEXT NOT NULL,
display_name TEXT NOT NULL DEFAULT '',
description TEXT NOT NULL DEFAULT '',
latency_tier TEXT NOT NULL DEFAULT 'balanced',
input_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
output_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
capabilities TEXT NOT NULL DEFAULT '[]',
is_recommended %s NOT NULL,
is_active %s NOT NULL,
last_latency_ms BIGINT,
last_verified_at %s,
created_at %s NOT NULL,
updated_at %s NOT NULL,
UNIQUE (provider_id, model_id)
)`, pk, boolean, boolean, ts, ts, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS system_rules (
id %s,
scope TEXT NOT NULL,
module_id TEXT NOT NULL,
model_ref BIGINT NOT NULL REFERENCES models(id),
updated_by TEXT NOT NULL DEFAULT '',
updated_at %s NOT NULL,
UNIQUE (scope, module_id)
)`, pk, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS user_preferences (
id %s,
user_id TEXT NOT NULL,
module_id TEXT NOT NULL,
model_ref BIGINT NOT NULL REFERENCES models(id),
updated_at %s NOT NULL,
UNIQUE (user_id, module_id)
)`, pk, ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS audit_events (
id %s,
actor TEXT NOT NULL,
action TEXT NOT NULL,
resource_type TEXT NOT NULL,
resource_id TEXT NOT NULL,
detail TEXT NOT NULL DEFAULT '',
created_at %s NOT NULL
)`, pk, ts),
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_providers_live_name ON providers(name) WHERE deleted_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_models_model_id ON models(model_id)`,
		`CREATE INDEX IF NOT EXISTS idx_models_provider ON models(provider_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_created ON audit_events(created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}
