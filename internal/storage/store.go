// Package storage persists the torva data model in SQLite or PostgreSQL and
// enforces its referential-integrity contract.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/torva/torva/internal/schema"
)

// Options configures Open.
type Options struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string
	// DataDir holds torva.db for the sqlite driver. ":memory:" selects an
	// in-memory database (used by tests).
	DataDir string
	// DSN is the PostgreSQL connection string.
	DSN string
	// Registry is the schema to migrate and query. Required.
	Registry *schema.Registry
	// Clock overrides time.Now for timestamps.
	Clock func() time.Time
}

// Store wraps a SQL database holding the torva tables.
type Store struct {
	db      *sql.DB
	dialect schema.Dialect
	reg     *schema.Registry
	clock   func() time.Time
}

// Open connects to the configured database and runs pending migrations.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("opening store: registry is required")
	}
	if opts.Driver == "" {
		opts.Driver = "sqlite"
	}
	dialect, err := schema.DialectFor(opts.Driver)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	switch opts.Driver {
	case "postgres":
		db, err = openPostgres(ctx, opts.DSN)
	default:
		db, err = openSQLite(ctx, opts.DataDir)
	}
	if err != nil {
		return nil, err
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	s := &Store{db: db, dialect: dialect, reg: opts.Registry, clock: clock}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func openSQLite(ctx context.Context, dataDir string) (*sql.DB, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "torva.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, classify("ping", "", err)
	}

	// Single connection: pragmas are per connection and an in-memory
	// database lives and dies with its connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	pragmas := []struct{ stmt, what string }{
		{"PRAGMA busy_timeout = 5000", "setting busy timeout"},
		{"PRAGMA journal_mode = WAL", "setting journal mode"},
		{"PRAGMA foreign_keys = ON", "enabling foreign keys"},
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p.what, err)
		}
	}
	return db, nil
}

func openPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("opening database: postgres driver needs a DSN (storage.dsn)")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &UnavailableError{Op: "ping", Err: err}
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Registry returns the schema the store was opened with.
func (s *Store) Registry() *schema.Registry { return s.reg }

// Dialect returns the SQL dialect of the underlying database.
func (s *Store) Dialect() schema.Dialect { return s.dialect }

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &UnavailableError{Op: "ping", Err: err}
	}
	return nil
}

// migration is one schema step. Steps are generated from the registry so the
// DDL always matches the declared tables for the active dialect.
type migration struct {
	version int
	name    string
	stmts   func(r *schema.Registry, d schema.Dialect) ([]string, error)
}

var migrations = []migration{
	{version: 1, name: "create tables", stmts: schema.Compile},
}

func (s *Store) versionTable() string {
	return s.reg.PhysicalName("schema_version")
}

// migrate applies every migration that hasn't been run yet, each in its own
// transaction.
func (s *Store) migrate(ctx context.Context) error {
	bootstrap := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)`, s.versionTable())
	if _, err := s.db.ExecContext(ctx, bootstrap); err != nil {
		return fmt.Errorf("creating schema_version table: %w", classify("migrate", "", err))
	}

	for _, m := range migrations {
		var exists int
		q := s.rebind(fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE version = ?", s.versionTable()))
		if err := s.db.QueryRowContext(ctx, q, m.version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", m.version, err)
		}
		if exists > 0 {
			continue
		}

		stmts, err := m.stmts(s.reg, s.dialect)
		if err != nil {
			return fmt.Errorf("compiling migration %d: %w", m.version, err)
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", m.version, err)
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("applying migration %d: %w", m.version, err)
			}
		}
		record := s.rebind(fmt.Sprintf("INSERT INTO %s (version, name, applied_at) VALUES (?, ?, ?)", s.versionTable()))
		if _, err := tx.ExecContext(ctx, record, m.version, m.name, formatTime(s.now())); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", m.version, err)
		}
	}
	return nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT version FROM %s ORDER BY version ASC", s.versionTable()))
	if err != nil {
		return nil, classify("listing migrations", "", err)
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// DropAll removes every torva table. Used by `torva migrate --reset`.
func (s *Store) DropAll(ctx context.Context) error {
	stmts, err := schema.CompileDrop(s.reg)
	if err != nil {
		return err
	}
	stmts = append(stmts, "DROP TABLE IF EXISTS "+s.versionTable())
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return classify("dropping tables", "", err)
		}
	}
	return nil
}

func (s *Store) rebind(query string) string {
	return s.dialect.Rebind(query)
}

// now returns the store clock in UTC at the precision both dialects keep.
func (s *Store) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}
