// Package store provides the embedded relational database and the
// hand-written query layer for every entity in the data model.
//
// Fern stores data in a single embedded SQLite database (no external
// database process), with vector similarity computed at the application
// layer over BLOB-encoded embeddings and keyword search delegated to
// SQLite's FTS5 extension. Build with `-tags sqlite_fts5` so the
// mattn/go-sqlite3 driver links in FTS5 support.
package store

import (
	"context"
	stdsql "database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations
var migrationsFS embed.FS

// Client wraps the underlying *sql.DB connection to the embedded store.
type Client struct {
	db *stdsql.DB
}

// Open creates (if necessary) the SQLite file at path, applies pending
// migrations, and returns a ready Client. path may be ":memory:" for tests.
func Open(path string) (*Client, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating storage directory: %w", err)
		}
	}

	dsn := path + "?_foreign_keys=on&_journal_mode=WAL"
	if path == ":memory:" {
		dsn = path
	}

	db, err := stdsql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	if path == ":memory:" {
		// A single shared connection: otherwise every connection in the
		// pool gets its own private in-memory database.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("pinging sqlite database: %w", err)
	}

	if err := migrateUp(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Client{db: db}, nil
}

// NewFromDB wraps an already-open *sql.DB, skipping migration. Used by tests
// that construct their own schema.
func NewFromDB(db *stdsql.DB) *Client {
	return &Client{db: db}
}

func migrateUp(db *stdsql.DB) error {
	srcDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading embedded migrations: %w", err)
	}
	dbDriver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", srcDriver, "sqlite3", dbDriver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	slog.Info("Database migrations applied")
	return nil
}

// DB returns the underlying connection for health checks and ad hoc queries.
func (c *Client) DB() *stdsql.DB {
	return c.db
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.db.Close()
}

// Health reports whether the store can be reached.
func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}
