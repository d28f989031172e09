// internal/store/db.go
//
// SQL connection management.
// Responsibilities:
//   - Open the configured backend (sqlite3 by default, postgres via pgx, mysql).
//   - Ensure the parent directory of a sqlite file exists.
//   - Apply the embedded goose migrations for the chosen dialect.

package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

//go:embed migrations
var embedMigrations embed.FS

// Options selects and locates the database.
type Options struct {
	Driver string // sqlite3 | postgres | mysql
	Path   string // sqlite file path
	URL    string // postgres/mysql DSN
}

// DB is a *sql.DB bound to a Dialect.
type DB struct {
	*sql.DB
	dialect Dialect
}

// Dialect returns the dialect the connection was opened with.
func (db *DB) Dialect() Dialect { return db.dialect }

// Open connects, configures and migrates the database.
func Open(ctx context.Context, opts Options, log zerolog.Logger) (*DB, error) {
	d, err := DialectFor(opts.Driver)
	if err != nil {
		return nil, err
	}

	dsn := opts.URL
	if d.Name() == "sqlite3" {
		dsn, err = sqliteDSN(opts.Path)
		if err != nil {
			return nil, err
		}
	}
	if dsn == "" {
		return nil, fmt.Errorf("%s: DATABASE_URL is required", d.Name())
	}

	log.Info().Str("driver", d.Name()).Msg("connecting to database")
	sqlDB, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Name(), err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping %s: %w", d.Name(), err)
	}
	if err := d.Configure(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := migrate(sqlDB, d); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info().Str("driver", d.Name()).Msg("database ready")
	return &DB{DB: sqlDB, dialect: d}, nil
}

func sqliteDSN(path string) (string, error) {
	if path == "" {
		path = "./data/gallows.db"
	}
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return path, nil
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	return path + "?_busy_timeout=5000&_journal_mode=WAL", nil
}

func migrate(db *sql.DB, d Dialect) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(d.Name()); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return goose.Up(db, "migrations/"+d.Name())
}
