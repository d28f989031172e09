package store

import (
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect hides the differences between the supported SQL backends.
// Queries are written with '?' placeholders and rebound per dialect.
type Dialect interface {
	// Name is the goose dialect and the migrations subdirectory.
	Name() string

	// DriverName is the database/sql driver to open.
	DriverName() string

	// Rebind converts '?' placeholders to the driver's syntax.
	Rebind(query string) string

	// Configure applies pool sizes and session settings.
	Configure(db *sql.DB) error

	// Random is the SQL expression for a random ordering key.
	Random() string

	// Upsert renders an insert-or-update for table keyed by keys.
	Upsert(table string, keys, cols []string) string
}

// DialectFor resolves DB_DRIVER values.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "", "sqlite", "sqlite3":
		return sqliteDialect{}, nil
	case "postgres", "pgx", "postgresql":
		return postgresDialect{}, nil
	case "mysql":
		return mysqlDialect{}, nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", driver)
}

var placeholder = regexp.MustCompile(`\?`)

func numbered(query string) string {
	n := 0
	return placeholder.ReplaceAllStringFunc(query, func(string) string {
		n++
		return "$" + strconv.Itoa(n)
	})
}

func columnList(cols []string) (names, marks string) {
	for i, c := range cols {
		if i > 0 {
			names += ", "
			marks += ", "
		}
		names += c
		marks += "?"
	}
	return names, marks
}

// onConflict renders the ON CONFLICT form shared by sqlite and postgres.
func onConflict(table string, keys, cols []string) string {
	all := append(append([]string{}, keys...), cols...)
	names, marks := columnList(all)
	keyNames, _ := columnList(keys)
	q := "INSERT INTO " + table + " (" + names + ") VALUES (" + marks + ") ON CONFLICT (" + keyNames + ") DO UPDATE SET "
	for i, c := range cols {
		if i > 0 {
			q += ", "
		}
		q += c + " = excluded." + c
	}
	return q
}

// --- sqlite ---

type sqliteDialect struct{}

func (sqliteDialect) Name() string               { return "sqlite3" }
func (sqliteDialect) DriverName() string         { return "sqlite3" }
func (sqliteDialect) Rebind(query string) string { return query }
func (sqliteDialect) Random() string             { return "RANDOM()" }

func (sqliteDialect) Configure(db *sql.DB) error {
	// one writer at a time; WAL lets readers proceed
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL;`); err != nil {
		return fmt.Errorf("set pragmas: %w", err)
	}
	return nil
}

func (sqliteDialect) Upsert(table string, keys, cols []string) string {
	return onConflict(table, keys, cols)
}

// --- postgres (pgx stdlib) ---

type postgresDialect struct{}

func (postgresDialect) Name() string               { return "postgres" }
func (postgresDialect) DriverName() string         { return "pgx" }
func (postgresDialect) Rebind(query string) string { return numbered(query) }
func (postgresDialect) Random() string             { return "RANDOM()" }

func (postgresDialect) Configure(db *sql.DB) error {
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(time.Minute)
	return nil
}

func (postgresDialect) Upsert(table string, keys, cols []string) string {
	return onConflict(table, keys, cols)
}

// --- mysql ---

type mysqlDialect struct{}

func (mysqlDialect) Name() string               { return "mysql" }
func (mysqlDialect) DriverName() string         { return "mysql" }
func (mysqlDialect) Rebind(query string) string { return query }
func (mysqlDialect) Random() string             { return "RAND()" }

func (mysqlDialect) Configure(db *sql.DB) error {
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(time.Minute)
	return nil
}

func (mysqlDialect) Upsert(table string, keys, cols []string) string {
	all := append(append([]string{}, keys...), cols...)
	names, marks := columnList(all)
	q := "INSERT INTO " + table + " (" + names + ") VALUES (" + marks + ") ON DUPLICATE KEY UPDATE "
	for i, c := range cols {
		if i > 0 {
			q += ", "
		}
		q += c + " = VALUES(" + c + ")"
	}
	return q
}
