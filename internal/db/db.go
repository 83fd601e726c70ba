// Package db is the SQLite-backed persistent store for projects, issues and
// their dependents. All writes that must be atomic go through WithTx.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Supported database/sql driver names.
const (
	DriverModernc = "sqlite"  // modernc.org/sqlite, pure Go
	DriverCgo     = "sqlite3" // github.com/mattn/go-sqlite3
)

// ErrNotFound is returned when a row does not exist (or is inactive and the
// lookup excludes inactive rows).
var ErrNotFound = errors.New("not found")

// DB wraps the database connection
type DB struct {
	*Queries
	conn   *sql.DB
	path   string
	driver string
}

// Open opens an existing database and runs any pending migrations
func Open(driver, path string) (*DB, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("database not found: run 'tracker migrate' first")
	}
	return open(driver, path)
}

// Initialize creates the database if needed and runs migrations
func Initialize(driver, path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	return open(driver, path)
}

func open(driver, path string) (*DB, error) {
	if driver == "" {
		driver = DriverModernc
	}
	dsn, err := buildDSN(driver, path)
	if err != nil {
		return nil, err
	}

	sqlDriver := driver
	if driver == DriverCgo {
		sqlDriver = cgoDriverName
	}
	conn, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := &DB{Queries: &Queries{q: conn}, conn: conn, path: path, driver: driver}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	if _, err := db.RunMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// buildDSN sets WAL mode, a busy timeout, foreign keys and immediate write
// transactions on every pooled connection. PRAGMA statements issued through
// conn.Exec would only reach one connection of the pool.
func buildDSN(driver, path string) (string, error) {
	switch driver {
	case DriverModernc:
		return "file:" + path +
			"?_pragma=journal_mode(wal)" +
			"&_pragma=busy_timeout(5000)" +
			"&_pragma=foreign_keys(1)" +
			"&_pragma=synchronous(normal)" +
			"&_txlock=immediate", nil
	case DriverCgo:
		return "file:" + path +
			"?_journal_mode=WAL" +
			"&_busy_timeout=5000" +
			"&_foreign_keys=on" +
			"&_synchronous=NORMAL" +
			"&_txlock=immediate", nil
	default:
		return "", fmt.Errorf("unsupported database driver %q (want %q or %q)", driver, DriverModernc, DriverCgo)
	}
}

// Close closes the database
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.path
}

// Driver returns the database/sql driver name in use
func (db *DB) Driver() string {
	return db.driver
}

// SetMaxOpenConns sets the maximum number of open connections to the database.
func (db *DB) SetMaxOpenConns(n int) {
	db.conn.SetMaxOpenConns(n)
}

// WithTx runs fn inside a single transaction. The transaction is committed
// only if fn returns nil; any error or panic rolls it back.
func (db *DB) WithTx(ctx context.Context, fn func(tx *Queries) error) (err error) {
	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()

	if err := fn(&Queries{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries holds every read and write statement. The Queries embedded in DB
// runs each statement on its own; the one passed to WithTx callbacks runs
// them inside the transaction.
type Queries struct {
	q querier
}

// IsUniqueViolation reports whether err came from a UNIQUE constraint.
// Both supported drivers report the SQLite message verbatim.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(vals []string) []any {
	args := make([]any, len(vals))
	for i, v := range vals {
		args[i] = v
	}
	return args
}

// likePattern case-folds s, escapes LIKE wildcards and wraps it for
// substring match. Pair with fold(column) and ESCAPE '\'.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(foldCase(s)) + "%"
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
