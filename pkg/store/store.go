// Package store opens the relational database shared by the cache, the
// explanation records, the quota ledger and the user directory.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver, registered as "pgx"
	"modernc.org/sqlite"               // Pure Go SQLite driver, registered as "sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Driver names a database/sql driver supported by the store.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "pgx"
)

// ErrUnavailable marks failures of the backing store. Callers must not treat
// them as success or as an empty result.
var ErrUnavailable = errors.New("store unavailable")

// ErrConstraint marks a write rejected by a uniqueness or other integrity
// constraint. The store itself is healthy.
var ErrConstraint = errors.New("constraint violation")

// Config holds database configuration.
type Config struct {
	Driver Driver `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// Querier is satisfied by both *DB and *Tx.
type Querier interface {
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) *sql.Row
}

// DB wraps a connection pool and rewrites placeholders for its driver.
// Queries are written with "?" placeholders.
type DB struct {
	conn   *sql.DB
	driver Driver
}

// Open connects to the configured database and runs migrations.
func Open(cfg Config) (*DB, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
	}

	var dsn string
	switch cfg.Driver {
	case DriverSQLite:
		path, err := sqlitePath(cfg.DSN)
		if err != nil {
			return nil, err
		}
		dsn = sqliteDSN(path)
	case DriverPostgres:
		dsn = cfg.DSN
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	conn, err := sql.Open(string(cfg.Driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	configurePool(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", Wrap(err))
	}

	db := &DB{conn: conn, driver: cfg.Driver}
	if err := db.migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

func sqlitePath(dsn string) (string, error) {
	if dsn == "" {
		dsn = "kabunote.db"
	}
	if strings.HasPrefix(dsn, "file:") {
		return dsn, nil
	}
	abs, err := filepath.Abs(dsn)
	if err != nil {
		return "", fmt.Errorf("resolve database path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("create database directory: %w", err)
	}
	return abs, nil
}

// sqliteDSN appends the pragmas every connection needs. WAL lets readers run
// alongside the single writer and busy_timeout makes concurrent writers wait
// instead of failing.
func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep +
		"_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(1)"
}

func configurePool(conn *sql.DB) {
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(24 * time.Hour)
	conn.SetConnMaxIdleTime(30 * time.Minute)
}

// Driver returns the driver the pool was opened with.
func (db *DB) Driver() Driver {
	return db.driver
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return Wrap(db.conn.PingContext(ctx))
}

// Close releases the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Exec runs a statement, rebinding placeholders.
func (db *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := db.conn.ExecContext(ctx, Rebind(db.driver, query), args...)
	return res, Wrap(err)
}

// Query runs a query, rebinding placeholders.
func (db *DB) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := db.conn.QueryContext(ctx, Rebind(db.driver, query), args...)
	return rows, Wrap(err)
}

// QueryRow runs a single-row query, rebinding placeholders. Errors surface
// from Scan and should be passed through Wrap.
func (db *DB) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return db.conn.QueryRowContext(ctx, Rebind(db.driver, query), args...)
}

// Tx is a transaction that rebinds placeholders like DB.
type Tx struct {
	tx     *sql.Tx
	driver Driver
}

// Exec runs a statement inside the transaction.
func (t *Tx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := t.tx.ExecContext(ctx, Rebind(t.driver, query), args...)
	return res, Wrap(err)
}

// Query runs a query inside the transaction.
func (t *Tx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, Rebind(t.driver, query), args...)
	return rows, Wrap(err)
}

// QueryRow runs a single-row query inside the transaction.
func (t *Tx) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, Rebind(t.driver, query), args...)
}

// InTx runs fn in a transaction. The transaction commits when fn returns nil
// and rolls back otherwise.
func (db *DB) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", Wrap(err))
	}
	if err := fn(&Tx{tx: sqlTx, driver: db.driver}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", Wrap(err))
	}
	return nil
}

// Wrap marks a driver error as ErrConstraint or ErrUnavailable. Nil and
// sql.ErrNoRows pass through unchanged so callers can still test for them.
func Wrap(err error) error {
	if err == nil || errors.Is(err, sql.ErrNoRows) || errors.Is(err, ErrUnavailable) || errors.Is(err, ErrConstraint) {
		return err
	}
	if isConstraint(err) {
		return fmt.Errorf("%w: %w", ErrConstraint, err)
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func isConstraint(err error) bool {
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		// Extended result codes keep the primary code in the low byte.
		return liteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 23: integrity constraint violation.
		return strings.HasPrefix(pgErr.Code, "23")
	}
	return false
}

// Rebind rewrites "?" placeholders to "$n" for PostgreSQL. Question marks
// inside single-quoted literals are left alone.
func Rebind(driver Driver, query string) string {
	if driver != DriverPostgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
