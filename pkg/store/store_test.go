package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(Config{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "store_test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenMigratesIdempotently(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twice.db")

	first, err := Open(Config{DSN: path})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(Config{DSN: path})
	require.NoError(t, err)
	defer second.Close()

	assert.Equal(t, DriverSQLite, second.Driver())
	for _, table := range []string{"cache_entries", "ai_explanations", "daily_api_usage", "minute_api_usage", "user_daily_usage", "users", "search_history", "bookmarks"} {
		var n int
		err := second.QueryRow(context.Background(),
			`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, table)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "mysql"})
	assert.Error(t, err)
}

func TestInTxRollsBack(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.InTx(ctx, func(tx *Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO users (id, email, created_at) VALUES (?, ?, ?)`, "u1", "a@example.com", 1); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n))
	assert.Zero(t, n)
}

func TestInTxCommits(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	err := db.InTx(ctx, func(tx *Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO users (id, email, created_at) VALUES (?, ?, ?)`, "u1", "a@example.com", 1)
		return err
	})
	require.NoError(t, err)

	var email string
	require.NoError(t, db.QueryRow(ctx, `SELECT email FROM users WHERE id = ?`, "u1").Scan(&email))
	assert.Equal(t, "a@example.com", email)
}

func TestClosedDBIsUnavailable(t *testing.T) {
	db, err := Open(Config{DSN: filepath.Join(t.TempDir(), "closed.db")})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = db.Exec(context.Background(), `DELETE FROM users`)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, db.Ping(context.Background()), ErrUnavailable)
}

func TestRebind(t *testing.T) {
	q := `SELECT * FROM t WHERE a = ? AND b = '?' AND c = ?`
	assert.Equal(t, q, Rebind(DriverSQLite, q))
	assert.Equal(t, `SELECT * FROM t WHERE a = $1 AND b = '?' AND c = $2`, Rebind(DriverPostgres, q))
}

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap(nil))
	assert.Same(t, sql.ErrNoRows, Wrap(sql.ErrNoRows))

	cause := errors.New("disk I/O error")
	err := Wrap(cause)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, err, Wrap(err), "wrapping twice is a no-op")
}

func TestWrapConstraint(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.Exec(ctx, `INSERT INTO users (id, email, created_at) VALUES (?, ?, ?)`, "u1", "a@example.com", 1)
	require.NoError(t, err)
	_, err = db.Exec(ctx, `INSERT INTO users (id, email, created_at) VALUES (?, ?, ?)`, "u2", "a@example.com", 2)
	require.ErrorIs(t, err, ErrConstraint)
	assert.NotErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, err, Wrap(err))
}
