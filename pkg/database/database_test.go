package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen_AppliesMigrations(t *testing.T) {
	db := openTestDB(t)

	for _, table := range []string{"identities", "recovery_tokens"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = $1`, table).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
	}
}

func TestOpen_PartialUniqueIndex(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	insert := `INSERT INTO recovery_tokens (token, contact, created_at, used) VALUES ($1, $2, CURRENT_TIMESTAMP, $3)`
	_, err := db.ExecContext(ctx, insert, "t1", "a@example.com", true)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, insert, "t2", "a@example.com", false)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, insert, "t3", "a@example.com", false)
	require.Error(t, err)
	require.True(t, IsUniqueViolation(err), "expected unique violation, got %v", err)
}

func TestMigrate_Idempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, Migrate(context.Background(), db, DriverSQLite))
}

func TestMigrate_PropagatesGooseError(t *testing.T) {
	orig := gooseUpContext
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("boom")
	}
	t.Cleanup(func() { gooseUpContext = orig })

	db, err := sql.Open(DriverSQLite, filepath.Join(t.TempDir(), "x.db"))
	require.NoError(t, err)
	defer db.Close()

	err = Migrate(context.Background(), db, DriverSQLite)
	require.ErrorContains(t, err, "boom")
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := WithTx(ctx, db, nil, func(ctx context.Context, tx DBTX) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO recovery_tokens (token, contact, created_at) VALUES ('ok', 'c', CURRENT_TIMESTAMP)`)
		return err
	})
	require.NoError(t, err)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM recovery_tokens`).Scan(&n))
	require.Equal(t, 1, n)
}

func TestWithTx_RollbackOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := WithTx(ctx, db, nil, func(ctx context.Context, tx DBTX) error {
		_, e := tx.ExecContext(ctx, `INSERT INTO recovery_tokens (token, contact, created_at) VALUES ('fail', 'c', CURRENT_TIMESTAMP)`)
		require.NoError(t, e)
		return errors.New("boom")
	})
	require.Error(t, err)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM recovery_tokens`).Scan(&n))
	require.Equal(t, 0, n, "must rollback when fn returns error")
}

func TestWithTx_RollbackOnPanic(t *testing.T) {
	db := openTestDB(t)

	defer func() {
		require.NotNil(t, recover(), "expected panic to propagate")
		var n int
		require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM recovery_tokens`).Scan(&n))
		require.Equal(t, 0, n, "must rollback on panic")
	}()

	_ = WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		_, e := tx.ExecContext(ctx, `INSERT INTO recovery_tokens (token, contact, created_at) VALUES ('panic', 'c', CURRENT_TIMESTAMP)`)
		require.NoError(t, e)
		panic("kaput")
	})
}

func TestIsUniqueViolation(t *testing.T) {
	require.False(t, IsUniqueViolation(nil))
	require.False(t, IsUniqueViolation(errors.New("connection reset")))
	require.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	require.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	require.True(t, IsUniqueViolation(errors.New("constraint failed: UNIQUE constraint failed: recovery_tokens.contact (2067)")))
}
