package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T, name string) *DB {
	t.Helper()
	db, err := New(Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Profile: ProfileLedger,
		Name:    name,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNew_CreatesNestedDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "db", "journal.db")

	db, err := New(Config{Path: path, Name: "journal"})
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, db.HealthCheck(context.Background()))
}

func TestMigrate_AppliesJournalSchemaIdempotently(t *testing.T) {
	db := openTestDB(t, "journal")

	require.NoError(t, db.Migrate())
	require.NoError(t, db.Migrate())

	var n int
	require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM trades").Scan(&n))
	assert.Equal(t, 0, n)
}

func TestMigrate_NameWithoutSchemaIsNoOp(t *testing.T) {
	db := openTestDB(t, "scratch")

	assert.NoError(t, db.Migrate())
}

func setupKV(t *testing.T) *sql.DB {
	t.Helper()
	db := openTestDB(t, "kv")
	_, err := db.Conn().Exec("CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)")
	require.NoError(t, err)
	return db.Conn()
}

func countKV(t *testing.T, conn *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM kv").Scan(&n))
	return n
}

func TestWithTransaction_CommitsOnSuccess(t *testing.T) {
	conn := setupKV(t)

	err := WithTransaction(conn, func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO kv (k, v) VALUES ('a', '1')")
		return err
	})

	require.NoError(t, err)
	assert.Equal(t, 1, countKV(t, conn))
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	conn := setupKV(t)
	boom := errors.New("boom")

	err := WithTransaction(conn, func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO kv (k, v) VALUES ('a', '1')"); err != nil {
			return err
		}
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, countKV(t, conn))
}

func TestWithTransaction_RollsBackOnPanic(t *testing.T) {
	conn := setupKV(t)

	err := WithTransaction(conn, func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO kv (k, v) VALUES ('a', '1')"); err != nil {
			return err
		}
		panic("midway")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in transaction")
	assert.Equal(t, 0, countKV(t, conn))
}

func TestWALCheckpoint_DefaultsToTruncate(t *testing.T) {
	db := openTestDB(t, "journal")
	require.NoError(t, db.Migrate())

	assert.NoError(t, db.WALCheckpoint(""))
}

func TestBackupTo_ProducesReadableCopy(t *testing.T) {
	db := openTestDB(t, "journal")
	require.NoError(t, db.Migrate())

	copyPath := filepath.Join(t.TempDir(), "journal-copy.db")
	require.NoError(t, db.BackupTo(copyPath))

	copyConn, err := sql.Open("sqlite", copyPath)
	require.NoError(t, err)
	defer copyConn.Close()

	var n int
	require.NoError(t, copyConn.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'trades'").Scan(&n))
	assert.Equal(t, 1, n)
}
