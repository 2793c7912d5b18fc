package database

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openLedger(t *testing.T) *DB {
	t.Helper()
	db, err := New(Config{
		Path:    filepath.Join(t.TempDir(), "data", "ledger.db"),
		Profile: ProfileLedger,
		Name:    "ledger",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNew_CreatesDirectoryAndMigrates(t *testing.T) {
	db := openLedger(t)

	require.NoError(t, db.Migrate())
	require.NoError(t, db.Migrate(), "schema is idempotent")

	for _, table := range []string{"runs", "run_orders", "submissions"} {
		var name string
		err := db.Conn().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}

	require.NoError(t, db.HealthCheck(context.Background()))
}

func TestMigrate_UnknownSchema(t *testing.T) {
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "x.db"), Name: "unknown"})
	require.NoError(t, err)
	defer db.Close()

	assert.Error(t, db.Migrate())
}

func TestBuildConnectionString(t *testing.T) {
	ledger := buildConnectionString("/tmp/ledger.db", ProfileLedger)
	assert.Contains(t, ledger, "/tmp/ledger.db?_pragma=journal_mode(WAL)")
	assert.Contains(t, ledger, "synchronous(FULL)")
	assert.Contains(t, ledger, "foreign_keys(1)")

	mem := buildConnectionString("file:test?mode=memory", ProfileStandard)
	assert.Contains(t, mem, "file:test?mode=memory&_pragma=journal_mode(WAL)")
	assert.Contains(t, mem, "synchronous(NORMAL)")
}

func TestWithTransaction(t *testing.T) {
	db := openLedger(t)
	_, err := db.Conn().Exec("CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)

	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO t (v) VALUES (1)")
		return err
	})
	require.NoError(t, err)

	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO t (v) VALUES (2)"); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		panic("boom")
	})
	require.Error(t, err)

	var count int
	require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM t").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestWALCheckpoint(t *testing.T) {
	db := openLedger(t)
	assert.NoError(t, db.WALCheckpoint(""))
	assert.NoError(t, db.WALCheckpoint("passive"))
	assert.Error(t, db.WALCheckpoint("bogus"))
}

func TestSnapshotTo(t *testing.T) {
	db := openLedger(t)
	require.NoError(t, db.Migrate())
	_, err := db.Conn().Exec(`INSERT INTO runs (id, status, phase, window_start, window_end, interval_ms, created_at)
		VALUES ('r1', 'completed', 'done', 1, 2, 1000, 1)`)
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "snap", "ledger.db")
	require.NoError(t, db.SnapshotTo(context.Background(), dest))

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	assert.Error(t, db.SnapshotTo(context.Background(), dest), "existing target is refused")

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Positive(t, stats.PageCount)
}
