package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/graphir/internal/queryir"
	"github.com/roach88/graphir/internal/testutil"
)

func TestOpen_CreatesAndReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	_, statErr := os.Stat(path)
	require.NoError(t, statErr, "database file is created")
	_, _, err = s.SaveProgram(ctx, testutil.MLP(), "initial")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	for i := range 3 {
		s, err := Open(path)
		require.NoError(t, err, "reopen %d", i)
		history, err := s.History(ctx, "mlp")
		require.NoError(t, err)
		assert.Len(t, history, 1, "reopen %d keeps the history", i)
		require.NoError(t, s.Close())
	}
}

func TestOpen_InMemory(t *testing.T) {
	s, err := Open(":memory:", WithClock(testutil.NewStepClock()))
	require.NoError(t, err)
	defer s.Close()

	v, inserted, err := s.SaveProgram(context.Background(), testutil.MLP(), "")
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, testutil.Epoch, v.CreatedAt)
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "history.db"))
	assert.Error(t, err)
}

func TestClose(t *testing.T) {
	assert.NoError(t, (&Store{}).Close(), "closing a store without a handle is a no-op")

	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	require.NotNil(t, s.DB())
	require.NoError(t, s.DB().Ping())
	require.NoError(t, s.Close())
	assert.NotPanics(t, func() { _ = s.Close() })
}

func TestPragmas(t *testing.T) {
	s, _ := createTestStore(t)

	tests := []struct {
		pragma string
		want   string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"}, // NORMAL
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
		{"user_version", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.pragma, func(t *testing.T) {
			var got string
			require.NoError(t, s.db.QueryRow("PRAGMA "+tt.pragma).Scan(&got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSchema_MatchesQueryCatalog(t *testing.T) {
	s, _ := createTestStore(t)

	assert.Equal(t, append(queryir.Fields(queryir.Versions)[:7:7], "blob", "created_at"),
		tableColumns(t, s.db, "program_versions"))
	assert.Equal(t, queryir.Fields(queryir.PassRuns), tableColumns(t, s.db, "pass_runs"))

	assert.Contains(t, tableIndexes(t, s.db, "program_versions"), "idx_program_versions_fingerprint")
	assert.Contains(t, tableIndexes(t, s.db, "pass_runs"), "idx_pass_runs_main")
}

func TestSchema_VersionUniquePerProgram(t *testing.T) {
	s, _ := createTestStore(t)

	insert := `INSERT INTO program_versions
		(program_id, fingerprint, num_blocks, num_ops, num_vars, blob, created_at)
		VALUES (?, 'f', 1, 0, 0, x'00', '2025-01-01T00:00:00Z')`
	_, err := s.db.Exec(insert, "p")
	require.NoError(t, err)
	_, err = s.db.Exec(insert, "p")
	assert.Error(t, err, "UNIQUE(program_id, fingerprint)")
	_, err = s.db.Exec(insert, "q")
	assert.NoError(t, err, "the same fingerprint may belong to another program")
}

func TestMigrate_FromV0(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE pass_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pass TEXT NOT NULL, config TEXT NOT NULL, config_hash TEXT NOT NULL,
		main_program TEXT NOT NULL, startup_program TEXT NOT NULL,
		main_before TEXT NOT NULL, main_after TEXT NOT NULL DEFAULT '',
		startup_before TEXT NOT NULL, startup_after TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '{}', error_code TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.Contains(t, tableColumns(t, s.db, "pass_runs"), "error_message")
	failed := createTestPassRun("main")
	failed.ErrorCode, failed.ErrorMessage = "E301", "bad stage"
	id, err := s.RecordPassRun(context.Background(), failed)
	require.NoError(t, err)
	run, err := s.PassRun(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "bad stage", run.ErrorMessage)
}

func tableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query(`SELECT name FROM pragma_table_info(?) ORDER BY cid`, table)
	require.NoError(t, err)
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		columns = append(columns, name)
	}
	require.NoError(t, rows.Err())
	return columns
}

func tableIndexes(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = ?", table)
	require.NoError(t, err)
	defer rows.Close()

	var indexes []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		indexes = append(indexes, name)
	}
	require.NoError(t, rows.Err())
	return indexes
}
