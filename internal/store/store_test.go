package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "roadmap.db")
	s, err := New(dbPath, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNew_CreatesSchema(t *testing.T) {
	s := newTestStore(t)

	for _, table := range []string{"meta", "projects", "tasks", "project_events"} {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s should exist", table)
	}

	assert.Equal(t, "2", s.schemaVersion())
}

func TestNew_MigrationsAreIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "roadmap.db")
	first, err := New(dbPath, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := New(dbPath, zerolog.Nop())
	require.NoError(t, err)
	defer second.Close()
	assert.Equal(t, "2", second.schemaVersion())
}

func TestNew_InMemory(t *testing.T) {
	s, err := New(":memory:", zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Ping(context.Background()))
}

func TestWithTx_CommitAndRollback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO meta(key, value) VALUES ('k1', 'v1')`)
		return err
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta(key, value) VALUES ('k2', 'v2')`); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM meta WHERE key IN ('k1', 'k2')`).Scan(&n))
	assert.Equal(t, 1, n, "rolled back insert must not be visible")
}

func TestDSN(t *testing.T) {
	assert.Equal(t, ":memory:", dsn(":memory:"))
	d := dsn("/var/lib/roadmap.db")
	assert.Contains(t, d, "file:/var/lib/roadmap.db?")
	assert.Contains(t, d, "_txlock=immediate")
	assert.Contains(t, d, "_pragma=busy_timeout(5000)")
}
