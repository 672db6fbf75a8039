package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sambandhq/samband/internal/model"
	"github.com/sambandhq/samband/internal/store"
)

func newTestSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })
	return st
}

func seedEvents(t *testing.T, st *store.SQLiteStore, n int) {
	t.Helper()
	base := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	for i := 1; i <= n; i++ {
		require.NoError(t, st.InsertEvent(context.Background(), &model.Event{
			ID:          int64(i),
			Datetime:    "2024-03-05 12:00:00 +01:00",
			EventTime:   base.Add(time.Duration(i) * time.Minute),
			Name:        fmt.Sprintf("Trafikolycka %d", i),
			Type:        "Trafikolycka",
			Raw:         json.RawMessage(`{}`),
			Fingerprint: "deadbeef",
			FetchedAt:   base,
			UpdatedAt:   base,
		}))
	}
}

func TestCreateBackup(t *testing.T) {
	st := newTestSQLiteStore(t)
	seedEvents(t, st, 5)

	dir := t.TempDir()
	now := time.Date(2024, 3, 6, 3, 0, 0, 0, time.UTC)
	m := NewManager(st, Options{Dir: dir}, clockwork.NewFakeClockAt(now))

	entry, err := m.Create(context.Background())
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, entry.Success)
	assert.Equal(t, "events_backup_20240306_030000.db", entry.Filename)
	assert.Positive(t, entry.SizeBytes)
	assert.NotEmpty(t, entry.ID)

	path := filepath.Join(dir, entry.Filename)
	count, err := store.VerifySQLiteFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	// The attempt is logged.
	last, err := st.LastBackupEntry(context.Background())
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, entry.Filename, last.Filename)
}

func TestCreateBackupEmptyStore(t *testing.T) {
	st := newTestSQLiteStore(t)
	m := NewManager(st, Options{Dir: t.TempDir()}, clockwork.NewFakeClockAt(time.Date(2024, 3, 6, 3, 0, 0, 0, time.UTC)))

	entry, err := m.Create(context.Background())
	require.NoError(t, err)
	assert.True(t, entry.Success)
}

func TestRetentionSweep(t *testing.T) {
	st := newTestSQLiteStore(t)
	seedEvents(t, st, 2)

	dir := t.TempDir()
	now := time.Date(2024, 3, 20, 3, 0, 0, 0, time.UTC)

	// A stale backup file from three weeks ago, and a foreign file that
	// the sweep must leave alone.
	stale := filepath.Join(dir, "events_backup_20240228_030000.db")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o644))
	foreign := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(foreign, []byte("keep"), 0o644))

	m := NewManager(st, Options{Dir: dir, RetentionDays: 14}, clockwork.NewFakeClockAt(now))
	entry, err := m.Create(context.Background())
	require.NoError(t, err)
	require.True(t, entry.Success)

	assert.NoFileExists(t, stale)
	assert.FileExists(t, foreign)
	assert.FileExists(t, filepath.Join(dir, entry.Filename))
}

func TestDefaultDirDerivedFromStore(t *testing.T) {
	st := newTestSQLiteStore(t)
	m := NewManager(st, Options{}, nil)
	assert.Equal(t, filepath.Join(filepath.Dir(st.Path()), "backups"), m.opts.Dir)
}
