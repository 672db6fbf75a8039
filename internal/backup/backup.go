// Package backup creates and verifies SQLite database backups.
package backup

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sambandhq/samband/internal/model"
	"github.com/sambandhq/samband/internal/store"
)

const (
	filePrefix = "events_backup_"
	fileSuffix = ".db"
)

// Options configures the backup manager.
type Options struct {
	// Dir receives backup files. Created on first use.
	Dir string

	// RetentionDays removes older backup files after each successful
	// backup. Zero keeps everything.
	RetentionDays int
}

// Manager produces verified point-in-time copies of the SQLite store.
// Backups are SQLite-only; a Postgres deployment uses its own tooling.
type Manager struct {
	store *store.SQLiteStore
	opts  Options
	clock clockwork.Clock
}

// NewManager creates a Manager over the given SQLite store.
func NewManager(st *store.SQLiteStore, opts Options, clock clockwork.Clock) *Manager {
	if opts.Dir == "" {
		opts.Dir = filepath.Join(filepath.Dir(st.Path()), "backups")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager{store: st, opts: opts, clock: clock}
}

// Create takes one backup: checkpoint the WAL, VACUUM INTO a timestamped
// file, then reopen the copy to verify integrity and row count. The file
// is removed on any verification failure. The attempt is recorded in the
// backup log whether it succeeded or not, and the entry is returned along
// with the error.
func (m *Manager) Create(ctx context.Context) (*model.BackupEntry, error) {
	entry := &model.BackupEntry{
		ID:       uuid.NewString(),
		BackupAt: m.clock.Now().UTC(),
	}

	path, err := m.run(ctx, entry)
	if err != nil {
		entry.ErrorMessage = err.Error()
		if path != "" {
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				zap.L().Warn("backup: remove failed file", zap.String("path", path), zap.Error(rmErr))
			}
		}
		zap.L().Error("backup failed", zap.String("filename", entry.Filename), zap.Error(err))
	} else {
		entry.Success = true
		zap.L().Info("backup complete",
			zap.String("filename", entry.Filename),
			zap.Int64("size_bytes", entry.SizeBytes),
		)
	}

	if logErr := m.store.InsertBackupEntry(ctx, entry); logErr != nil {
		zap.L().Error("backup: record entry", zap.Error(logErr))
	}

	if err == nil && m.opts.RetentionDays > 0 {
		m.sweep()
	}
	return entry, err
}

func (m *Manager) run(ctx context.Context, entry *model.BackupEntry) (string, error) {
	if err := os.MkdirAll(m.opts.Dir, 0o755); err != nil {
		return "", eris.Wrap(err, "backup: create directory")
	}

	entry.Filename = filePrefix + entry.BackupAt.Format("20060102_150405") + fileSuffix
	path := filepath.Join(m.opts.Dir, entry.Filename)

	if err := m.store.CheckpointWAL(ctx); err != nil {
		return path, err
	}
	if err := m.store.VacuumInto(ctx, path); err != nil {
		return path, err
	}

	copied, err := store.VerifySQLiteFile(ctx, path)
	if err != nil {
		return path, err
	}
	live, err := m.store.CountEvents(ctx, store.Filter{})
	if err != nil {
		return path, err
	}
	if copied != live {
		return path, eris.Errorf("backup: verification count mismatch: backup has %d events, store has %d", copied, live)
	}

	info, err := os.Stat(path)
	if err != nil {
		return path, eris.Wrap(err, "backup: stat file")
	}
	entry.SizeBytes = info.Size()
	return path, nil
}

// sweep removes backup files older than the retention window. Failures are
// logged only; retention never fails a backup that already succeeded.
func (m *Manager) sweep() {
	cutoff := m.clock.Now().Add(-time.Duration(m.opts.RetentionDays) * 24 * time.Hour)

	entries, err := os.ReadDir(m.opts.Dir)
	if err != nil {
		zap.L().Warn("backup: read backup dir", zap.Error(err))
		return
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
		t, err := time.Parse("20060102_150405", stamp)
		if err != nil {
			continue
		}
		if !t.Before(cutoff) {
			continue
		}
		path := filepath.Join(m.opts.Dir, name)
		if err := os.Remove(path); err != nil {
			zap.L().Warn("backup: remove expired backup", zap.String("path", path), zap.Error(err))
			continue
		}
		zap.L().Debug("removed expired backup", zap.String("filename", name))
	}
}
