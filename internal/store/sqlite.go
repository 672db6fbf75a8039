package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sambandhq/samband/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. WAL mode keeps
// readers unblocked during refresh cycles and serializes writers.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLite opens a SQLite database at the given path, configures WAL mode,
// and verifies integrity.
func NewSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}

	var check string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&check); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlite: integrity check")
	}
	if check != "ok" {
		db.Close()
		return nil, eris.Errorf("sqlite: integrity check failed: %s", check)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS events (
	id            INTEGER PRIMARY KEY,
	datetime      TEXT NOT NULL,
	event_time    TEXT NOT NULL,
	name          TEXT NOT NULL,
	summary       TEXT NOT NULL DEFAULT '',
	url           TEXT NOT NULL DEFAULT '',
	type          TEXT NOT NULL,
	location_name TEXT NOT NULL DEFAULT '',
	location_gps  TEXT NOT NULL DEFAULT '',
	raw_data      TEXT NOT NULL,
	fingerprint   TEXT NOT NULL,
	fetched_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_event_time ON events(event_time DESC);
CREATE INDEX IF NOT EXISTS idx_events_location ON events(location_name);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
CREATE INDEX IF NOT EXISTS idx_events_location_time ON events(location_name, event_time DESC);
CREATE INDEX IF NOT EXISTS idx_events_type_time ON events(type, event_time DESC);

CREATE TABLE IF NOT EXISTS fetch_log (
	id             TEXT PRIMARY KEY,
	fetched_at     TEXT NOT NULL,
	events_fetched INTEGER NOT NULL,
	events_new     INTEGER NOT NULL,
	success        INTEGER NOT NULL,
	error_message  TEXT
);

CREATE INDEX IF NOT EXISTS idx_fetch_log_fetched_at ON fetch_log(fetched_at DESC);

CREATE TABLE IF NOT EXISTS backup_log (
	id            TEXT PRIMARY KEY,
	backup_at     TEXT NOT NULL,
	filename      TEXT NOT NULL,
	size_bytes    INTEGER,
	success       INTEGER NOT NULL,
	error_message TEXT
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path, used by the backup manager.
func (s *SQLiteStore) Path() string {
	return s.path
}

const eventColumns = `id, datetime, event_time, name, summary, url, type,
	location_name, location_gps, raw_data, fingerprint, fetched_at, updated_at`

func (s *SQLiteStore) GetEvent(ctx context.Context, id int64) (*model.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get event %d", id)
	}
	return ev, nil
}

func (s *SQLiteStore) InsertEvent(ctx context.Context, ev *model.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (`+eventColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Datetime, formatTime(ev.EventTime), ev.Name, ev.Summary,
		ev.URL, ev.Type, ev.LocationName, ev.LocationGPS, string(ev.Raw),
		ev.Fingerprint, formatTime(ev.FetchedAt), formatTime(ev.UpdatedAt),
	)
	return eris.Wrapf(err, "sqlite: insert event %d", ev.ID)
}

// UpdateEvent overwrites the mutable fields of an existing event.
// event_time and fetched_at are immutable after first insert.
func (s *SQLiteStore) UpdateEvent(ctx context.Context, ev *model.Event) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET datetime = ?, name = ?, summary = ?, url = ?,
		 type = ?, location_name = ?, location_gps = ?, raw_data = ?,
		 fingerprint = ?, updated_at = ?
		 WHERE id = ?`,
		ev.Datetime, ev.Name, ev.Summary, ev.URL, ev.Type, ev.LocationName,
		ev.LocationGPS, string(ev.Raw), ev.Fingerprint,
		formatTime(ev.UpdatedAt), ev.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update event %d", ev.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("sqlite: event not found: %d", ev.ID)
	}
	return nil
}

// buildEventWhere translates a Filter into a WHERE clause fragment.
func buildEventWhere(f Filter) (string, []any) {
	where := ` WHERE 1=1`
	var args []any

	if f.Location != "" {
		where += ` AND location_name = ?`
		args = append(args, f.Location)
	}
	if f.Type != "" {
		where += ` AND type = ?`
		args = append(args, f.Type)
	}
	if f.Search != "" {
		pat := "%" + EscapeLike(f.Search) + "%"
		where += ` AND (name LIKE ? ESCAPE '\' OR summary LIKE ? ESCAPE '\' OR location_name LIKE ? ESCAPE '\')`
		args = append(args, pat, pat, pat)
	}
	if f.Date != "" {
		where += ` AND event_time LIKE ? ESCAPE '\'`
		args = append(args, EscapeLike(f.Date)+"%")
	}
	if f.From != "" {
		where += ` AND event_time >= ?`
		args = append(args, f.From)
	}
	if f.To != "" {
		// End-of-day inclusive: compare against the next calendar day.
		where += ` AND event_time < ?`
		args = append(args, nextDay(f.To))
	}
	return where, args
}

// nextDay returns the day after a YYYY-MM-DD date, for exclusive upper
// bounds. Unparseable input falls back to an end-of-day suffix.
func nextDay(day string) string {
	t, err := time.Parse("2006-01-02", day)
	if err != nil {
		return day + "T23:59:59~"
	}
	return t.AddDate(0, 0, 1).Format("2006-01-02")
}

func (s *SQLiteStore) CountEvents(ctx context.Context, f Filter) (int, error) {
	where, args := buildEventWhere(f)
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`+where, args...).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count events")
}

func (s *SQLiteStore) ListEvents(ctx context.Context, f Filter) ([]model.Event, error) {
	where, args := buildEventWhere(f)
	query := `SELECT ` + eventColumns + ` FROM events` + where +
		` ORDER BY event_time DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, f.PageLimit(), f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list events")
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		events = append(events, *ev)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: list events iterate")
}

func (s *SQLiteStore) ListLocations(ctx context.Context) ([]model.NameCount, error) {
	return s.nameCounts(ctx,
		`SELECT location_name, COUNT(*) FROM events GROUP BY location_name ORDER BY COUNT(*) DESC, location_name`)
}

func (s *SQLiteStore) ListTypes(ctx context.Context) ([]model.NameCount, error) {
	return s.nameCounts(ctx,
		`SELECT type, COUNT(*) FROM events GROUP BY type ORDER BY COUNT(*) DESC, type`)
}

func (s *SQLiteStore) nameCounts(ctx context.Context, query string) ([]model.NameCount, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: name counts")
	}
	defer rows.Close()

	var out []model.NameCount
	for rows.Next() {
		var nc model.NameCount
		if err := rows.Scan(&nc.Name, &nc.Count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan name count")
		}
		out = append(out, nc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: name counts iterate")
}

func (s *SQLiteStore) EventsBetween(ctx context.Context, from, to time.Time, excludeTypePrefix string) ([]model.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events
		WHERE event_time >= ? AND event_time <= ?`
	args := []any{formatTime(from), formatTime(to)}
	if excludeTypePrefix != "" {
		query += ` AND type NOT LIKE ? ESCAPE '\'`
		args = append(args, EscapeLike(excludeTypePrefix)+"%")
	}
	query += ` ORDER BY event_time ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: events between")
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		events = append(events, *ev)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: events between iterate")
}

func (s *SQLiteStore) OldestEventTime(ctx context.Context) (*time.Time, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT MIN(event_time) FROM events`).Scan(&raw)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: oldest event time")
	}
	if !raw.Valid {
		return nil, nil
	}
	t := parseStoredTime(raw.String)
	return &t, nil
}

func (s *SQLiteStore) InsertFetchAttempt(ctx context.Context, a *model.FetchAttempt) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fetch_log (id, fetched_at, events_fetched, events_new, success, error_message)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, formatTime(a.FetchedAt), a.EventsFetched, a.EventsNew,
		boolToInt(a.Success), nullString(a.ErrorMessage),
	)
	return eris.Wrap(err, "sqlite: insert fetch attempt")
}

func (s *SQLiteStore) LastFetchAttempt(ctx context.Context) (*model.FetchAttempt, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, fetched_at, events_fetched, events_new, success, error_message
		 FROM fetch_log ORDER BY fetched_at DESC LIMIT 1`)
	a, err := scanFetchAttempt(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: last fetch attempt")
	}
	return a, nil
}

func (s *SQLiteStore) ListFetchAttempts(ctx context.Context, limit int) ([]model.FetchAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fetched_at, events_fetched, events_new, success, error_message
		 FROM fetch_log ORDER BY fetched_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list fetch attempts")
	}
	defer rows.Close()

	var out []model.FetchAttempt
	for rows.Next() {
		a, err := scanFetchAttempt(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan fetch attempt")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list fetch attempts iterate")
}

func (s *SQLiteStore) DeleteFetchAttemptsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM fetch_log WHERE fetched_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete fetch attempts")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) InsertBackupEntry(ctx context.Context, b *model.BackupEntry) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO backup_log (id, backup_at, filename, size_bytes, success, error_message)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, formatTime(b.BackupAt), b.Filename, b.SizeBytes,
		boolToInt(b.Success), nullString(b.ErrorMessage),
	)
	return eris.Wrap(err, "sqlite: insert backup entry")
}

func (s *SQLiteStore) LastBackupEntry(ctx context.Context) (*model.BackupEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, backup_at, filename, size_bytes, success, error_message
		 FROM backup_log WHERE success = 1 ORDER BY backup_at DESC LIMIT 1`)

	var b model.BackupEntry
	var at string
	var size sql.NullInt64
	var errMsg sql.NullString
	var success int
	err := row.Scan(&b.ID, &at, &b.Filename, &size, &success, &errMsg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: last backup entry")
	}
	b.BackupAt = parseStoredTime(at)
	b.SizeBytes = size.Int64
	b.Success = success != 0
	b.ErrorMessage = errMsg.String
	return &b, nil
}

func (s *SQLiteStore) DatabaseStats(ctx context.Context) (*model.DatabaseStats, error) {
	stats := &model.DatabaseStats{}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT location_name) FROM events`).
		Scan(&stats.TotalEvents, &stats.UniqueLocations)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: database stats")
	}

	var oldest, newest sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT MIN(event_time), MAX(event_time) FROM events`).Scan(&oldest, &newest)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: database stats range")
	}
	if oldest.Valid {
		t := parseStoredTime(oldest.String)
		stats.OldestEvent = &t
	}
	if newest.Valid {
		t := parseStoredTime(newest.String)
		stats.NewestEvent = &t
	}

	last, err := s.LastFetchAttempt(ctx)
	if err != nil {
		return nil, err
	}
	if last != nil {
		stats.LastFetchAt = &last.FetchedAt
		stats.LastFetchNew = last.EventsNew
	}

	backup, err := s.LastBackupEntry(ctx)
	if err != nil {
		return nil, err
	}
	if backup != nil {
		stats.LastBackupAt = &backup.BackupAt
		stats.LastBackupFile = backup.Filename
	}

	return stats, nil
}

// CheckpointWAL flushes the write-ahead log into the main database file.
// Run before backups so the copied file is self-contained.
func (s *SQLiteStore) CheckpointWAL(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return eris.Wrap(err, "sqlite: wal checkpoint")
}

// VacuumInto writes a compacted copy of the database to path using the
// online backup-safe VACUUM INTO statement.
func (s *SQLiteStore) VacuumInto(ctx context.Context, path string) error {
	// VACUUM does not reliably accept bound parameters across drivers.
	quoted := strings.ReplaceAll(path, "'", "''")
	_, err := s.db.ExecContext(ctx, "VACUUM INTO '"+quoted+"'")
	return eris.Wrapf(err, "sqlite: vacuum into %s", path)
}

// VerifySQLiteFile opens a database file read-only, runs an integrity
// check, and returns its event count.
func VerifySQLiteFile(ctx context.Context, path string) (int, error) {
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: open backup")
	}
	defer db.Close() //nolint:errcheck

	var check string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&check); err != nil {
		return 0, eris.Wrap(err, "sqlite: backup integrity check")
	}
	if check != "ok" {
		return 0, eris.Errorf("sqlite: backup integrity check failed: %s", check)
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&count); err != nil {
		return 0, eris.Wrap(err, "sqlite: backup event count")
	}
	return count, nil
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanEvent(row scannable) (*model.Event, error) {
	var ev model.Event
	var eventTime, fetchedAt, updatedAt, raw string
	err := row.Scan(&ev.ID, &ev.Datetime, &eventTime, &ev.Name, &ev.Summary,
		&ev.URL, &ev.Type, &ev.LocationName, &ev.LocationGPS, &raw,
		&ev.Fingerprint, &fetchedAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	ev.EventTime = parseStoredTime(eventTime)
	ev.FetchedAt = parseStoredTime(fetchedAt)
	ev.UpdatedAt = parseStoredTime(updatedAt)
	ev.Raw = []byte(raw)
	return &ev, nil
}

func scanFetchAttempt(row scannable) (*model.FetchAttempt, error) {
	var a model.FetchAttempt
	var at string
	var success int
	var errMsg sql.NullString
	err := row.Scan(&a.ID, &at, &a.EventsFetched, &a.EventsNew, &success, &errMsg)
	if err != nil {
		return nil, err
	}
	a.FetchedAt = parseStoredTime(at)
	a.Success = success != 0
	a.ErrorMessage = errMsg.String
	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
