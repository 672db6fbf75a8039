package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sambandhq/samband/internal/db"
	"github.com/sambandhq/samband/internal/model"
)

// PostgresStore implements Store using pgxpool, for deployments that
// outgrow the embedded SQLite file.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS events (
	id            BIGINT PRIMARY KEY,
	datetime      TEXT NOT NULL,
	event_time    TIMESTAMPTZ NOT NULL,
	name          TEXT NOT NULL,
	summary       TEXT NOT NULL DEFAULT '',
	url           TEXT NOT NULL DEFAULT '',
	type          TEXT NOT NULL,
	location_name TEXT NOT NULL DEFAULT '',
	location_gps  TEXT NOT NULL DEFAULT '',
	raw_data      JSONB NOT NULL,
	fingerprint   TEXT NOT NULL,
	fetched_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_event_time ON events(event_time DESC);
CREATE INDEX IF NOT EXISTS idx_events_location ON events(location_name);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);

CREATE TABLE IF NOT EXISTS fetch_log (
	id             TEXT PRIMARY KEY,
	fetched_at     TIMESTAMPTZ NOT NULL,
	events_fetched INTEGER NOT NULL,
	events_new     INTEGER NOT NULL,
	success        BOOLEAN NOT NULL,
	error_message  TEXT
);

CREATE INDEX IF NOT EXISTS idx_fetch_log_fetched_at ON fetch_log(fetched_at DESC);

CREATE TABLE IF NOT EXISTS backup_log (
	id            TEXT PRIMARY KEY,
	backup_at     TIMESTAMPTZ NOT NULL,
	filename      TEXT NOT NULL,
	size_bytes    BIGINT,
	success       BOOLEAN NOT NULL,
	error_message TEXT
);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, id int64) (*model.Event, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	ev, err := scanPGEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get event %d", id)
	}
	return ev, nil
}

func (s *PostgresStore) InsertEvent(ctx context.Context, ev *model.Event) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO events (`+eventColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		ev.ID, ev.Datetime, ev.EventTime.UTC(), ev.Name, ev.Summary,
		ev.URL, ev.Type, ev.LocationName, ev.LocationGPS, []byte(ev.Raw),
		ev.Fingerprint, ev.FetchedAt.UTC(), ev.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: insert event %d", ev.ID)
}

func (s *PostgresStore) UpdateEvent(ctx context.Context, ev *model.Event) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE events SET datetime = $1, name = $2, summary = $3, url = $4,
		 type = $5, location_name = $6, location_gps = $7, raw_data = $8,
		 fingerprint = $9, updated_at = $10
		 WHERE id = $11`,
		ev.Datetime, ev.Name, ev.Summary, ev.URL, ev.Type, ev.LocationName,
		ev.LocationGPS, []byte(ev.Raw), ev.Fingerprint, ev.UpdatedAt.UTC(), ev.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update event %d", ev.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: event not found: %d", ev.ID)
	}
	return nil
}

func buildPGEventWhere(f Filter) (string, []any) {
	where := ` WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Location != "" {
		where += ` AND location_name = ` + arg(f.Location)
	}
	if f.Type != "" {
		where += ` AND type = ` + arg(f.Type)
	}
	if f.Search != "" {
		pat := arg("%" + EscapeLike(f.Search) + "%")
		where += ` AND (name LIKE ` + pat + ` ESCAPE '\'` +
			` OR summary LIKE ` + pat + ` ESCAPE '\'` +
			` OR location_name LIKE ` + pat + ` ESCAPE '\')`
	}
	if f.Date != "" {
		where += ` AND to_char(event_time AT TIME ZONE 'UTC', 'YYYY-MM-DD') LIKE ` +
			arg(EscapeLike(f.Date)+"%") + ` ESCAPE '\'`
	}
	if f.From != "" {
		if t, err := time.Parse("2006-01-02", f.From); err == nil {
			where += ` AND event_time >= ` + arg(t.UTC())
		}
	}
	if f.To != "" {
		if t, err := time.Parse("2006-01-02", f.To); err == nil {
			where += ` AND event_time < ` + arg(t.AddDate(0, 0, 1).UTC())
		}
	}
	return where, args
}

func (s *PostgresStore) CountEvents(ctx context.Context, f Filter) (int, error) {
	where, args := buildPGEventWhere(f)
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM events`+where, args...).Scan(&count)
	return count, eris.Wrap(err, "postgres: count events")
}

func (s *PostgresStore) ListEvents(ctx context.Context, f Filter) ([]model.Event, error) {
	where, args := buildPGEventWhere(f)
	query := fmt.Sprintf(`SELECT `+eventColumns+` FROM events`+where+
		` ORDER BY event_time DESC, id DESC LIMIT $%d OFFSET $%d`,
		len(args)+1, len(args)+2)
	args = append(args, f.PageLimit(), f.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list events")
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		ev, err := scanPGEvent(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan event")
		}
		events = append(events, *ev)
	}
	return events, eris.Wrap(rows.Err(), "postgres: list events iterate")
}

func (s *PostgresStore) ListLocations(ctx context.Context) ([]model.NameCount, error) {
	return s.nameCounts(ctx,
		`SELECT location_name, COUNT(*) FROM events GROUP BY location_name ORDER BY COUNT(*) DESC, location_name`)
}

func (s *PostgresStore) ListTypes(ctx context.Context) ([]model.NameCount, error) {
	return s.nameCounts(ctx,
		`SELECT type, COUNT(*) FROM events GROUP BY type ORDER BY COUNT(*) DESC, type`)
}

func (s *PostgresStore) nameCounts(ctx context.Context, query string) ([]model.NameCount, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: name counts")
	}
	defer rows.Close()

	var out []model.NameCount
	for rows.Next() {
		var nc model.NameCount
		if err := rows.Scan(&nc.Name, &nc.Count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan name count")
		}
		out = append(out, nc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: name counts iterate")
}

func (s *PostgresStore) EventsBetween(ctx context.Context, from, to time.Time, excludeTypePrefix string) ([]model.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events
		WHERE event_time >= $1 AND event_time <= $2`
	args := []any{from.UTC(), to.UTC()}
	if excludeTypePrefix != "" {
		query += ` AND type NOT LIKE $3 ESCAPE '\'`
		args = append(args, EscapeLike(excludeTypePrefix)+"%")
	}
	query += ` ORDER BY event_time ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: events between")
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		ev, err := scanPGEvent(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan event")
		}
		events = append(events, *ev)
	}
	return events, eris.Wrap(rows.Err(), "postgres: events between iterate")
}

func (s *PostgresStore) OldestEventTime(ctx context.Context) (*time.Time, error) {
	var t *time.Time
	err := s.pool.QueryRow(ctx, `SELECT MIN(event_time) FROM events`).Scan(&t)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: oldest event time")
	}
	return t, nil
}

func (s *PostgresStore) InsertFetchAttempt(ctx context.Context, a *model.FetchAttempt) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fetch_log (id, fetched_at, events_fetched, events_new, success, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.FetchedAt.UTC(), a.EventsFetched, a.EventsNew, a.Success,
		nullString(a.ErrorMessage),
	)
	return eris.Wrap(err, "postgres: insert fetch attempt")
}

func (s *PostgresStore) LastFetchAttempt(ctx context.Context) (*model.FetchAttempt, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, fetched_at, events_fetched, events_new, success, error_message
		 FROM fetch_log ORDER BY fetched_at DESC LIMIT 1`)
	a, err := scanPGFetchAttempt(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: last fetch attempt")
	}
	return a, nil
}

func (s *PostgresStore) ListFetchAttempts(ctx context.Context, limit int) ([]model.FetchAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, fetched_at, events_fetched, events_new, success, error_message
		 FROM fetch_log ORDER BY fetched_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list fetch attempts")
	}
	defer rows.Close()

	var out []model.FetchAttempt
	for rows.Next() {
		a, err := scanPGFetchAttempt(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan fetch attempt")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list fetch attempts iterate")
}

func (s *PostgresStore) DeleteFetchAttemptsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM fetch_log WHERE fetched_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete fetch attempts")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) InsertBackupEntry(ctx context.Context, b *model.BackupEntry) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO backup_log (id, backup_at, filename, size_bytes, success, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		b.ID, b.BackupAt.UTC(), b.Filename, b.SizeBytes, b.Success,
		nullString(b.ErrorMessage),
	)
	return eris.Wrap(err, "postgres: insert backup entry")
}

func (s *PostgresStore) LastBackupEntry(ctx context.Context) (*model.BackupEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, backup_at, filename, size_bytes, success, error_message
		 FROM backup_log WHERE success ORDER BY backup_at DESC LIMIT 1`)

	var b model.BackupEntry
	var size sql.NullInt64
	var errMsg sql.NullString
	err := row.Scan(&b.ID, &b.BackupAt, &b.Filename, &size, &b.Success, &errMsg)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: last backup entry")
	}
	b.SizeBytes = size.Int64
	b.ErrorMessage = errMsg.String
	return &b, nil
}

func (s *PostgresStore) DatabaseStats(ctx context.Context) (*model.DatabaseStats, error) {
	stats := &model.DatabaseStats{}

	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT location_name) FROM events`).
		Scan(&stats.TotalEvents, &stats.UniqueLocations)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: database stats")
	}

	err = s.pool.QueryRow(ctx,
		`SELECT MIN(event_time), MAX(event_time) FROM events`).
		Scan(&stats.OldestEvent, &stats.NewestEvent)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: database stats range")
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

func scanPGEvent(row pgx.Row) (*model.Event, error) {
	var ev model.Event
	var raw []byte
	err := row.Scan(&ev.ID, &ev.Datetime, &ev.EventTime, &ev.Name, &ev.Summary,
		&ev.URL, &ev.Type, &ev.LocationName, &ev.LocationGPS, &raw,
		&ev.Fingerprint, &ev.FetchedAt, &ev.UpdatedAt)
	if err != nil {
		return nil, err
	}
	ev.Raw = raw
	return &ev, nil
}

func scanPGFetchAttempt(row pgx.Row) (*model.FetchAttempt, error) {
	var a model.FetchAttempt
	var errMsg sql.NullString
	err := row.Scan(&a.ID, &a.FetchedAt, &a.EventsFetched, &a.EventsNew, &a.Success, &errMsg)
	if err != nil {
		return nil, err
	}
	a.ErrorMessage = errMsg.String
	return &a, nil
}
