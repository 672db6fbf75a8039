package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sambandhq/samband/internal/model"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &PostgresStore{pool: mock}, mock
}

var pgEventColumns = []string{
	"id", "datetime", "event_time", "name", "summary", "url", "type",
	"location_name", "location_gps", "raw_data", "fingerprint",
	"fetched_at", "updated_at",
}

func TestPGGetEvent(t *testing.T) {
	st, mock := newMockPostgresStore(t)
	at := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT (.+) FROM events WHERE id = \$1`).
		WithArgs(int64(101)).
		WillReturnRows(pgxmock.NewRows(pgEventColumns).AddRow(
			int64(101), "2024-03-05 14:30:00 +01:00", at,
			"Trafikolycka, Stockholm", "Två bilar.", "/aktuellt/101",
			"Trafikolycka", "Stockholm", "59.33,18.07",
			[]byte(`{"id":101}`), "deadbeef", at, at,
		))

	got, err := st.GetEvent(context.Background(), 101)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Stockholm", got.LocationName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGGetEventMissing(t *testing.T) {
	st, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT (.+) FROM events WHERE id = \$1`).
		WithArgs(int64(404)).
		WillReturnError(pgx.ErrNoRows)

	got, err := st.GetEvent(context.Background(), 404)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGInsertEvent(t *testing.T) {
	st, mock := newMockPostgresStore(t)
	at := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO events`).
		WithArgs(int64(101), "2024-03-05 14:30:00 +01:00", at,
			"Trafikolycka, Stockholm", "Två bilar.", "/aktuellt/101",
			"Trafikolycka", "Stockholm", "59.33,18.07",
			[]byte(`{"id":101}`), "deadbeef", at, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := st.InsertEvent(context.Background(), &model.Event{
		ID:           101,
		Datetime:     "2024-03-05 14:30:00 +01:00",
		EventTime:    at,
		Name:         "Trafikolycka, Stockholm",
		Summary:      "Två bilar.",
		URL:          "/aktuellt/101",
		Type:         "Trafikolycka",
		LocationName: "Stockholm",
		LocationGPS:  "59.33,18.07",
		Raw:          []byte(`{"id":101}`),
		Fingerprint:  "deadbeef",
		FetchedAt:    at,
		UpdatedAt:    at,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGUpdateEventMissing(t *testing.T) {
	st, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE events SET`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), int64(404)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := st.UpdateEvent(context.Background(), &model.Event{ID: 404})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGCountEventsFilter(t *testing.T) {
	st, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM events WHERE 1=1 AND location_name = \$1 AND \(name LIKE \$2`).
		WithArgs("Stockholm", `%100\%%`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	count, err := st.CountEvents(context.Background(), Filter{
		Location: "Stockholm",
		Search:   "100%",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGLastFetchAttempt(t *testing.T) {
	st, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT (.+) FROM fetch_log ORDER BY fetched_at DESC LIMIT 1`).
		WillReturnError(pgx.ErrNoRows)

	got, err := st.LastFetchAttempt(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGDeleteFetchAttemptsBefore(t *testing.T) {
	st, mock := newMockPostgresStore(t)
	cutoff := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`DELETE FROM fetch_log WHERE fetched_at < \$1`).
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	n, err := st.DeleteFetchAttemptsBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
