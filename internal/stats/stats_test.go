package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sambandhq/samband/internal/model"
	"github.com/sambandhq/samband/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })
	return st
}

func seedEvent(t *testing.T, st store.Store, id int64, at time.Time, typ, location string) {
	t.Helper()
	require.NoError(t, st.InsertEvent(context.Background(), &model.Event{
		ID:           id,
		Datetime:     at.Format("2006-01-02 15:04:05 -07:00"),
		EventTime:    at,
		Name:         fmt.Sprintf("%s, %s", typ, location),
		Type:         typ,
		LocationName: location,
		LocationGPS:  "59.33,18.07",
		Raw:          json.RawMessage(fmt.Sprintf(`{"id":%d}`, id)),
		Fingerprint:  "deadbeef",
		FetchedAt:    at,
		UpdatedAt:    at,
	}))
}

func newTestAggregator(st store.Store, now time.Time) *Aggregator {
	return New(st, Options{
		ExcludeTypePrefix: "Sammanfattning",
		Location:          time.UTC,
	}, clockwork.NewFakeClockAt(now))
}

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod("7d")
	require.NoError(t, err)
	assert.Equal(t, Period7d, p)

	p, err = ParsePeriod("")
	require.NoError(t, err)
	assert.Equal(t, Period24h, p)

	_, err = ParsePeriod("fortnight")
	assert.Error(t, err)
}

func TestComputeWindowBoundary(t *testing.T) {
	st := newTestStore(t)
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	seedEvent(t, st, 1, now.Add(-24*time.Hour), "Trafikolycka", "Stockholm") // exactly on the boundary
	seedEvent(t, st, 2, now.Add(-24*time.Hour-time.Second), "Trafikolycka", "Stockholm")
	seedEvent(t, st, 3, now.Add(-time.Hour), "Inbrott", "Göteborg")

	report, err := newTestAggregator(st, now).Compute(context.Background(), Period24h, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Total, "the event at exactly now-24h is inside the window")
	assert.Equal(t, 2, report.Last24h)
	assert.Equal(t, 3, report.Last7d)
	assert.Equal(t, 3, report.Last30d)
}

func TestComputeExcludesAggregateReports(t *testing.T) {
	st := newTestStore(t)
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	seedEvent(t, st, 1, now.Add(-time.Hour), "Trafikolycka", "Stockholm")
	seedEvent(t, st, 2, now.Add(-2*time.Hour), "Sammanfattning natt", "Stockholm")

	report, err := newTestAggregator(st, now).Compute(context.Background(), Period24h, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Total)
	require.Len(t, report.TopTypes, 1)
	assert.Equal(t, "Trafikolycka", report.TopTypes[0].Name)
}

func TestComputeBreakdownsAndHistograms(t *testing.T) {
	st := newTestStore(t)
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC) // a Sunday

	// Saturday 23:00 and Sunday 09:00/09:30.
	seedEvent(t, st, 1, time.Date(2024, 3, 9, 23, 0, 0, 0, time.UTC), "Inbrott", "Göteborg")
	seedEvent(t, st, 2, time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC), "Trafikolycka", "Stockholm")
	seedEvent(t, st, 3, time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC), "Trafikolycka", "Stockholm")

	report, err := newTestAggregator(st, now).Compute(context.Background(), Period48h, nil)
	require.NoError(t, err)

	require.Len(t, report.TopTypes, 2)
	assert.Equal(t, model.NameCount{Name: "Trafikolycka", Count: 2}, report.TopTypes[0])
	require.Len(t, report.TopLocations, 2)
	assert.Equal(t, "Stockholm", report.TopLocations[0].Name)

	assert.Equal(t, 2, report.HourOfDay[9])
	assert.Equal(t, 1, report.HourOfDay[23])

	// Monday-first: Saturday is index 5, Sunday index 6.
	assert.Equal(t, 1, report.DayOfWeek[5])
	assert.Equal(t, 2, report.DayOfWeek[6])

	assert.InDelta(t, 100.0, report.GPSCoverage, 0.01)
	assert.InDelta(t, 0.0, report.UpdatedShare, 0.01)
}

func TestComputeSeriesZeroFilled(t *testing.T) {
	st := newTestStore(t)
	now := time.Date(2024, 3, 10, 12, 30, 0, 0, time.UTC)

	seedEvent(t, st, 1, now.Add(-90*time.Minute), "Inbrott", "Göteborg")
	seedEvent(t, st, 2, now.Add(-30*time.Minute), "Trafikolycka", "Stockholm")
	seedEvent(t, st, 3, now.Add(-29*time.Minute), "Trafikolycka", "Stockholm")

	report, err := newTestAggregator(st, now).Compute(context.Background(), Period24h, nil)
	require.NoError(t, err)

	require.Len(t, report.Series, 24, "hourly buckets, zero-filled")
	var total int
	for i := 1; i < len(report.Series); i++ {
		assert.True(t, report.Series[i].Start.After(report.Series[i-1].Start), "chronological")
		total += report.Series[i].Count
	}
	total += report.Series[0].Count
	assert.Equal(t, 3, total)
	// The two recent events share the final bucket.
	assert.Equal(t, 2, report.Series[23].Count)
}

func TestComputeSixHourSeries(t *testing.T) {
	st := newTestStore(t)
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	seedEvent(t, st, 1, now.Add(-10*time.Minute), "Inbrott", "Göteborg")

	report, err := newTestAggregator(st, now).Compute(context.Background(), Period6h, nil)
	require.NoError(t, err)
	assert.Len(t, report.Series, 24, "quarter-hour buckets")
}

func TestComputeDailySeriesLength(t *testing.T) {
	st := newTestStore(t)
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	// Inside the partial oldest calendar day of the 7d window.
	seedEvent(t, st, 1, time.Date(2024, 3, 3, 13, 0, 0, 0, time.UTC), "Inbrott", "Göteborg")
	seedEvent(t, st, 2, time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC), "Trafikolycka", "Stockholm")

	report, err := newTestAggregator(st, now).Compute(context.Background(), Period7d, nil)
	require.NoError(t, err)

	// One bucket per calendar day the window touches: span days + 1.
	require.Len(t, report.Series, 8)
	assert.True(t, report.Series[0].Start.Equal(time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)))
	assert.True(t, report.Series[7].Start.Equal(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 1, report.Series[0].Count)
	assert.Equal(t, 1, report.Series[7].Count)

	report, err = newTestAggregator(st, now).Compute(context.Background(), Period30d, nil)
	require.NoError(t, err)
	assert.Len(t, report.Series, 31)
}

func TestComputeAllPeriod(t *testing.T) {
	st := newTestStore(t)
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	seedEvent(t, st, 1, now.AddDate(0, 0, -40), "Inbrott", "Göteborg")
	seedEvent(t, st, 2, now.Add(-time.Hour), "Trafikolycka", "Stockholm")

	report, err := newTestAggregator(st, now).Compute(context.Background(), PeriodAll, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Last30d, "rolling counts stay relative to now")
	assert.InDelta(t, 2.0/40.0, report.AvgPerDay, 0.01)
}

func TestComputeAllPeriodEmptyStore(t *testing.T) {
	st := newTestStore(t)
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	report, err := newTestAggregator(st, now).Compute(context.Background(), PeriodAll, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Total)
}

func TestComputeCustomWithPrevious(t *testing.T) {
	st := newTestStore(t)
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	from := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)

	seedEvent(t, st, 1, from.Add(12*time.Hour), "Inbrott", "Göteborg")
	seedEvent(t, st, 2, from.Add(36*time.Hour), "Trafikolycka", "Stockholm")
	// In the preceding window of equal length.
	seedEvent(t, st, 3, from.Add(-24*time.Hour), "Trafikolycka", "Stockholm")

	report, err := newTestAggregator(st, now).Compute(context.Background(), PeriodCustom, &DateRange{From: from, To: to})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)
	require.NotNil(t, report.Previous)
	assert.Equal(t, 1, report.Previous.Total)
	assert.True(t, report.Previous.To.Equal(from))

	_, err = newTestAggregator(st, now).Compute(context.Background(), PeriodCustom, nil)
	assert.Error(t, err)
}
