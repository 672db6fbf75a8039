package ops

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
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

func TestCategorize(t *testing.T) {
	tests := []struct {
		message string
		want    string
	}{
		{"", CategoryUnknown},
		{"   ", CategoryUnknown},
		{"feed: request: context deadline exceeded", CategoryTimeout},
		{"dial tcp: i/o timeout", CategoryTimeout},
		{"dial tcp 127.0.0.1:443: connect: connection refused", CategoryConnRefused},
		{"lookup polisen.se: no such host", CategoryDNS},
		{"feed: http 429 from https://polisen.se/api/events", CategoryRateLimited},
		{"feed: http 404 from https://polisen.se/api/events", CategoryHTTP404},
		{"feed: http 403 from https://polisen.se/api/events", CategoryHTTP403},
		{"feed: http 503 from https://polisen.se/api/events", CategoryHTTP5xx},
		{"feed: http 500 from https://polisen.se/api/events", CategoryHTTP5xx},
		{"read tcp: connection reset by peer", CategoryNetwork},
		{"unexpected EOF", CategoryNetwork},
		{"feed: decode listing: invalid character '<'", CategoryOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Categorize(tt.message), "message %q", tt.message)
	}
}

func TestReportEmptyLog(t *testing.T) {
	st := newTestStore(t)
	rep := NewReporter(st, 5*time.Minute, clockwork.NewRealClock())

	report, err := rep.Report(context.Background(), false)
	require.NoError(t, err)
	assert.Zero(t, report.WindowAttempts)
	assert.Zero(t, report.SuccessRate)
	assert.Nil(t, report.LastAttemptAt)
}

func TestReportRatesAndCategories(t *testing.T) {
	st := newTestStore(t)
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)
	rep := NewReporter(st, time.Hour, clock)
	ctx := context.Background()

	// Three successes and one timeout over the last four hours.
	for i := 0; i < 4; i++ {
		attempt := &model.FetchAttempt{
			FetchedAt: now.Add(-time.Duration(3-i) * time.Hour),
			Success:   i != 1,
		}
		if !attempt.Success {
			attempt.ErrorMessage = "feed: request: context deadline exceeded"
		}
		require.NoError(t, st.InsertFetchAttempt(ctx, attempt))
	}

	report, err := rep.Report(ctx, true)
	require.NoError(t, err)

	assert.Equal(t, 4, report.WindowAttempts)
	assert.Equal(t, 3, report.SuccessCount)
	assert.Equal(t, 1, report.FailureCount)
	assert.InDelta(t, 75.0, report.SuccessRate, 0.01)
	assert.InDelta(t, 3600.0, report.AvgIntervalSeconds, 0.01)
	assert.Equal(t, map[string]int{CategoryTimeout: 1}, report.ErrorCategories)
	require.NotNil(t, report.LastAttemptAt)
	assert.True(t, report.LastAttemptAt.Equal(now))
	require.NotNil(t, report.LastSuccessAt)
	assert.Len(t, report.Attempts, 4)

	// 3 successes in 24h against 24 expected with a 1h interval.
	assert.InDelta(t, 100.0*3.0/24.0, report.UptimeScore, 0.01)
}

func TestReportUptimeCapped(t *testing.T) {
	st := newTestStore(t)
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)
	// A 12-hour interval expects only 2 attempts per day; more than that
	// must not push the score past 100.
	rep := NewReporter(st, 12*time.Hour, clock)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		require.NoError(t, st.InsertFetchAttempt(ctx, &model.FetchAttempt{
			FetchedAt: now.Add(-time.Duration(i) * time.Hour),
			Success:   true,
		}))
	}

	report, err := rep.Report(ctx, false)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, report.UptimeScore, 0.01)
}

func TestMetricsObserveRefresh(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveRefresh(true, 5, 2, 1.5)
	m.ObserveRefresh(false, 0, 0, 0.2)
	m.SetStoredEvents(120)

	assert.InDelta(t, 1.0, testutil.ToFloat64(m.FetchAttempts.WithLabelValues("success")), 0.001)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.FetchAttempts.WithLabelValues("failure")), 0.001)
	assert.InDelta(t, 5.0, testutil.ToFloat64(m.EventsNew), 0.001)
	assert.InDelta(t, 2.0, testutil.ToFloat64(m.EventsUpdated), 0.001)
	assert.InDelta(t, 120.0, testutil.ToFloat64(m.StoredEvents), 0.001)
}
