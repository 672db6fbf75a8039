package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string, attempts int) *Client {
	return NewClient(Options{
		Endpoint:    url,
		Timeout:     2 * time.Second,
		MaxAttempts: attempts,
		RetryDelay:  10 * time.Millisecond,
	})
}

const listingBody = `[
	{"id": 101, "datetime": "2024-03-05 14:32:10 +01:00", "name": "Trafikolycka, Stockholm",
	 "summary": "Två bilar i kollision.", "url": "/aktuellt/101", "type": "Trafikolycka",
	 "location": {"name": "Stockholm", "gps": "59.33,18.07"}},
	{"id": 102, "datetime": "2024-03-05 15:00:00 +01:00", "name": "Inbrott, Göteborg",
	 "summary": "En man greps.", "url": "/aktuellt/102", "type": "Inbrott",
	 "location": {"name": "Göteborg", "gps": "57.71,11.97"}}
]`

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(listingBody)) //nolint:errcheck
	}))
	defer srv.Close()

	events, err := newTestClient(srv.URL, 1).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(101), events[0].ID)
	assert.Equal(t, "Stockholm", events[0].Location.Name)
	assert.NotEmpty(t, events[0].Raw)
}

func TestFetchDayAddsFilter(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte("[]")) //nolint:errcheck
	}))
	defer srv.Close()

	day := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	events, err := newTestClient(srv.URL, 1).FetchDay(context.Background(), day)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, "DateTime=2024-03-05", gotQuery)
}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(listingBody)) //nolint:errcheck
	}))
	defer srv.Close()

	events, err := newTestClient(srv.URL, 3).Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 3).Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all attempts failed")
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchRejectsNonArrayBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": "maintenance"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 1).Fetch(context.Background())
	require.Error(t, err)
}

func TestFetchHonorsContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(srv.URL, 5).Fetch(ctx)
	require.Error(t, err)
}
