package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/sambandhq/samband/internal/model"
	"github.com/sambandhq/samband/internal/stats"
	"github.com/sambandhq/samband/internal/store"
)

// apiEvent is the list-endpoint projection of a stored event.
type apiEvent struct {
	ID         int64       `json:"id"`
	Datetime   string      `json:"datetime"`
	EventTime  string      `json:"event_time"`
	Name       string      `json:"name"`
	Summary    string      `json:"summary"`
	URL        string      `json:"url"`
	Type       string      `json:"type"`
	Location   apiLocation `json:"location"`
	FetchedAt  string      `json:"fetched_at"`
	UpdatedAt  string      `json:"updated_at"`
	WasUpdated bool        `json:"was_updated"`
}

type apiLocation struct {
	Name string `json:"name"`
	GPS  string `json:"gps,omitempty"`
}

type eventsEnvelope struct {
	Events  []apiEvent `json:"events"`
	Total   int        `json:"total"`
	Limit   int        `json:"limit"`
	Offset  int        `json:"offset"`
	HasMore bool       `json:"has_more"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	f := filterFromQuery(r)

	total, err := s.store.CountEvents(r.Context(), f)
	if err != nil {
		serverError(w, "count events", err)
		return
	}
	events, err := s.store.ListEvents(r.Context(), f)
	if err != nil {
		serverError(w, "list events", err)
		return
	}

	out := eventsEnvelope{
		Events: make([]apiEvent, 0, len(events)),
		Total:  total,
		Limit:  f.PageLimit(),
		Offset: f.Offset,
	}
	for i := range events {
		ev := &events[i]
		out.Events = append(out.Events, apiEvent{
			ID:        ev.ID,
			Datetime:  ev.Datetime,
			EventTime: ev.EventTime.UTC().Format(time.RFC3339),
			Name:      ev.Name,
			Summary:   ev.Summary,
			URL:       ev.URL,
			Type:      ev.Type,
			Location: apiLocation{
				Name: ev.LocationName,
				GPS:  ev.LocationGPS,
			},
			FetchedAt:  ev.FetchedAt.UTC().Format(time.RFC3339),
			UpdatedAt:  ev.UpdatedAt.UTC().Format(time.RFC3339),
			WasUpdated: ev.WasUpdated(),
		})
	}
	out.HasMore = f.Offset+len(out.Events) < total
	writeJSON(w, http.StatusOK, out)
}

// handleListRawEvents serves the verbatim provider payloads, shaped like
// the upstream feed.
func (s *Server) handleListRawEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListEvents(r.Context(), filterFromQuery(r))
	if err != nil {
		serverError(w, "list events", err)
		return
	}
	out := make([]json.RawMessage, 0, len(events))
	for i := range events {
		if len(events[i].Raw) > 0 {
			out = append(out, events[i].Raw)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListLocations(w http.ResponseWriter, r *http.Request) {
	s.writeNameCounts(w, r, s.store.ListLocations)
}

func (s *Server) handleListTypes(w http.ResponseWriter, r *http.Request) {
	s.writeNameCounts(w, r, s.store.ListTypes)
}

func (s *Server) writeNameCounts(w http.ResponseWriter, r *http.Request, list func(context.Context) ([]model.NameCount, error)) {
	counts, err := list(r.Context())
	if err != nil {
		serverError(w, "list breakdown", err)
		return
	}
	if counts == nil {
		counts = []model.NameCount{}
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	period, err := stats.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var custom *stats.DateRange
	if period == stats.PeriodCustom {
		custom, err = dateRangeFromQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	report, err := s.stats.Compute(r.Context(), period, custom)
	if err != nil {
		serverError(w, "compute stats", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleDatabase(w http.ResponseWriter, r *http.Request) {
	dbStats, err := s.store.DatabaseStats(r.Context())
	if err != nil {
		serverError(w, "database stats", err)
		return
	}
	writeJSON(w, http.StatusOK, dbStats)
}

func (s *Server) handleFetchLog(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 50)
	if limit > 500 {
		limit = 500
	}

	report, err := s.reporter.Report(r.Context(), false)
	if err != nil {
		serverError(w, "fetch log metrics", err)
		return
	}
	attempts, err := s.store.ListFetchAttempts(r.Context(), limit)
	if err != nil {
		serverError(w, "list fetch attempts", err)
		return
	}
	if attempts == nil {
		attempts = []model.FetchAttempt{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"metrics":  report,
		"attempts": attempts,
	})
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	result := s.refresher.Refresh(r.Context())
	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, result)
}

func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	if s.backups == nil {
		writeError(w, http.StatusBadRequest, "backups require the sqlite backend")
		return
	}
	entry, err := s.backups.Create(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, entry)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func filterFromQuery(r *http.Request) store.Filter {
	q := r.URL.Query()
	return store.Filter{
		Location: q.Get("location"),
		Type:     q.Get("type"),
		Search:   q.Get("search"),
		Date:     q.Get("date"),
		From:     q.Get("from"),
		To:       q.Get("to"),
		Limit:    intQuery(r, "limit", 0),
		Offset:   intQuery(r, "offset", 0),
	}
}

func dateRangeFromQuery(r *http.Request) (*stats.DateRange, error) {
	q := r.URL.Query()
	from, err := time.Parse("2006-01-02", q.Get("from"))
	if err != nil {
		return nil, errBadDate("from")
	}
	to, err := time.Parse("2006-01-02", q.Get("to"))
	if err != nil {
		return nil, errBadDate("to")
	}
	// To is end-of-day inclusive.
	return &stats.DateRange{From: from, To: to.AddDate(0, 0, 1)}, nil
}

type badDateError string

func (e badDateError) Error() string {
	return "invalid or missing " + string(e) + " date, expected YYYY-MM-DD"
}

func errBadDate(field string) error {
	return badDateError(field)
}

func intQuery(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func serverError(w http.ResponseWriter, action string, err error) {
	zap.L().Error("server: "+action, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}
