// Package stats computes windowed analytics over stored events on demand.
// The aggregator is stateless and read-only; it is safe for unbounded
// concurrent readers.
package stats

import (
	"context"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"

	"github.com/sambandhq/samband/internal/model"
	"github.com/sambandhq/samband/internal/store"
)

// Period names a statistics window.
type Period string

const (
	Period6h     Period = "6h"
	Period12h    Period = "12h"
	Period24h    Period = "24h"
	Period48h    Period = "48h"
	Period7d     Period = "7d"
	Period30d    Period = "30d"
	PeriodAll    Period = "all"
	PeriodCustom Period = "custom"
)

// ParsePeriod validates a period name.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case Period6h, Period12h, Period24h, Period48h, Period7d, Period30d, PeriodAll, PeriodCustom:
		return Period(s), nil
	case "":
		return Period24h, nil
	}
	return "", eris.Errorf("stats: unknown period %q", s)
}

// span returns the window length for fixed periods; ok is false for
// all/custom.
func (p Period) span() (time.Duration, bool) {
	switch p {
	case Period6h:
		return 6 * time.Hour, true
	case Period12h:
		return 12 * time.Hour, true
	case Period24h:
		return 24 * time.Hour, true
	case Period48h:
		return 48 * time.Hour, true
	case Period7d:
		return 7 * 24 * time.Hour, true
	case Period30d:
		return 30 * 24 * time.Hour, true
	}
	return 0, false
}

// DateRange is an explicit custom window. To is end-of-day inclusive when
// built from a date-only string.
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Bucket is one slot of the chronological time series.
type Bucket struct {
	Start time.Time `json:"start"`
	Count int       `json:"count"`
}

// Report is the computed analytics for one window.
type Report struct {
	Period Period    `json:"period"`
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`

	Total     int     `json:"total"`
	Last24h   int     `json:"last_24h"`
	Last7d    int     `json:"last_7d"`
	Last30d   int     `json:"last_30d"`
	AvgPerDay float64 `json:"avg_per_day"`

	TopTypes     []model.NameCount `json:"top_types"`
	TopLocations []model.NameCount `json:"top_locations"`

	HourOfDay [24]int `json:"hour_of_day"`
	DayOfWeek [7]int  `json:"day_of_week"` // Monday-first

	GPSCoverage  float64 `json:"gps_coverage_pct"`
	UpdatedShare float64 `json:"updated_pct"`

	Series []Bucket `json:"series"`

	// Previous holds totals for the immediately preceding window of
	// equal length; computed for custom periods only.
	Previous *Report `json:"previous,omitempty"`
}

// Options configures aggregation.
type Options struct {
	// ExcludeTypePrefix filters out aggregate/summary pseudo-events so
	// they do not double-count the incidents they summarize.
	ExcludeTypePrefix string

	// TopN bounds the categorical breakdowns. Default 10.
	TopN int

	// Location is the timezone for hour/day histograms and calendar-day
	// buckets. Default Europe/Stockholm, falling back to UTC.
	Location *time.Location
}

// Aggregator computes reports from the store.
type Aggregator struct {
	store store.Store
	opts  Options
	clock clockwork.Clock
}

// New creates an Aggregator.
func New(st store.Store, opts Options, clock clockwork.Clock) *Aggregator {
	if opts.TopN <= 0 {
		opts.TopN = 10
	}
	if opts.Location == nil {
		loc, err := time.LoadLocation("Europe/Stockholm")
		if err != nil {
			loc = time.UTC
		}
		opts.Location = loc
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Aggregator{store: st, opts: opts, clock: clock}
}

// Compute builds the report for a period. custom is required for
// PeriodCustom and ignored otherwise.
func (a *Aggregator) Compute(ctx context.Context, period Period, custom *DateRange) (*Report, error) {
	now := a.clock.Now().UTC()

	from, to, err := a.window(ctx, period, custom, now)
	if err != nil {
		return nil, err
	}

	events, err := a.store.EventsBetween(ctx, from, to, a.opts.ExcludeTypePrefix)
	if err != nil {
		return nil, eris.Wrap(err, "stats: load window")
	}

	report := a.build(period, from, to, events)

	if err := a.rollingCounts(ctx, now, report); err != nil {
		return nil, err
	}

	if period == PeriodCustom {
		prevTo := from
		prevFrom := from.Add(-to.Sub(from))
		prevEvents, err := a.store.EventsBetween(ctx, prevFrom, prevTo, a.opts.ExcludeTypePrefix)
		if err != nil {
			return nil, eris.Wrap(err, "stats: load comparison window")
		}
		report.Previous = &Report{
			Period: PeriodCustom,
			From:   prevFrom,
			To:     prevTo,
			Total:  len(prevEvents),
		}
	}

	return report, nil
}

func (a *Aggregator) window(ctx context.Context, period Period, custom *DateRange, now time.Time) (time.Time, time.Time, error) {
	if span, ok := period.span(); ok {
		return now.Add(-span), now, nil
	}
	switch period {
	case PeriodAll:
		oldest, err := a.store.OldestEventTime(ctx)
		if err != nil {
			return time.Time{}, time.Time{}, eris.Wrap(err, "stats: oldest event")
		}
		if oldest == nil {
			return now, now, nil
		}
		return *oldest, now, nil
	case PeriodCustom:
		if custom == nil || custom.To.Before(custom.From) {
			return time.Time{}, time.Time{}, eris.New("stats: custom period requires a valid date range")
		}
		return custom.From, custom.To, nil
	}
	return time.Time{}, time.Time{}, eris.Errorf("stats: unknown period %q", period)
}

func (a *Aggregator) build(period Period, from, to time.Time, events []model.Event) *Report {
	report := &Report{
		Period: period,
		From:   from,
		To:     to,
		Total:  len(events),
	}

	spanDays := int(to.Sub(from).Hours() / 24)
	if spanDays < 1 {
		spanDays = 1
	}
	report.AvgPerDay = float64(report.Total) / float64(spanDays)

	typeCounts := make(map[string]int)
	locCounts := make(map[string]int)
	var withGPS, updated int

	for i := range events {
		ev := &events[i]
		typeCounts[ev.Type]++
		locCounts[ev.LocationName]++

		local := ev.EventTime.In(a.opts.Location)
		report.HourOfDay[local.Hour()]++
		report.DayOfWeek[(int(local.Weekday())+6)%7]++

		if _, ok := ev.GPSPoint(); ok {
			withGPS++
		}
		if ev.WasUpdated() {
			updated++
		}
	}

	report.TopTypes = topN(typeCounts, a.opts.TopN)
	report.TopLocations = topN(locCounts, a.opts.TopN)

	if report.Total > 0 {
		report.GPSCoverage = 100 * float64(withGPS) / float64(report.Total)
		report.UpdatedShare = 100 * float64(updated) / float64(report.Total)
	}

	report.Series = a.buildSeries(period, from, to, events)
	return report
}

// rollingCounts fills the 24h/7d/30d counts, which are always relative to
// now regardless of the requested period.
func (a *Aggregator) rollingCounts(ctx context.Context, now time.Time, report *Report) error {
	events, err := a.store.EventsBetween(ctx, now.Add(-30*24*time.Hour), now, a.opts.ExcludeTypePrefix)
	if err != nil {
		return eris.Wrap(err, "stats: load rolling window")
	}
	d1 := now.Add(-24 * time.Hour)
	d7 := now.Add(-7 * 24 * time.Hour)
	for i := range events {
		t := events[i].EventTime
		// Boundary events count: exactly now-24h is inside the 24h window.
		if !t.Before(d1) {
			report.Last24h++
		}
		if !t.Before(d7) {
			report.Last7d++
		}
		report.Last30d++
	}
	return nil
}

// buildSeries produces a fixed-length, zero-filled chronological series.
// Bucket granularity adapts to the period: quarter-hour slots for the
// shortest window, hourly for hour-scale windows, calendar days otherwise.
func (a *Aggregator) buildSeries(period Period, from, to time.Time, events []model.Event) []Bucket {
	var step time.Duration
	var n int

	switch period {
	case Period6h:
		step, n = 15*time.Minute, 24
	case Period12h:
		step, n = time.Hour, 12
	case Period24h:
		step, n = time.Hour, 24
	case Period48h:
		step, n = time.Hour, 48
	default:
		return a.buildDailySeries(from, to, events)
	}

	end := to.Truncate(step).Add(step)
	buckets := make([]Bucket, n)
	for i := range buckets {
		buckets[i].Start = end.Add(-time.Duration(n-i) * step)
	}
	for i := range events {
		idx := int(events[i].EventTime.Sub(buckets[0].Start) / step)
		if idx >= 0 && idx < n {
			buckets[idx].Count++
		}
	}
	return buckets
}

func (a *Aggregator) buildDailySeries(from, to time.Time, events []model.Event) []Bucket {
	loc := a.opts.Location
	n := int(to.Sub(from).Hours()/24) + 1
	if n > 90 {
		n = 90
	}
	if n < 1 {
		n = 1
	}

	endLocal := to.In(loc)
	endDay := time.Date(endLocal.Year(), endLocal.Month(), endLocal.Day(), 0, 0, 0, 0, loc)
	buckets := make([]Bucket, n)
	for i := range buckets {
		buckets[i].Start = endDay.AddDate(0, 0, -(n - 1 - i))
	}

	index := make(map[string]int, n)
	for i := range buckets {
		index[buckets[i].Start.Format("2006-01-02")] = i
	}
	for i := range events {
		key := events[i].EventTime.In(loc).Format("2006-01-02")
		if idx, ok := index[key]; ok {
			buckets[idx].Count++
		}
	}
	return buckets
}

func topN(counts map[string]int, n int) []model.NameCount {
	out := make([]model.NameCount, 0, len(counts))
	for name, count := range counts {
		out = append(out, model.NameCount{Name: name, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
