// Package ops derives operational health metrics from the fetch log and
// exposes Prometheus instrumentation for the ingestion pipeline.
package ops

import (
	"context"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"

	"github.com/sambandhq/samband/internal/model"
	"github.com/sambandhq/samband/internal/store"
)

// DefaultWindow is how many recent fetch attempts feed the health report.
const DefaultWindow = 50

// Error categories assigned by message substring. CategoryUnknown covers
// failed attempts whose message was empty or lost.
const (
	CategoryTimeout     = "timeout"
	CategoryNetwork     = "network"
	CategoryConnRefused = "connection-refused"
	CategoryDNS         = "dns"
	CategoryHTTP5xx     = "http-5xx"
	CategoryHTTP404     = "http-404"
	CategoryHTTP403     = "http-403"
	CategoryRateLimited = "rate-limited"
	CategoryOther       = "other"
	CategoryUnknown     = "unknown"
)

// Report summarizes recent fetch health.
type Report struct {
	WindowAttempts     int                  `json:"window_attempts"`
	SuccessCount       int                  `json:"success_count"`
	FailureCount       int                  `json:"failure_count"`
	SuccessRate        float64              `json:"success_rate_pct"`
	AvgIntervalSeconds float64              `json:"avg_interval_seconds"`
	UptimeScore        float64              `json:"uptime_score_pct"`
	ErrorCategories    map[string]int       `json:"error_categories"`
	LastAttemptAt      *time.Time           `json:"last_attempt_at,omitempty"`
	LastSuccessAt      *time.Time           `json:"last_success_at,omitempty"`
	Attempts           []model.FetchAttempt `json:"attempts,omitempty"`
}

// Reporter computes fetch-log health reports.
type Reporter struct {
	store store.Store
	clock clockwork.Clock

	// cacheInterval is the configured refresh spacing; it sets the
	// expected attempt rate for the uptime score.
	cacheInterval time.Duration
	window        int
}

// NewReporter creates a Reporter. cacheInterval must match the refresher's
// configured interval for the uptime score to be meaningful.
func NewReporter(st store.Store, cacheInterval time.Duration, clock clockwork.Clock) *Reporter {
	if cacheInterval <= 0 {
		cacheInterval = 5 * time.Minute
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Reporter{store: st, clock: clock, cacheInterval: cacheInterval, window: DefaultWindow}
}

// Report computes health over the most recent attempts. includeRows embeds
// the raw attempt rows for the fetch-log endpoint.
func (r *Reporter) Report(ctx context.Context, includeRows bool) (*Report, error) {
	attempts, err := r.store.ListFetchAttempts(ctx, r.window)
	if err != nil {
		return nil, eris.Wrap(err, "ops: list fetch attempts")
	}

	report := &Report{
		WindowAttempts:  len(attempts),
		ErrorCategories: make(map[string]int),
	}
	if includeRows {
		report.Attempts = attempts
	}
	if len(attempts) == 0 {
		return report, nil
	}

	// Attempts arrive newest first.
	last := attempts[0].FetchedAt
	report.LastAttemptAt = &last

	now := r.clock.Now().UTC()
	dayAgo := now.Add(-24 * time.Hour)
	var successLast24h int

	for i := range attempts {
		a := &attempts[i]
		if a.Success {
			report.SuccessCount++
			if report.LastSuccessAt == nil {
				t := a.FetchedAt
				report.LastSuccessAt = &t
			}
			if !a.FetchedAt.Before(dayAgo) {
				successLast24h++
			}
		} else {
			report.FailureCount++
			report.ErrorCategories[Categorize(a.ErrorMessage)]++
		}
	}

	report.SuccessRate = 100 * float64(report.SuccessCount) / float64(len(attempts))

	if len(attempts) > 1 {
		span := attempts[0].FetchedAt.Sub(attempts[len(attempts)-1].FetchedAt)
		report.AvgIntervalSeconds = span.Seconds() / float64(len(attempts)-1)
	}

	expected := float64(24*time.Hour) / float64(r.cacheInterval)
	if expected > 0 {
		report.UptimeScore = 100 * float64(successLast24h) / expected
		if report.UptimeScore > 100 {
			report.UptimeScore = 100
		}
	}

	return report, nil
}

// Categorize maps a stored error message to a coarse category. Matching is
// ordered: the first substring hit wins.
func Categorize(message string) string {
	if strings.TrimSpace(message) == "" {
		return CategoryUnknown
	}
	msg := strings.ToLower(message)

	switch {
	case contains(msg, "timeout", "timed out", "deadline exceeded"):
		return CategoryTimeout
	case contains(msg, "connection refused"):
		return CategoryConnRefused
	case contains(msg, "no such host", "dns"):
		return CategoryDNS
	case contains(msg, "429", "rate limit", "too many requests"):
		return CategoryRateLimited
	case contains(msg, "404", "not found"):
		return CategoryHTTP404
	case contains(msg, "403", "forbidden"):
		return CategoryHTTP403
	case contains(msg, "500", "502", "503", "504", "bad gateway", "service unavailable", "internal server error"):
		return CategoryHTTP5xx
	case contains(msg, "connection reset", "broken pipe", "eof", "network is unreachable", "no route to host"):
		return CategoryNetwork
	}
	return CategoryOther
}

func contains(msg string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(msg, n) {
			return true
		}
	}
	return false
}
