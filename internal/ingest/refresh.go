package ingest

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sambandhq/samband/internal/model"
	"github.com/sambandhq/samband/internal/store"
)

// RefreshResult is the outcome of one refresh invocation. The refresh
// entry point never raises past its own boundary: callers always get a
// result value, never an error, for ordinary fetch failure.
type RefreshResult struct {
	Skipped       bool   `json:"skipped"`
	Success       bool   `json:"success"`
	Backfilled    bool   `json:"backfilled"`
	EventsFetched int    `json:"events_fetched"`
	EventsNew     int    `json:"events_new"`
	EventsUpdated int    `json:"events_updated"`
	Error         string `json:"error,omitempty"`
}

// RefreshObserver receives refresh outcomes for instrumentation.
type RefreshObserver interface {
	ObserveRefresh(success bool, newEvents, updatedEvents int, seconds float64)
	SetStoredEvents(n int)
}

// RefresherOptions configures refresh gating.
type RefresherOptions struct {
	// CacheInterval is the minimum spacing between fetch cycles.
	CacheInterval time.Duration

	// BackfillThreshold routes a due refresh through backfill while the
	// store holds fewer events than this.
	BackfillThreshold int

	// LogRetention prunes fetch-log rows older than this after each
	// cycle. Zero disables pruning.
	LogRetention time.Duration
}

// Refresher decides whether a fetch cycle is due and runs it. Concurrent
// callers racing past the staleness check share a single in-flight cycle
// via singleflight; the upsert path is idempotent either way.
type Refresher struct {
	store      store.Store
	feed       FeedSource
	upserter   *Upserter
	backfiller *Backfiller
	opts       RefresherOptions
	clock      clockwork.Clock
	metrics    RefreshObserver
	group      singleflight.Group
}

// NewRefresher wires the refresh scheduler.
func NewRefresher(st store.Store, feed FeedSource, up *Upserter, bf *Backfiller, opts RefresherOptions, clock clockwork.Clock) *Refresher {
	if opts.CacheInterval <= 0 {
		opts.CacheInterval = 5 * time.Minute
	}
	if opts.BackfillThreshold <= 0 {
		opts.BackfillThreshold = 100
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Refresher{
		store:      st,
		feed:       feed,
		upserter:   up,
		backfiller: bf,
		opts:       opts,
		clock:      clock,
	}
}

// SetMetrics attaches an observer for refresh cycles. Call before the
// first Refresh.
func (r *Refresher) SetMetrics(m RefreshObserver) {
	r.metrics = m
}

// Refresh runs one staleness-gated cycle. Exactly one fetch-log row is
// written per non-skipped invocation, carrying best-effort counts up to
// the point of any failure.
func (r *Refresher) Refresh(ctx context.Context) RefreshResult {
	v, _, _ := r.group.Do("refresh", func() (any, error) {
		return r.refresh(ctx), nil
	})
	return v.(RefreshResult)
}

func (r *Refresher) refresh(ctx context.Context) RefreshResult {
	last, err := r.store.LastFetchAttempt(ctx)
	if err != nil {
		zap.L().Error("refresh: read fetch log", zap.Error(err))
		return RefreshResult{Error: err.Error()}
	}
	if last != nil && r.clock.Since(last.FetchedAt) <= r.opts.CacheInterval {
		return RefreshResult{Skipped: true, Success: true}
	}

	start := r.clock.Now()
	result := r.runCycle(ctx)

	if r.metrics != nil {
		r.metrics.ObserveRefresh(result.Success, result.EventsNew, result.EventsUpdated, r.clock.Since(start).Seconds())
		if result.Success {
			if n, err := r.store.CountEvents(ctx, store.Filter{}); err == nil {
				r.metrics.SetStoredEvents(n)
			}
		}
	}

	attempt := &model.FetchAttempt{
		FetchedAt:     r.clock.Now().UTC(),
		EventsFetched: result.EventsFetched,
		EventsNew:     result.EventsNew,
		Success:       result.Success,
		ErrorMessage:  result.Error,
	}
	if err := r.store.InsertFetchAttempt(ctx, attempt); err != nil {
		zap.L().Error("refresh: log fetch attempt", zap.Error(err))
	}

	if r.opts.LogRetention > 0 {
		cutoff := r.clock.Now().Add(-r.opts.LogRetention)
		if n, err := r.store.DeleteFetchAttemptsBefore(ctx, cutoff); err != nil {
			zap.L().Warn("refresh: prune fetch log", zap.Error(err))
		} else if n > 0 {
			zap.L().Debug("pruned fetch log", zap.Int("rows", n))
		}
	}

	return result
}

func (r *Refresher) runCycle(ctx context.Context) RefreshResult {
	var result RefreshResult

	count, err := r.store.CountEvents(ctx, store.Filter{})
	if err != nil {
		result.Error = err.Error()
		return result
	}

	var events []model.RawEvent
	if count < r.opts.BackfillThreshold && r.backfiller != nil {
		zap.L().Info("store below backfill threshold, running backfill",
			zap.Int("stored", count),
			zap.Int("threshold", r.opts.BackfillThreshold),
		)
		result.Backfilled = true
		events, err = r.backfiller.Run(ctx)
	} else {
		events, err = r.feed.Fetch(ctx)
	}
	if err != nil {
		result.Error = err.Error()
		return result
	}

	report, err := r.upserter.ApplyAll(ctx, events)
	result.EventsFetched = report.Fetched
	result.EventsNew = report.New
	result.EventsUpdated = report.Updated
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Success = true
	return result
}
