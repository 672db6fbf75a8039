package ingest

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/sambandhq/samband/internal/model"
)

// FeedSource is the slice of the feed client the pipeline needs.
type FeedSource interface {
	Fetch(ctx context.Context) ([]model.RawEvent, error)
	FetchDay(ctx context.Context, day time.Time) ([]model.RawEvent, error)
}

// BackfillOptions configures historical catch-up.
type BackfillOptions struct {
	// HighWater stops the day walk once this many distinct events have
	// been accumulated.
	HighWater int

	// MaxDays bounds the backward day walk regardless of yield.
	MaxDays int

	// DayDelay is inserted before each day's query to respect the
	// provider's load expectations.
	DayDelay time.Duration
}

// Backfiller bootstraps a sparse store by walking backward day by day.
// Individual day failures are swallowed so one bad day cannot stall the
// catch-up; total latency is bounded by MaxDays.
type Backfiller struct {
	feed  FeedSource
	opts  BackfillOptions
	clock clockwork.Clock
}

// NewBackfiller creates a Backfiller over the given feed source.
func NewBackfiller(feed FeedSource, opts BackfillOptions, clock clockwork.Clock) *Backfiller {
	if opts.HighWater <= 0 {
		opts.HighWater = 500
	}
	if opts.MaxDays <= 0 {
		opts.MaxDays = 30
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Backfiller{feed: feed, opts: opts, clock: clock}
}

// Run fetches the default listing, then day-filtered listings walking
// backward from today, merging by event ID. It returns the deduplicated
// collection; the caller applies it exactly like a normal fetch.
func (b *Backfiller) Run(ctx context.Context) ([]model.RawEvent, error) {
	seen := make(map[int64]struct{})
	var merged []model.RawEvent
	add := func(events []model.RawEvent) {
		for _, ev := range events {
			if _, dup := seen[ev.ID]; dup {
				continue
			}
			seen[ev.ID] = struct{}{}
			merged = append(merged, ev)
		}
	}

	// The unfiltered listing first; its failure does not abort backfill.
	events, err := b.feed.Fetch(ctx)
	if err != nil {
		zap.L().Warn("backfill: initial fetch failed, continuing with day walk", zap.Error(err))
	} else {
		add(events)
	}

	today := b.clock.Now()
	days := 0
	for i := 0; i < b.opts.MaxDays && len(merged) < b.opts.HighWater; i++ {
		if ctx.Err() != nil {
			break
		}
		if b.opts.DayDelay > 0 {
			select {
			case <-ctx.Done():
				return merged, nil
			case <-b.clock.After(b.opts.DayDelay):
			}
		}

		day := today.AddDate(0, 0, -i)
		dayEvents, err := b.feed.FetchDay(ctx, day)
		if err != nil {
			// Skip, never retry: backfill latency stays bounded.
			zap.L().Warn("backfill: day query failed, skipping",
				zap.String("day", day.Format("2006-01-02")),
				zap.Error(err),
			)
			continue
		}
		add(dayEvents)
		days++
	}

	zap.L().Info("backfill complete",
		zap.Int("events", len(merged)),
		zap.Int("days_fetched", days),
	)
	return merged, nil
}
