// Package ingest applies fetched events to the store: idempotent upserts,
// staleness-gated refresh cycles, and historical backfill.
package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sambandhq/samband/internal/fingerprint"
	"github.com/sambandhq/samband/internal/model"
	"github.com/sambandhq/samband/internal/store"
	"github.com/sambandhq/samband/internal/timeparse"
)

// Outcome classifies the effect of applying one fetched event.
type Outcome int

const (
	OutcomeUnchanged Outcome = iota
	OutcomeNew
	OutcomeUpdated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNew:
		return "new"
	case OutcomeUpdated:
		return "updated"
	default:
		return "unchanged"
	}
}

// Report tallies the outcomes of one apply pass.
type Report struct {
	Fetched   int `json:"fetched"`
	New       int `json:"new"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

// Upserter applies raw feed events to the store. Applying the same payload
// twice is always a no-op, which is what makes concurrent refresh races
// benign.
type Upserter struct {
	store store.Store
	clock clockwork.Clock
}

// NewUpserter creates an Upserter writing to the given store.
func NewUpserter(st store.Store, clock clockwork.Clock) *Upserter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Upserter{store: st, clock: clock}
}

// Apply inserts or updates one event. Missing payload fields are treated
// as empty text, never as errors; only storage failures propagate.
func (u *Upserter) Apply(ctx context.Context, raw model.RawEvent) (Outcome, error) {
	existing, err := u.store.GetEvent(ctx, raw.ID)
	if err != nil {
		return OutcomeUnchanged, err
	}

	fp := fingerprint.Compute(raw.Name, raw.Summary, raw.Type)
	now := u.clock.Now().UTC()

	if existing == nil {
		ev := &model.Event{
			ID:           raw.ID,
			Datetime:     raw.Datetime,
			EventTime:    u.recoverEventTime(raw),
			Name:         raw.Name,
			Summary:      raw.Summary,
			URL:          raw.URL,
			Type:         raw.Type,
			LocationName: raw.Location.Name,
			LocationGPS:  raw.Location.GPS,
			Raw:          rawPayload(raw),
			Fingerprint:  fp,
			FetchedAt:    now,
			UpdatedAt:    now,
		}
		if err := u.store.InsertEvent(ctx, ev); err != nil {
			return OutcomeUnchanged, err
		}
		return OutcomeNew, nil
	}

	if existing.Fingerprint == fp {
		return OutcomeUnchanged, nil
	}

	// Content changed: overwrite the mutable fields. Event time and
	// first-seen are fixed at first ingestion and never recomputed.
	existing.Datetime = raw.Datetime
	existing.Name = raw.Name
	existing.Summary = raw.Summary
	existing.URL = raw.URL
	existing.Type = raw.Type
	existing.LocationName = raw.Location.Name
	existing.LocationGPS = raw.Location.GPS
	existing.Raw = rawPayload(raw)
	existing.Fingerprint = fp
	existing.UpdatedAt = now

	if err := u.store.UpdateEvent(ctx, existing); err != nil {
		return OutcomeUnchanged, err
	}
	return OutcomeUpdated, nil
}

// ApplyAll applies a batch entry by entry. On storage failure the partial
// tallies accumulated so far are preserved in the returned report.
func (u *Upserter) ApplyAll(ctx context.Context, events []model.RawEvent) (Report, error) {
	report := Report{Fetched: len(events)}
	for _, raw := range events {
		outcome, err := u.Apply(ctx, raw)
		if err != nil {
			return report, eris.Wrapf(err, "ingest: apply event %d", raw.ID)
		}
		switch outcome {
		case OutcomeNew:
			report.New++
		case OutcomeUpdated:
			report.Updated++
		default:
			report.Unchanged++
		}
	}
	zap.L().Info("applied events",
		zap.Int("fetched", report.Fetched),
		zap.Int("new", report.New),
		zap.Int("updated", report.Updated),
		zap.Int("unchanged", report.Unchanged),
	)
	return report, nil
}

// recoverEventTime runs the time heuristics, falling back to the raw
// timestamp and finally to the fetch time.
func (u *Upserter) recoverEventTime(raw model.RawEvent) time.Time {
	in := timeparse.Input{
		Name:    raw.Name,
		Summary: raw.Summary,
		Type:    raw.Type,
		Raw:     raw.Datetime,
	}
	if t, ok := timeparse.Recover(in); ok {
		return t
	}
	if t, ok := timeparse.ParseRaw(raw.Datetime); ok {
		return t
	}
	return u.clock.Now().UTC()
}

// rawPayload returns the verbatim provider bytes, reconstructing them from
// the typed fields if the event was built in code rather than decoded.
func rawPayload(raw model.RawEvent) json.RawMessage {
	if len(raw.Raw) > 0 {
		return raw.Raw
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}
