// Package store owns event and fetch-log persistence. All other components
// read and mutate these entities only through the Store contract.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/sambandhq/samband/internal/model"
)

// Filter specifies criteria for listing and counting events.
type Filter struct {
	// Location and Type are exact matches.
	Location string `json:"location,omitempty"`
	Type     string `json:"type,omitempty"`

	// Search is a free-text substring match across name, summary, and
	// location name. LIKE wildcards in the term match literally.
	Search string `json:"search,omitempty"`

	// Date is a calendar prefix: YYYY, YYYY-MM, or YYYY-MM-DD.
	Date string `json:"date,omitempty"`

	// From/To bound the event time (YYYY-MM-DD); To is end-of-day inclusive.
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// DefaultLimit and MaxLimit bound event listing page sizes.
const (
	DefaultLimit = 500
	MaxLimit     = 1000
)

// PageLimit clamps the filter's limit into the allowed range.
func (f Filter) PageLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultLimit
	case f.Limit > MaxLimit:
		return MaxLimit
	default:
		return f.Limit
	}
}

// Store defines the persistence interface for the ingestion pipeline and
// query surface. Implementations must serialize concurrent writers
// themselves; the pipeline adds no lock of its own.
type Store interface {
	// Events
	GetEvent(ctx context.Context, id int64) (*model.Event, error)
	InsertEvent(ctx context.Context, ev *model.Event) error
	UpdateEvent(ctx context.Context, ev *model.Event) error
	CountEvents(ctx context.Context, f Filter) (int, error)
	ListEvents(ctx context.Context, f Filter) ([]model.Event, error)
	ListLocations(ctx context.Context) ([]model.NameCount, error)
	ListTypes(ctx context.Context) ([]model.NameCount, error)
	EventsBetween(ctx context.Context, from, to time.Time, excludeTypePrefix string) ([]model.Event, error)
	OldestEventTime(ctx context.Context) (*time.Time, error)

	// Fetch log
	InsertFetchAttempt(ctx context.Context, a *model.FetchAttempt) error
	LastFetchAttempt(ctx context.Context) (*model.FetchAttempt, error)
	ListFetchAttempts(ctx context.Context, limit int) ([]model.FetchAttempt, error)
	DeleteFetchAttemptsBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Backup log
	InsertBackupEntry(ctx context.Context, b *model.BackupEntry) error
	LastBackupEntry(ctx context.Context) (*model.BackupEntry, error)

	// Operational
	DatabaseStats(ctx context.Context) (*model.DatabaseStats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// EscapeLike escapes SQL LIKE wildcard characters so a search term matches
// only literally. Queries using the result must specify ESCAPE '\'.
func EscapeLike(term string) string {
	return likeEscaper.Replace(term)
}

// timeLayout is the stored text representation of timestamps (UTC RFC 3339).
// Lexicographic order equals chronological order, which the date-prefix
// filter relies on.
const timeLayout = "2006-01-02T15:04:05Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseStoredTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
