package model

import "time"

// FetchAttempt records the outcome of one refresh cycle. Rows are
// append-only and ordered by FetchedAt; the refresh scheduler reads the
// most recent row to decide staleness.
type FetchAttempt struct {
	ID            string    `json:"id"`
	FetchedAt     time.Time `json:"fetched_at"`
	EventsFetched int       `json:"events_fetched"`
	EventsNew     int       `json:"events_new"`
	Success       bool      `json:"success"`
	ErrorMessage  string    `json:"error_message,omitempty"`
}

// BackupEntry records one database backup run.
type BackupEntry struct {
	ID           string    `json:"id"`
	BackupAt     time.Time `json:"backup_at"`
	Filename     string    `json:"filename"`
	SizeBytes    int64     `json:"size_bytes"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// DatabaseStats is a coarse health summary of the store, served by the
// operational endpoint.
type DatabaseStats struct {
	TotalEvents     int        `json:"total_events"`
	UniqueLocations int        `json:"unique_locations"`
	OldestEvent     *time.Time `json:"oldest_event,omitempty"`
	NewestEvent     *time.Time `json:"newest_event,omitempty"`
	LastFetchAt     *time.Time `json:"last_fetch_at,omitempty"`
	LastFetchNew    int        `json:"last_fetch_new"`
	LastBackupAt    *time.Time `json:"last_backup_at,omitempty"`
	LastBackupFile  string     `json:"last_backup_file,omitempty"`
}

// NameCount is a categorical breakdown entry (location or type).
type NameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}
