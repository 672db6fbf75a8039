package model

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	geom "github.com/twpayne/go-geom"
)

// Event is one normalized police event, keyed by the provider-assigned ID.
// The raw provider payload is retained verbatim in Raw; the typed columns
// are a projection used for querying.
type Event struct {
	ID           int64           `json:"id"`
	Datetime     string          `json:"datetime"`
	EventTime    time.Time       `json:"event_time"`
	Name         string          `json:"name"`
	Summary      string          `json:"summary"`
	URL          string          `json:"url"`
	Type         string          `json:"type"`
	LocationName string          `json:"location_name"`
	LocationGPS  string          `json:"location_gps,omitempty"`
	Raw          json.RawMessage `json:"raw,omitempty"`
	Fingerprint  string          `json:"fingerprint"`
	FetchedAt    time.Time       `json:"fetched_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// WasUpdated reports whether the event's text content has changed since it
// was first seen.
func (e *Event) WasUpdated() bool {
	return !e.UpdatedAt.Equal(e.FetchedAt)
}

// GPSPoint parses the provider's "lat,lng" string into a point.
// Returns false when no usable coordinates are present.
func (e *Event) GPSPoint() (*geom.Point, bool) {
	return ParseGPS(e.LocationGPS)
}

// ParseGPS parses a "lat,lng" coordinate string. Coordinates are stored in
// XY order (longitude, latitude) per geom convention.
func ParseGPS(gps string) (*geom.Point, bool) {
	parts := strings.SplitN(strings.TrimSpace(gps), ",", 2)
	if len(parts) != 2 {
		return nil, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return nil, false
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return nil, false
	}
	if lat == 0 && lng == 0 {
		return nil, false
	}
	pt := geom.NewPointFlat(geom.XY, []float64{lng, lat})
	pt.SetSRID(4326)
	return pt, true
}

// RawLocation is the nested location object of the provider payload.
type RawLocation struct {
	Name string `json:"name"`
	GPS  string `json:"gps"`
}

// RawEvent is one element of the provider feed, exactly as received.
// Raw holds the original bytes for lossless round-trip.
type RawEvent struct {
	ID       int64       `json:"id"`
	Datetime string      `json:"datetime"`
	Name     string      `json:"name"`
	Summary  string      `json:"summary"`
	URL      string      `json:"url"`
	Type     string      `json:"type"`
	Location RawLocation `json:"location"`

	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps a verbatim copy of the payload alongside the typed fields.
func (r *RawEvent) UnmarshalJSON(data []byte) error {
	type alias RawEvent
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*r = RawEvent(a)
	r.Raw = append(json.RawMessage(nil), data...)
	return nil
}
