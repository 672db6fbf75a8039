// Package timeparse recovers the real-world occurrence time of a police
// event from its loosely structured text fields.
//
// The provider's machine timestamp is the publication time, not the event
// time: a burglary reported the next morning carries the morning timestamp
// while the name reads "28 mars 23.10, Inbrott, ...". Each heuristic here
// is an independent pure matcher; they are tried in a fixed priority order
// and the first hit wins.
package timeparse

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Input carries the text fields a matcher may draw on, plus the raw
// provider timestamp that anchors every recovered date.
type Input struct {
	Name    string
	Summary string
	Type    string
	Raw     string
}

// Matcher is one time-recovery heuristic. Matchers are pure: any internal
// parse failure returns ok == false and the caller falls through.
type Matcher func(in Input) (time.Time, bool)

// Matchers returns the recovery heuristics in priority order.
func Matchers() []Matcher {
	return []Matcher{
		MatchAggregateReport,
		MatchLeadingDayMonth,
		MatchClockPrefix,
	}
}

// Recover runs the matchers in order and returns the first hit. When no
// matcher applies the caller should fall back to ParseRaw.
func Recover(in Input) (time.Time, bool) {
	for _, m := range Matchers() {
		if t, ok := m(in); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// NormalizeRaw fixes the raw timestamp's syntax without touching the
// time of day: the date/time separator becomes "T" and the space before a
// trailing UTC offset is removed, yielding RFC 3339.
//
//	"2024-03-05 14:32:10 +01:00" -> "2024-03-05T14:32:10+01:00"
func NormalizeRaw(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.Replace(s, " ", "T", 1)
	if i := strings.LastIndexAny(s, "+-"); i > 10 && i > 0 && s[i-1] == ' ' {
		s = s[:i-1] + s[i:]
	}
	return s
}

// ParseRaw parses the syntactically normalized raw timestamp.
func ParseRaw(raw string) (time.Time, bool) {
	s := NormalizeRaw(raw)
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

var swedishMonths = map[string]time.Month{
	"januari": time.January, "februari": time.February, "mars": time.March,
	"april": time.April, "maj": time.May, "juni": time.June,
	"juli": time.July, "augusti": time.August, "september": time.September,
	"oktober": time.October, "november": time.November, "december": time.December,
}

var (
	hourRangeRe   = regexp.MustCompile(`(?i)\b(?:kl\.?\s*|klockan\s+)?(\d{1,2})(?:[:.](\d{2}))?\s*[\x{2013}-]\s*\d{1,2}\b`)
	dayMonthRe    = regexp.MustCompile(`(?i)^\s*(\d{1,2})\s+([a-zåäö]+)\.?\s+(\d{1,2})[.:](\d{2})`)
	clockPrefixRe = regexp.MustCompile(`(?i)^\s*(?:kl\.?\s*|klockan\s+)(\d{1,2})[.:](\d{2})`)
)

// MatchAggregateReport handles aggregate/summary reports ("Sammanfattning
// natt" and friends). An explicit hour range in the name pins the start
// hour; otherwise a period keyword maps to a canonical hour.
func MatchAggregateReport(in Input) (time.Time, bool) {
	marker := strings.ToLower(in.Type + " " + in.Name)
	if !strings.Contains(marker, "sammanfattning") {
		return time.Time{}, false
	}
	base, ok := ParseRaw(in.Raw)
	if !ok {
		return time.Time{}, false
	}

	if m := hourRangeRe.FindStringSubmatch(in.Name); m != nil {
		hour, err := strconv.Atoi(m[1])
		if err != nil || hour > 23 {
			return time.Time{}, false
		}
		minute := 0
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		return atTime(base, hour, minute), true
	}

	// Ordered so "kväll och natt" resolves to the start of the night.
	for _, kw := range []struct {
		word string
		hour int
	}{
		{"natt", 0}, {"morgon", 0}, {"kväll", 18}, {"dag", 6},
	} {
		if strings.Contains(marker, kw.word) {
			return atTime(base, kw.hour, 0), true
		}
	}
	return time.Time{}, false
}

// MatchLeadingDayMonth parses a leading "D <month> HH.MM" from the name,
// e.g. "28 mars 23.10, Inbrott, Stad". The named day can only belong to
// the current or the previous month: a day on or after the raw
// timestamp's day must be last month's.
func MatchLeadingDayMonth(in Input) (time.Time, bool) {
	m := dayMonthRe.FindStringSubmatch(in.Name)
	if m == nil {
		return time.Time{}, false
	}
	if _, ok := swedishMonths[strings.ToLower(m[2])]; !ok {
		return time.Time{}, false
	}
	base, ok := ParseRaw(in.Raw)
	if !ok {
		return time.Time{}, false
	}

	day, _ := strconv.Atoi(m[1])
	hour, _ := strconv.Atoi(m[3])
	minute, _ := strconv.Atoi(m[4])
	if day < 1 || day > 31 || hour > 23 || minute > 59 {
		return time.Time{}, false
	}

	month := base.Month()
	year := base.Year()
	if day >= base.Day() {
		month--
		if month < time.January {
			month = time.December
			year--
		}
	}
	return time.Date(year, month, day, hour, minute, 0, 0, base.Location()), true
}

// MatchClockPrefix parses a "kl. HH:MM" / "klockan HH:MM" prefix from the
// summary. A parsed hour more than two hours past the raw timestamp's hour
// means a late-night event reported the next morning, so the date rolls
// back one day.
func MatchClockPrefix(in Input) (time.Time, bool) {
	m := clockPrefixRe.FindStringSubmatch(in.Summary)
	if m == nil {
		return time.Time{}, false
	}
	base, ok := ParseRaw(in.Raw)
	if !ok {
		return time.Time{}, false
	}

	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	if hour > 23 || minute > 59 {
		return time.Time{}, false
	}

	if hour > base.Hour()+2 {
		base = base.AddDate(0, 0, -1)
	}
	return atTime(base, hour, minute), true
}

func atTime(base time.Time, hour, minute int) time.Time {
	return time.Date(base.Year(), base.Month(), base.Day(), hour, minute, 0, 0, base.Location())
}
