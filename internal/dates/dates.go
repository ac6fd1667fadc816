// Package dates holds the venue-calendar conventions shared across the
// booking core: YYYY-MM-DD date strings in the venue's local zone and
// lowercase weekday tokens.
package dates

import (
	"fmt"
	"strings"
	"time"
)

// ISO is the storage format for all calendar dates.
const ISO = "2006-01-02"

var weekdayTokens = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// NormDay lowercases and trims a day name. Returns "" for unknown days.
func NormDay(day string) string {
	d := strings.ToLower(strings.TrimSpace(day))
	if _, ok := weekdayTokens[d]; !ok {
		return ""
	}
	return d
}

// Weekday resolves a day token to a time.Weekday.
func Weekday(day string) (time.Weekday, error) {
	d := strings.ToLower(strings.TrimSpace(day))
	wd, ok := weekdayTokens[d]
	if !ok {
		return 0, fmt.Errorf("unknown day %q", day)
	}
	return wd, nil
}

// DayToken returns the lowercase token for a weekday.
func DayToken(wd time.Weekday) string {
	return strings.ToLower(wd.String())
}

// Format renders t as a venue-calendar date string.
func Format(t time.Time) string {
	return t.Format(ISO)
}

// Parse reads a YYYY-MM-DD string in loc.
func Parse(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(ISO, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad date %q: %w", s, err)
	}
	return t, nil
}

// NextOccurrence returns the next calendar date on or after "from" that
// falls on the given day. When "from" itself falls on that day the result
// is one week out: a swap requested on the training day itself cannot be
// staffed same-day, so "today" never counts as the next occurrence.
func NextOccurrence(day string, from time.Time) (string, error) {
	wd, err := Weekday(day)
	if err != nil {
		return "", err
	}
	daysUntil := (int(wd) - int(from.Weekday()) + 7) % 7
	if daysUntil == 0 {
		daysUntil = 7
	}
	return Format(from.AddDate(0, 0, daysUntil)), nil
}

// SplitList parses a comma-joined lowercase token list ("monday,friday").
func SplitList(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.ToLower(strings.TrimSpace(p)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// JoinList is the inverse of SplitList.
func JoinList(items []string) string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if v := strings.ToLower(strings.TrimSpace(it)); v != "" {
			out = append(out, v)
		}
	}
	return strings.Join(out, ",")
}

// ListContains reports whether the csv token list contains day
// (case-insensitive).
func ListContains(csv, day string) bool {
	day = strings.ToLower(strings.TrimSpace(day))
	for _, d := range SplitList(csv) {
		if d == day {
			return true
		}
	}
	return false
}
