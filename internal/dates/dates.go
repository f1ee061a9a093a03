// Package dates normalizes the date formats the tender sites emit into
// time.Time values. Parsing never fails loudly: every unrecognized or
// partial input yields nil so a malformed listing degrades to a record
// without a date instead of failing the fetch.
package dates

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Norwegian month names, zero-based like the site markup uses them.
var norwegianMonths = map[string]time.Month{
	"januar":    time.January,
	"februar":   time.February,
	"mars":      time.March,
	"april":     time.April,
	"mai":       time.May,
	"juni":      time.June,
	"juli":      time.July,
	"august":    time.August,
	"september": time.September,
	"oktober":   time.October,
	"november":  time.November,
	"desember":  time.December,
}

var (
	dottedRe = regexp.MustCompile(`(\d{2})\.(\d{2})\.(\d{4})(?:\s+(\d{1,2}):(\d{2}))?`)
	yearRe   = regexp.MustCompile(`^\d{4}$`)
	dayRe    = regexp.MustCompile(`^\d{1,2}$`)
)

// isoLayouts covers the API date shapes: bare dates, full timestamps,
// and TED's date-with-offset forms like "2026-02-07Z" and
// "2026-03-10+01:00".
var isoLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02Z07:00",
	"2006-01-02Z0700",
	"2006-01-02",
}

// Parse converts a raw source date string into an instant, or nil when
// the string is not in any recognized format.
func Parse(raw string) *time.Time {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	if t := parseDotted(s); t != nil {
		return t
	}
	if t := parseISO(s); t != nil {
		return t
	}
	return parseNorwegian(s)
}

// parseDotted handles "DD.MM.YYYY" with an optional "HH:MM" tail.
func parseDotted(s string) *time.Time {
	m := dottedRe.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return nil
	}
	hour, minute := 0, 0
	if m[4] != "" {
		hour, _ = strconv.Atoi(m[4])
		minute, _ = strconv.Atoi(m[5])
		if hour > 23 || minute > 59 {
			hour, minute = 0, 0
		}
	}
	t := time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.UTC)
	// time.Date normalizes overflow (e.g. 31.02 -> 02.03); reject that.
	if t.Day() != day || t.Month() != time.Month(month) {
		return nil
	}
	return &t
}

func parseISO(s string) *time.Time {
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// parseNorwegian handles spelled-out dates like "19. januar 2026",
// optionally with a leading weekday ("mandag 19. januar 2026"). The
// day, month name and 4-digit year may appear in any order; missing or
// unresolvable components yield nil.
func parseNorwegian(s string) *time.Time {
	cleaned := strings.ReplaceAll(strings.ToLower(s), ".", "")
	parts := strings.Fields(cleaned)

	var (
		day, year int
		month     time.Month
	)
	for _, p := range parts {
		switch {
		case year == 0 && yearRe.MatchString(p):
			year, _ = strconv.Atoi(p)
		case day == 0 && dayRe.MatchString(p):
			day, _ = strconv.Atoi(p)
		case month == 0:
			if m, ok := norwegianMonths[p]; ok {
				month = m
			}
		}
	}
	if day == 0 || month == 0 || year == 0 || day > 31 {
		return nil
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || t.Month() != month {
		return nil
	}
	return &t
}

// DaysUntil reports the ceiling of whole days between now and the
// deadline. A deadline later today counts as 1; a passed deadline is
// zero or negative.
func DaysUntil(deadline, now time.Time) int {
	d := deadline.Sub(now)
	days := d / (24 * time.Hour)
	if d%(24*time.Hour) > 0 {
		days++
	}
	return int(days)
}
