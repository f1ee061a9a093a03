package dates

import (
	"testing"
	"time"
)

func TestParseRecognizedFormats(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{"dotted", "19.01.2026", time.Date(2026, 1, 19, 0, 0, 0, 0, time.UTC)},
		{"dotted with time", "05.03.2026 12:00", time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)},
		{"dotted embedded", "Frist: 10.02.2026 kl 10", time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)},
		{"norwegian", "19. januar 2026", time.Date(2026, 1, 19, 0, 0, 0, 0, time.UTC)},
		{"norwegian weekday", "mandag 19. januar 2026", time.Date(2026, 1, 19, 0, 0, 0, 0, time.UTC)},
		{"norwegian desember", "1. desember 2025", time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)},
		{"iso date", "2026-03-10", time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)},
		{"iso zulu suffix", "2026-02-07Z", time.Date(2026, 2, 7, 0, 0, 0, 0, time.UTC)},
		{"iso offset suffix", "2026-03-10+01:00", time.Date(2026, 3, 10, 0, 0, 0, 0, time.FixedZone("", 3600))},
		{"rfc3339", "2026-03-10T12:00:00Z", time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Parse(tt.raw)
			if got == nil {
				t.Fatalf("Parse(%q) = nil, want %v", tt.raw, tt.want)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("Parse(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseMalformed(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{
		"",
		"   ",
		"not a date",
		"19. janvier 2026", // unknown month name
		"januar 2026",      // missing day
		"19. januar 26",    // non-4-digit year
		"32.01.2026",       // impossible day
		"31.02.2026",       // overflowing day
		"19.13.2026",       // impossible month
	} {
		if got := Parse(raw); got != nil {
			t.Fatalf("Parse(%q) = %v, want nil", raw, got)
		}
	}
}

func TestDaysUntil(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		deadline time.Time
		want     int
	}{
		{"five days minus an hour rounds up", now.Add(5*24*time.Hour - time.Hour), 5},
		{"exactly five days", now.Add(5 * 24 * time.Hour), 5},
		{"later today", now.Add(6 * time.Hour), 1},
		{"now", now, 0},
		{"passed", now.Add(-30 * time.Hour), -1},
	}
	for _, tt := range tests {
		if got := DaysUntil(tt.deadline, now); got != tt.want {
			t.Fatalf("%s: DaysUntil = %d, want %d", tt.name, got, tt.want)
		}
	}
}
