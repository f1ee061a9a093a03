// Package scraper implements the per-source tender adapters.
//
// Each adapter fetches raw listings from one site and returns canonical
// tender records. Per-record parse failures degrade to empty/nil fields
// and never fail the fetch; records without a title are dropped before
// being returned. Whole-source failures (network, rendering, login) are
// reported as an error for that source only.
package scraper

import (
	"context"
	"errors"
	"strings"

	"tenderwatch/internal/tender"
)

var (
	// ErrAuthentication means the adapter could not log in.
	// No partial records are returned alongside it.
	ErrAuthentication = errors.New("authentication failed")

	// ErrUnavailable is the permanent, expected condition for a source
	// that cannot be scraped at all (paywall).
	ErrUnavailable = errors.New("source unavailable")
)

// Scraper fetches canonical tender records from one source.
type Scraper interface {
	Source() tender.Source
	Fetch(ctx context.Context) ([]tender.Tender, error)
}

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// dropUntitled filters out records lacking a title.
func dropUntitled(in []tender.Tender) []tender.Tender {
	out := in[:0]
	for _, t := range in {
		if strings.TrimSpace(t.Title) != "" {
			out = append(out, t)
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
