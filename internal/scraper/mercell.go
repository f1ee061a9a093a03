package scraper

import (
	"context"
	"fmt"

	"tenderwatch/internal/tender"
	"tenderwatch/pkg/logx"
)

// MercellScraper is a deliberate placeholder: mercell.com redirects
// every listing URL to a marketing page and the tender data sits behind
// a paid subscription. Keeping the source registered (disabled by
// default) exercises the scheduler's failure isolation without any
// network access.
type MercellScraper struct {
	log logx.Logger
}

func NewMercell(log logx.Logger) *MercellScraper {
	return &MercellScraper{log: log.With(logx.String("scraper", "mercell"))}
}

func (m *MercellScraper) Source() tender.Source { return tender.SourceMercell }

func (m *MercellScraper) Fetch(ctx context.Context) ([]tender.Tender, error) {
	m.log.Debug("skipping fetch, source requires subscription")
	return nil, fmt.Errorf("%w: mercell requires a paid subscription", ErrUnavailable)
}

var _ Scraper = (*MercellScraper)(nil)
