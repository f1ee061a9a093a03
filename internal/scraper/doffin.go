package scraper

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"tenderwatch/internal/dates"
	"tenderwatch/internal/tender"
	"tenderwatch/pkg/logx"
)

const doffinMaxBudgetNOK = 1_000_000

var (
	doffinAmountRe = regexp.MustCompile(`(?i)([\d\s]+(?:\.\d+)?)\s*NOK`)
	doffinDateRe   = regexp.MustCompile(`\d{2}\.\d{2}\.\d{4}`)
)

type DoffinConfig struct {
	SearchURL      string
	Timeout        time.Duration
	SettleAttempts int
	SettleDelay    time.Duration
}

// DoffinScraper reads the public search page. The page is rendered
// client-side, so a fetch can race the content: the scraper polls until
// result cards are present or the attempt budget runs out. Cards use
// hashed CSS-module class names; selectors match on the stable prefix.
type DoffinScraper struct {
	cfg    DoffinConfig
	client *http.Client
	log    logx.Logger
}

func NewDoffin(cfg DoffinConfig, log logx.Logger) *DoffinScraper {
	if cfg.SearchURL == "" {
		cfg.SearchURL = "https://doffin.no/search"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.SettleAttempts <= 0 {
		cfg.SettleAttempts = 5
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 2 * time.Second
	}
	return &DoffinScraper{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log.With(logx.String("scraper", "doffin")),
	}
}

func (d *DoffinScraper) Source() tender.Source { return tender.SourceDoffin }

func (d *DoffinScraper) Fetch(ctx context.Context) ([]tender.Tender, error) {
	doc, err := d.fetchSettled(ctx)
	if err != nil {
		return nil, err
	}

	all := d.parseCards(doc)
	d.log.Info("cards parsed", logx.Int("total", len(all)))

	return dropUntitled(filterStaged(all, d.log)), nil
}

// fetchSettled retries until the result cards show up, treating a page
// without them as not-yet-rendered rather than empty.
func (d *DoffinScraper) fetchSettled(ctx context.Context) (*goquery.Document, error) {
	var lastErr error
	for attempt := 1; attempt <= d.cfg.SettleAttempts; attempt++ {
		doc, err := d.fetchOnce(ctx)
		if err != nil {
			lastErr = err
		} else if doc.Find(`a[class*="_card_"]`).Length() > 0 {
			return doc, nil
		} else {
			lastErr = fmt.Errorf("no result cards after attempt %d", attempt)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.cfg.SettleDelay):
		}
	}
	return nil, fmt.Errorf("doffin search did not settle: %w", lastErr)
}

func (d *DoffinScraper) fetchOnce(ctx context.Context) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.cfg.SearchURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("doffin search: status %d", resp.StatusCode)
	}
	return goquery.NewDocumentFromReader(resp.Body)
}

func (d *DoffinScraper) parseCards(doc *goquery.Document) []tender.Tender {
	now := time.Now().UTC()
	var out []tender.Tender

	doc.Find(`a[class*="_card_"]`).Each(func(_ int, card *goquery.Selection) {
		title := strings.TrimSpace(card.Find(`h2[class*="_title_"]`).First().Text())
		if title == "" {
			return
		}
		link, _ := card.Attr("href")
		fullText := card.Text()

		var amount string
		if m := doffinAmountRe.FindStringSubmatch(fullText); m != nil {
			amount = strings.TrimSpace(m[1])
		}

		// First embedded date is the publication date, second the deadline.
		var published, deadline *time.Time
		dateStrs := doffinDateRe.FindAllString(fullText, 2)
		if len(dateStrs) > 0 {
			published = dates.Parse(dateStrs[0])
		}
		if len(dateStrs) > 1 {
			deadline = dates.Parse(dateStrs[1])
		}

		t := tender.Tender{
			ID:          tender.FallbackID(tender.SourceDoffin, title),
			SyntheticID: true,
			Title:       title,
			Description: strings.TrimSpace(card.Find(`p[class*="_ingress_"]`).First().Text()),
			Category:    "Bygg og anlegg",
			Deadline:    deadline,
			Published:   published,
			Link:        link,
			Source:      tender.SourceDoffin,
			ScrapedAt:   now,
			Amount:      amount,
			Buyer:       strings.TrimSpace(card.Find(`p[class*="_buyer_"]`).First().Text()),
			NoticeType:  doffinNoticeType(fullText),
			Status:      doffinStatus(fullText),
		}
		out = append(out, t)
	})
	return out
}

func doffinNoticeType(text string) string {
	switch {
	case strings.Contains(text, "KONKURRANSE"):
		return "Konkurranse"
	case strings.Contains(text, "PLANLEGGING"):
		return "Planlegging"
	case strings.Contains(text, "RESULTAT"):
		return "Resultat"
	}
	return ""
}

func doffinStatus(text string) string {
	switch {
	case strings.Contains(text, "AKTIV"):
		return "Aktiv"
	case strings.Contains(text, "UTGÅTT"):
		return "Utgått"
	case strings.Contains(text, "TILDELT"):
		return "Tildelt"
	}
	return ""
}

// filterStaged applies the construction -> budget -> beginner pipeline
// and keeps the most specific non-empty stage. A stricter stage that
// matches nothing falls back to the previous one rather than wiping
// the run.
func filterStaged(all []tender.Tender, log logx.Logger) []tender.Tender {
	construction := keep(all, IsConstructionRelated)
	underBudget := keep(construction, func(t tender.Tender) bool { return UnderBudget(t, doffinMaxBudgetNOK) })
	beginner := keep(underBudget, IsBeginnerFriendly)

	log.Debug("filter pipeline",
		logx.Int("all", len(all)),
		logx.Int("construction", len(construction)),
		logx.Int("under_budget", len(underBudget)),
		logx.Int("beginner", len(beginner)),
	)

	switch {
	case len(beginner) > 0:
		return beginner
	case len(underBudget) > 0:
		return underBudget
	default:
		return construction
	}
}

func keep(in []tender.Tender, pred func(tender.Tender) bool) []tender.Tender {
	var out []tender.Tender
	for _, t := range in {
		if pred(t) {
			out = append(out, t)
		}
	}
	return out
}

var _ Scraper = (*DoffinScraper)(nil)
