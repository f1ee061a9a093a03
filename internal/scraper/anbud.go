package scraper

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"tenderwatch/internal/dates"
	"tenderwatch/internal/tender"
	"tenderwatch/pkg/logx"
)

const (
	anbudLoginPath   = "/Members/Login.aspx"
	anbudNoticesPath = "/Members/Tenders/ContractNotices.aspx"

	// ASP.NET control ids, taken from the rendered login form.
	anbudFieldEmail    = "ctl00$ContentPlaceHolder1$txtEmail"
	anbudFieldPassword = "ctl00$ContentPlaceHolder1$txtPassword"
	anbudFieldSignIn   = "ctl00$ContentPlaceHolder1$btnSignIn"

	anbudGridSelector = "#ctl00_ContentPlaceHolder1_grdAlerts tr"
)

var (
	anbudDeadlineRe  = regexp.MustCompile(`(?i)Innleveringsfrist[:\s]+([^\n]+)`)
	anbudPublishedRe = regexp.MustCompile(`(?i)Publiseringsdato[:\s]+([^\n]+)`)
	anbudIDRe        = regexp.MustCompile(`(?i)ID[:\s]+(NOR[0-9\-]+)`)
	anbudDocTypeRe   = regexp.MustCompile(`(?i)Dokumenttype[:\s]+([^\n]+)`)
)

type AnbudConfig struct {
	BaseURL     string
	Username    string
	Password    string
	DetailLimit int
	Timeout     time.Duration
}

// AnbudScraper logs in to the member area and walks the contract
// notices grid. The listing table only carries coarse data, so the
// first DetailLimit rows get a second fetch of their detail page for
// the canonical id, deadline and category. Listings past the cap keep
// list-only data; bounded run time wins over completeness there.
type AnbudScraper struct {
	cfg AnbudConfig
	log logx.Logger
}

func NewAnbud(cfg AnbudConfig, log logx.Logger) *AnbudScraper {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.anbuddirekte.no"
	}
	if cfg.DetailLimit <= 0 {
		cfg.DetailLimit = 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &AnbudScraper{cfg: cfg, log: log.With(logx.String("scraper", "anbud"))}
}

func (a *AnbudScraper) Source() tender.Source { return tender.SourceAnbud }

// anbudRow is the provisional record parsed from one grid row.
type anbudRow struct {
	title     string
	link      string
	buyer     string
	published string
	deadline  string
}

func (a *AnbudScraper) Fetch(ctx context.Context) ([]tender.Tender, error) {
	c := colly.NewCollector(colly.UserAgent(userAgent), colly.AllowURLRevisit())
	c.SetRequestTimeout(a.cfg.Timeout)

	if err := a.login(ctx, c); err != nil {
		return nil, err
	}

	rows, err := a.listRows(ctx, c)
	if err != nil {
		return nil, err
	}
	a.log.Info("listing fetched", logx.Int("rows", len(rows)))

	now := time.Now().UTC()
	tenders := make([]tender.Tender, 0, len(rows))
	limit := min(len(rows), a.cfg.DetailLimit)
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t := tender.Tender{
			Title:       row.title,
			Description: "Innkjøper: " + row.buyer,
			Published:   dates.Parse(row.published),
			Deadline:    dates.Parse(row.deadline),
			Link:        row.link,
			Buyer:       row.buyer,
			Source:      tender.SourceAnbud,
			ScrapedAt:   now,
		}
		if i < limit && row.link != "" {
			a.enrich(c, &t)
		}
		if t.ID == "" {
			t.ID = tender.FallbackID(tender.SourceAnbud, t.Title)
			t.SyntheticID = true
		}
		tenders = append(tenders, t)
	}
	return dropUntitled(tenders), nil
}

// login fetches the login form, replays its hidden ASP.NET state
// fields together with the credentials, and verifies the session by
// looking for the logout marker in the response.
func (a *AnbudScraper) login(ctx context.Context, c *colly.Collector) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	form := map[string]string{}
	var loggedIn bool
	stage := "form"

	c.OnHTML("input[type='hidden']", func(e *colly.HTMLElement) {
		if stage == "form" {
			if name := e.Attr("name"); name != "" {
				form[name] = e.Attr("value")
			}
		}
	})
	c.OnResponse(func(r *colly.Response) {
		if stage == "submit" {
			body := string(r.Body)
			loggedIn = strings.Contains(body, "Logg ut") || strings.Contains(body, "LOGG UT")
		}
	})

	if err := c.Visit(a.cfg.BaseURL + anbudLoginPath); err != nil {
		return fmt.Errorf("anbud login page: %w", err)
	}

	form[anbudFieldEmail] = a.cfg.Username
	form[anbudFieldPassword] = a.cfg.Password
	form[anbudFieldSignIn] = "Logg inn"

	stage = "submit"
	if err := c.Post(a.cfg.BaseURL+anbudLoginPath, form); err != nil {
		return fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	stage = "done"
	if !loggedIn {
		return fmt.Errorf("%w: logout marker not found after sign-in", ErrAuthentication)
	}
	a.log.Debug("login ok")
	return nil
}

// listRows parses the notices grid. Data rows carry a GridItem class;
// header, filter and separator rows do not.
func (a *AnbudScraper) listRows(ctx context.Context, c *colly.Collector) ([]anbudRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rows []anbudRow
	c.OnHTML(anbudGridSelector, func(e *colly.HTMLElement) {
		if !strings.Contains(e.Attr("class"), "GridItem") {
			return
		}
		cells := e.DOM.Find("td")
		if cells.Length() < 7 {
			return
		}
		// cells: 3 = published, 4 = title + link, 5 = buyer, 6 = deadline.
		titleCell := cells.Eq(4)
		link := titleCell.Find("a").First()
		title := strings.TrimSpace(link.Text())
		if title == "" {
			title = strings.TrimSpace(titleCell.Text())
		}
		href, _ := link.Attr("href")
		rows = append(rows, anbudRow{
			title:     title,
			link:      e.Request.AbsoluteURL(href),
			buyer:     strings.TrimSpace(cells.Eq(5).Text()),
			published: strings.TrimSpace(cells.Eq(3).Text()),
			deadline:  strings.TrimSpace(cells.Eq(6).Text()),
		})
	})

	if err := c.Visit(a.cfg.BaseURL + anbudNoticesPath); err != nil {
		return nil, fmt.Errorf("anbud notices: %w", err)
	}
	return rows, nil
}

// enrich fetches the detail page and fills deadline, published date,
// canonical id, category and description. Any failure leaves the
// list-derived values in place.
func (a *AnbudScraper) enrich(c *colly.Collector, t *tender.Tender) {
	d := c.Clone()
	d.SetRequestTimeout(a.cfg.Timeout)

	d.OnHTML("html", func(e *colly.HTMLElement) {
		applyAnbudDetail(e.DOM, t)
	})
	if err := d.Visit(t.Link); err != nil {
		a.log.Warn("detail fetch failed", logx.String("link", t.Link), logx.Err(err))
	}
}

// applyAnbudDetail extracts label/value pairs from the detail page.
// The page renders key facts both as two-column table rows and as
// flattened "Label: value" text; the table wins, the text is fallback.
func applyAnbudDetail(doc *goquery.Selection, t *tender.Tender) {
	var deadline, published, id, category string

	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		label := strings.TrimSpace(cells.Eq(0).Text())
		value := strings.TrimSpace(cells.Eq(1).Text())
		switch {
		case strings.Contains(label, "Innleveringsfrist") && deadline == "":
			deadline = value
		case strings.Contains(label, "Publiseringsdato") && published == "":
			published = value
		case strings.Contains(label, "ID:") && id == "":
			id = value
		case strings.Contains(label, "Dokumenttype") && category == "":
			category = value
		}
	})

	body := doc.Text()
	if deadline == "" {
		if m := anbudDeadlineRe.FindStringSubmatch(body); m != nil {
			deadline = strings.TrimSpace(m[1])
		}
	}
	if published == "" {
		if m := anbudPublishedRe.FindStringSubmatch(body); m != nil {
			published = strings.TrimSpace(m[1])
		}
	}
	if id == "" {
		if m := anbudIDRe.FindStringSubmatch(body); m != nil {
			id = strings.TrimSpace(m[1])
		}
	}
	if category == "" {
		if m := anbudDocTypeRe.FindStringSubmatch(body); m != nil {
			category = strings.TrimSpace(m[1])
		}
	}

	if d := dates.Parse(deadline); d != nil {
		t.Deadline = d
	}
	if p := dates.Parse(published); p != nil {
		t.Published = p
	}
	if id != "" {
		t.ID = id
		t.SyntheticID = false
	}
	if category != "" {
		t.Category = category
	}
	if desc := strings.TrimSpace(doc.Find(".ShortDescription, .Description").First().Text()); desc != "" {
		t.Description = truncate(desc, 500)
	}
}

// interface guard
var _ Scraper = (*AnbudScraper)(nil)
