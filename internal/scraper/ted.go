package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"tenderwatch/internal/dates"
	"tenderwatch/internal/tender"
	"tenderwatch/pkg/logx"
)

// langPreference is the fixed order for resolving i18n fields.
// Falls back to the smallest available key when none match.
var langPreference = []string{"eng", "dan", "swe", "nld", "deu", "fra"}

const tedTitleSeparator = " – "

type TEDConfig struct {
	APIURL       string
	Country      string
	MinPublished string // YYYYMMDD server-side filter
	PageLimit    int
	Timeout      time.Duration
}

// TEDScraper queries the TED search API: one paginated request with a
// server-side filter expression, no HTML involved. Result fields come
// in three shapes (scalar, array of scalars, map keyed by language
// code) and are flattened through extractI18N.
type TEDScraper struct {
	cfg    TEDConfig
	client *http.Client
	log    logx.Logger
}

func NewTED(cfg TEDConfig, log logx.Logger) *TEDScraper {
	if cfg.APIURL == "" {
		cfg.APIURL = "https://tedweb.api.ted.europa.eu/private-search/api/v1/notices/search"
	}
	if cfg.Country == "" {
		cfg.Country = "NOR"
	}
	if cfg.MinPublished == "" {
		cfg.MinPublished = "20250101"
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 50
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &TEDScraper{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log.With(logx.String("scraper", "ted")),
	}
}

func (s *TEDScraper) Source() tender.Source { return tender.SourceTED }

type tedSearchRequest struct {
	Page   int      `json:"page"`
	Limit  int      `json:"limit"`
	Scope  string   `json:"scope"`
	Query  string   `json:"query"`
	Fields []string `json:"fields"`
}

type tedSearchResponse struct {
	TotalNoticeCount int              `json:"totalNoticeCount"`
	Notices          []map[string]any `json:"notices"`
}

func (s *TEDScraper) Fetch(ctx context.Context) ([]tender.Tender, error) {
	reqBody := tedSearchRequest{
		Page:  1,
		Limit: s.cfg.PageLimit,
		Scope: "ACTIVE",
		Query: fmt.Sprintf("organisation-country-buyer=%s AND publication-date>=%s", s.cfg.Country, s.cfg.MinPublished),
		Fields: []string{
			"publication-number",
			"notice-title",
			"buyer-name",
			"organisation-country-buyer",
			"notice-type",
			"deadline-receipt-tender-date-lot",
			"publication-date",
			"description-lot",
			"place-of-performance",
		},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.APIURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ted search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ted search: status %d", resp.StatusCode)
	}

	var sr tedSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("ted search: decode: %w", err)
	}
	s.log.Info("api page fetched", logx.Int("notices", len(sr.Notices)), logx.Int("total", sr.TotalNoticeCount))

	now := time.Now().UTC()
	tenders := make([]tender.Tender, 0, len(sr.Notices))
	for _, notice := range sr.Notices {
		t := mapTEDNotice(notice, now)
		if t.Title != "" {
			tenders = append(tenders, t)
		}
	}

	// Construction filter is best-effort: when nothing matches, keep
	// everything instead of reporting an empty run.
	if filtered := keep(tenders, IsConstructionRelated); len(filtered) > 0 {
		s.log.Debug("construction filter", logx.Int("all", len(tenders)), logx.Int("kept", len(filtered)))
		return filtered, nil
	}
	return tenders, nil
}

func mapTEDNotice(notice map[string]any, now time.Time) tender.Tender {
	pubNumber := extractI18N(notice["publication-number"])

	fullTitle := extractI18N(notice["notice-title"])
	title := reduceTEDTitle(fullTitle)
	if title == "" {
		title = pubNumber
	}
	buyer := extractI18N(notice["buyer-name"])

	description := extractI18N(notice["description-lot"])
	if description == "" && buyer != "" {
		description = "Innkjøper: " + buyer
	}

	var noticeType string
	if m, ok := notice["notice-type"].(map[string]any); ok {
		noticeType = firstString(m["label"], m["value"])
	}

	var location string
	if places, ok := notice["place-of-performance"].([]any); ok {
		var labels []string
		for _, p := range places {
			label := ""
			if m, ok := p.(map[string]any); ok {
				label = firstString(m["label"])
			} else {
				label = firstString(p)
			}
			// "00" is the API's placeholder for "anywhere".
			if label != "" && label != "00" {
				labels = append(labels, label)
			}
		}
		location = strings.Join(labels, ", ")
	}

	return tender.Tender{
		ID:          "ted_" + pubNumber,
		Title:       truncate(title, 300),
		Description: truncate(description, 500),
		Category:    "Tenders Norway (EU/TED)",
		Deadline:    dates.Parse(extractI18N(notice["deadline-receipt-tender-date-lot"])),
		Published:   dates.Parse(extractI18N(notice["publication-date"])),
		Link:        "https://ted.europa.eu/en/notice/-/detail/" + pubNumber,
		Source:      tender.SourceTED,
		ScrapedAt:   now,
		Location:    location,
		Buyer:       buyer,
		NoticeType:  noticeType,
	}
}

// extractI18N flattens a TED field into a single string. The API emits
// either a scalar, an array of scalars, or a map keyed by language code
// whose values are again scalars or arrays. Language maps resolve via
// langPreference and then the smallest remaining key, so the same
// notice always flattens to the same value.
func extractI18N(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strings.TrimSuffix(fmt.Sprintf("%v", v), ".0")
	case []any:
		if len(v) == 0 {
			return ""
		}
		return extractI18N(v[0])
	case map[string]any:
		for _, lang := range langPreference {
			if val, ok := v[lang]; ok {
				if s := extractI18N(val); s != "" {
					return s
				}
			}
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if s := extractI18N(v[k]); s != "" {
				return s
			}
		}
	}
	return ""
}

// reduceTEDTitle strips the "Region – Category – " prefix the API
// prepends to composite titles. With fewer than three segments the
// title is returned as-is (one segment) or reduced to the second.
func reduceTEDTitle(fullTitle string) string {
	full := strings.TrimSpace(fullTitle)
	if full == "" {
		return ""
	}
	parts := strings.Split(full, tedTitleSeparator)
	switch {
	case len(parts) >= 3:
		return strings.TrimSpace(strings.Join(parts[2:], tedTitleSeparator))
	case len(parts) == 2:
		return strings.TrimSpace(parts[1])
	}
	return full
}

func firstString(candidates ...any) string {
	for _, c := range candidates {
		if s, ok := c.(string); ok && s != "" {
			return s
		}
	}
	return ""
}

var _ Scraper = (*TEDScraper)(nil)
