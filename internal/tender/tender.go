// Package tender defines the canonical, source-agnostic tender record
// and the per-run result types shared by the scraping pipeline.
package tender

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

// Source identifies a tender listing site.
type Source string

const (
	SourceAnbud   Source = "anbud"
	SourceDoffin  Source = "doffin"
	SourceTED     Source = "ted"
	SourceMercell Source = "mercell"
)

// AllSources lists known sources in scheduler iteration order.
var AllSources = []Source{SourceAnbud, SourceDoffin, SourceTED, SourceMercell}

func ParseSource(s string) (Source, bool) {
	switch Source(strings.ToLower(strings.TrimSpace(s))) {
	case SourceAnbud:
		return SourceAnbud, true
	case SourceDoffin:
		return SourceDoffin, true
	case SourceTED:
		return SourceTED, true
	case SourceMercell:
		return SourceMercell, true
	}
	return "", false
}

// DisplayName returns the human form used in notifications.
func (s Source) DisplayName() string {
	switch s {
	case SourceAnbud:
		return "Anbud"
	case SourceDoffin:
		return "Doffin"
	case SourceTED:
		return "TED"
	case SourceMercell:
		return "Mercell"
	}
	return string(s)
}

func (s Source) Valid() bool {
	_, ok := ParseSource(string(s))
	return ok
}

// Tender is one canonical listing.
//
// (Source, ID) is unique. Deadline and Published are parsed instants,
// never raw site strings; a date the normalizer could not parse is nil.
type Tender struct {
	ID          string     `json:"id" db:"id"`
	Title       string     `json:"title" db:"title"`
	Description string     `json:"description" db:"description"`
	Category    string     `json:"category" db:"category"`
	Deadline    *time.Time `json:"deadline" db:"deadline"`
	Published   *time.Time `json:"published" db:"published"`
	Link        string     `json:"link" db:"link"`
	Source      Source     `json:"source" db:"source"`
	ScrapedAt   time.Time  `json:"scrapedAt" db:"scraped_at"`
	Amount      string     `json:"amount" db:"amount"`
	Location    string     `json:"location" db:"location"`
	Buyer       string     `json:"buyer" db:"buyer"`
	NoticeType  string     `json:"noticeType" db:"notice_type"`
	Status      string     `json:"status" db:"status"`

	// SyntheticID marks records whose ID was derived from the title
	// because the source exposes no stable identifier. Dedup for those
	// falls back to the normalized title.
	SyntheticID bool `json:"-" db:"synthetic_id"`
}

// NormalizeTitle is the comparison form used for title-based dedup.
func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}

// FallbackID derives a deterministic id for sources without a stable
// one. Same source + same normalized title always yields the same id,
// so re-ingesting an unchanged listing cannot appear new.
func FallbackID(source Source, title string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(string(source)))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(NormalizeTitle(title)))
	return fmt.Sprintf("%s_%016x", source, h.Sum64())
}

// RunResult is the outcome of one adapter invocation within a run.
type RunResult struct {
	Source     Source
	Success    bool
	NewCount   int
	TotalCount int
	Err        error
}

// Reminder is the per-tender reminder configuration: distinct day
// thresholds before the deadline at which a notification should fire.
type Reminder struct {
	TenderID  string    `json:"tenderId"`
	Days      []int     `json:"days"`
	CreatedAt time.Time `json:"createdAt"`
}

// SentMarker records that the (tenderId, days) reminder was delivered.
type SentMarker struct {
	TenderID string    `json:"tenderId"`
	Days     int       `json:"days"`
	SentAt   time.Time `json:"sentAt"`
}

func (m SentMarker) Key() string { return fmt.Sprintf("%s_%d", m.TenderID, m.Days) }
