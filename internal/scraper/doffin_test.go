package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"tenderwatch/internal/tender"
	"tenderwatch/pkg/logx"
)

const doffinCardsPage = `<html><body>
<a class="_card_1oojq_1" href="https://doffin.no/notices/1">
  <p class="_buyer_x1">Oslo kommune</p>
  <h2 class="_title_y2">Maling av fasade skole</h2>
  <p class="_ingress_z3">Utvendig malerarbeid.</p>
  <span>KONKURRANSE</span><span>AKTIV</span>
  <span>800 000 NOK</span>
  <span>05.01.2026</span><span>20.01.2026</span>
</a>
<a class="_card_1oojq_1" href="https://doffin.no/notices/2">
  <p class="_buyer_x1">Statens vegvesen</p>
  <h2 class="_title_y2">Rammeavtale vedlikehold bygg</h2>
  <p class="_ingress_z3">Stor rammeavtale.</p>
  <span>PLANLEGGING</span><span>UTGÅTT</span>
  <span>900 000 NOK</span>
</a>
<a class="_card_1oojq_1" href="https://doffin.no/notices/3">
  <p class="_buyer_x1">Skatteetaten</p>
  <h2 class="_title_y2">Konsulentbistand regnskap</h2>
  <p class="_ingress_z3">Regnskapstjenester.</p>
</a>
</body></html>`

func TestDoffinFetchSettlesAndFilters(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// First response has no cards yet, like a half-rendered SPA shell.
		if calls.Add(1) == 1 {
			fmt.Fprint(w, `<html><body><div id="root"></div></body></html>`)
			return
		}
		fmt.Fprint(w, doffinCardsPage)
	}))
	defer srv.Close()

	s := NewDoffin(DoffinConfig{
		SearchURL:      srv.URL,
		Timeout:        5 * time.Second,
		SettleAttempts: 3,
		SettleDelay:    10 * time.Millisecond,
	}, logx.Nop())

	got, err := s.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if calls.Load() < 2 {
		t.Fatalf("expected settle retry, got %d calls", calls.Load())
	}

	// Card 3 is not construction related, card 2 carries a complexity
	// keyword ("rammeavtale"); the beginner stage keeps only card 1.
	if len(got) != 1 {
		t.Fatalf("got %d tenders after filtering, want 1: %+v", len(got), got)
	}
	c := got[0]
	if c.Title != "Maling av fasade skole" || c.Buyer != "Oslo kommune" {
		t.Fatalf("unexpected card: %+v", c)
	}
	if c.Amount != "800 000" {
		t.Fatalf("amount = %q", c.Amount)
	}
	if c.Published == nil || !c.Published.Equal(time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("published = %v", c.Published)
	}
	if c.Deadline == nil || !c.Deadline.Equal(time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("deadline = %v", c.Deadline)
	}
	if c.NoticeType != "Konkurranse" || c.Status != "Aktiv" {
		t.Fatalf("notice type/status = %q/%q", c.NoticeType, c.Status)
	}
	if !c.SyntheticID || c.ID == "" {
		t.Fatalf("doffin ids are synthetic, got %q", c.ID)
	}
}

func TestDoffinNeverSettles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>loading...</body></html>`)
	}))
	defer srv.Close()

	s := NewDoffin(DoffinConfig{SearchURL: srv.URL, SettleAttempts: 2, SettleDelay: time.Millisecond}, logx.Nop())
	if _, err := s.Fetch(context.Background()); err == nil {
		t.Fatal("expected error when cards never appear")
	}
}

func TestFilterStagedFallback(t *testing.T) {
	t.Parallel()
	construction := tender.Tender{Title: "Maling av tak", Amount: "2 000 000"}
	if got := filterStaged([]tender.Tender{construction}, logx.Nop()); len(got) != 1 {
		t.Fatalf("expected fallback to construction stage, got %d", len(got))
	}

	overBudgetComplex := tender.Tender{Title: "Totalentreprise nybygg skole", Amount: "500 000"}
	got := filterStaged([]tender.Tender{overBudgetComplex}, logx.Nop())
	if len(got) != 1 {
		t.Fatalf("expected fallback to budget stage, got %d", len(got))
	}

	if got := filterStaged([]tender.Tender{{Title: "Regnskapstjenester"}}, logx.Nop()); len(got) != 0 {
		t.Fatalf("non-construction input should filter to zero, got %d", len(got))
	}
}

func TestUnderBudget(t *testing.T) {
	t.Parallel()
	tests := []struct {
		amount string
		want   bool
	}{
		{"", true},
		{"999 999", true},
		{"1 000 000", true},
		{"1 000 001", false},
		{"abc", true},
	}
	for _, tt := range tests {
		if got := UnderBudget(tender.Tender{Amount: tt.amount}, doffinMaxBudgetNOK); got != tt.want {
			t.Fatalf("UnderBudget(%q) = %v, want %v", tt.amount, got, tt.want)
		}
	}
}
