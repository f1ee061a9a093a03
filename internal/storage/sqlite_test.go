package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tenderwatch/internal/tender"
	"tenderwatch/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "tenders.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func sampleTender(id, title string) tender.Tender {
	deadline := time.Date(2026, 1, 19, 0, 0, 0, 0, time.UTC)
	return tender.Tender{
		ID:        id,
		Title:     title,
		Source:    tender.SourceTED,
		Deadline:  &deadline,
		Link:      "https://example.com/" + id,
		ScrapedAt: time.Now().UTC(),
	}
}

func TestUpsertIdempotence(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	batch := []tender.Tender{
		sampleTender("ted_1", "Repaint School Roof"),
		sampleTender("ted_2", "New Kindergarten"),
	}

	fresh, err := st.UpsertTenders(ctx, batch)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if len(fresh) != 2 {
		t.Fatalf("first upsert new = %d, want 2", len(fresh))
	}

	fresh, err = st.UpsertTenders(ctx, batch)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if len(fresh) != 0 {
		t.Fatalf("second upsert new = %d, want 0", len(fresh))
	}
}

func TestUpsertOverwritesDescriptiveFields(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	orig := sampleTender("ted_1", "Repaint School Roof")
	orig.Description = "old"
	if _, err := st.UpsertTenders(ctx, []tender.Tender{orig}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := st.SetReminder(ctx, "ted_1", []int{7, 3}); err != nil {
		t.Fatalf("SetReminder: %v", err)
	}

	updated := orig
	updated.Description = "new"
	fresh, err := st.UpsertTenders(ctx, []tender.Tender{updated})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if len(fresh) != 0 {
		t.Fatalf("update counted as new")
	}

	got, err := st.GetTenderByID(ctx, "ted_1")
	if err != nil || got == nil {
		t.Fatalf("GetTenderByID: %v, %v", got, err)
	}
	if got.Description != "new" {
		t.Fatalf("description = %q, want overwritten", got.Description)
	}
	if got.Deadline == nil || !got.Deadline.Equal(*orig.Deadline) {
		t.Fatalf("deadline = %v", got.Deadline)
	}

	// Reminder attached to the record must survive the overwrite.
	rems, err := st.Reminders(ctx)
	if err != nil || len(rems) != 1 {
		t.Fatalf("Reminders = %v, %v", rems, err)
	}
	if rems[0].TenderID != "ted_1" {
		t.Fatalf("reminder tender id = %q", rems[0].TenderID)
	}
	// Thresholds come back sorted and deduplicated.
	if len(rems[0].Days) != 2 || rems[0].Days[0] != 3 || rems[0].Days[1] != 7 {
		t.Fatalf("days = %v, want [3 7]", rems[0].Days)
	}
}

func TestTitleFallbackDedup(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	a := sampleTender(tender.FallbackID(tender.SourceDoffin, "Maling av skole"), "Maling av skole")
	a.Source = tender.SourceDoffin
	a.SyntheticID = true

	if fresh, err := st.UpsertTenders(ctx, []tender.Tender{a}); err != nil || len(fresh) != 1 {
		t.Fatalf("first upsert: %v, new=%d", err, len(fresh))
	}

	// Same listing rescraped: title normalizes identically, so it is
	// not new even though the caller rebuilt the record from scratch.
	b := sampleTender(tender.FallbackID(tender.SourceDoffin, "maling  av skole"), "MALING AV SKOLE")
	b.Source = tender.SourceDoffin
	b.SyntheticID = true
	if fresh, err := st.UpsertTenders(ctx, []tender.Tender{b}); err != nil || len(fresh) != 0 {
		t.Fatalf("second upsert: %v, new=%d", err, len(fresh))
	}
}

func TestUpsertDropsInBatchDuplicates(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	batch := []tender.Tender{
		sampleTender("ted_1", "Repaint School Roof"),
		sampleTender("ted_1", "Repaint School Roof"),
	}
	fresh, err := st.UpsertTenders(ctx, batch)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if len(fresh) != 1 {
		t.Fatalf("new = %d, want 1", len(fresh))
	}
}

func TestSentMarkersAtMostOnce(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.AppendSentMarker(ctx, "ted_1", 7); err != nil {
		t.Fatalf("append: %v", err)
	}
	// Second append for the same key is a no-op, not an error.
	if err := st.AppendSentMarker(ctx, "ted_1", 7); err != nil {
		t.Fatalf("append twice: %v", err)
	}

	markers, err := st.SentMarkers(ctx)
	if err != nil {
		t.Fatalf("SentMarkers: %v", err)
	}
	if len(markers) != 1 {
		t.Fatalf("markers = %v, want exactly one", markers)
	}
	if _, ok := markers["ted_1_7"]; !ok {
		t.Fatalf("missing marker key, got %v", markers)
	}
}

func TestRemoveReminderDropsMarkers(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.SetReminder(ctx, "ted_1", []int{3}); err != nil {
		t.Fatalf("SetReminder: %v", err)
	}
	if err := st.AppendSentMarker(ctx, "ted_1", 3); err != nil {
		t.Fatalf("AppendSentMarker: %v", err)
	}
	if err := st.RemoveReminder(ctx, "ted_1"); err != nil {
		t.Fatalf("RemoveReminder: %v", err)
	}

	rems, err := st.Reminders(ctx)
	if err != nil || len(rems) != 0 {
		t.Fatalf("reminders remain: %v, %v", rems, err)
	}
	markers, err := st.SentMarkers(ctx)
	if err != nil || len(markers) != 0 {
		t.Fatalf("markers remain: %v, %v", markers, err)
	}
}

func TestEnabledSourcesRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	got, err := st.ReadEnabledSources(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty map before first write, got %v", got)
	}

	want := map[tender.Source]bool{
		tender.SourceAnbud:   true,
		tender.SourceMercell: false,
	}
	if err := st.WriteEnabledSources(ctx, want); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err = st.ReadEnabledSources(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 || !got[tender.SourceAnbud] || got[tender.SourceMercell] {
		t.Fatalf("round trip mismatch: %v", got)
	}
}
