package reminder

import (
	"context"
	"sync"
	"testing"
	"time"

	"tenderwatch/internal/tender"
	"tenderwatch/pkg/logx"
)

type fakeStore struct {
	tenders   map[string]tender.Tender
	reminders []tender.Reminder
	markers   map[string]time.Time
	removed   []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{tenders: map[string]tender.Tender{}, markers: map[string]time.Time{}}
}

func (f *fakeStore) UpsertTenders(context.Context, []tender.Tender) ([]tender.Tender, error) {
	return nil, nil
}

func (f *fakeStore) GetTenderByID(_ context.Context, id string) (*tender.Tender, error) {
	t, ok := f.tenders[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (f *fakeStore) Reminders(context.Context) ([]tender.Reminder, error) {
	return f.reminders, nil
}

func (f *fakeStore) SetReminder(_ context.Context, tenderID string, days []int) error {
	f.reminders = append(f.reminders, tender.Reminder{TenderID: tenderID, Days: days})
	return nil
}

func (f *fakeStore) RemoveReminder(_ context.Context, tenderID string) error {
	f.removed = append(f.removed, tenderID)
	return nil
}

func (f *fakeStore) SentMarkers(context.Context) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(f.markers))
	for k, v := range f.markers {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStore) AppendSentMarker(_ context.Context, tenderID string, days int) error {
	f.markers[tender.SentMarker{TenderID: tenderID, Days: days}.Key()] = time.Now()
	return nil
}

func (f *fakeStore) ReadEnabledSources(context.Context) (map[tender.Source]bool, error) {
	return nil, nil
}

func (f *fakeStore) WriteEnabledSources(context.Context, map[tender.Source]bool) error {
	return nil
}

func (f *fakeStore) Close() error { return nil }

type fakeNotifier struct {
	mu        sync.Mutex
	sent      []int         // daysLeft per reminder send
	sendDelay time.Duration // widens the window between send and marker write
}

func (f *fakeNotifier) NotifyNew(context.Context, tender.Source, []tender.Tender) {}
func (f *fakeNotifier) NotifyError(context.Context, tender.Source, string)        {}

func (f *fakeNotifier) NotifyReminder(_ context.Context, _ tender.Tender, daysLeft int) {
	if f.sendDelay > 0 {
		time.Sleep(f.sendDelay)
	}
	f.mu.Lock()
	f.sent = append(f.sent, daysLeft)
	f.mu.Unlock()
}

func (f *fakeNotifier) sends() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.sent...)
}

func engineAt(store *fakeStore, notifier *fakeNotifier, now time.Time) *Engine {
	e := New(store, notifier, logx.Nop())
	e.now = func() time.Time { return now }
	return e
}

func TestReminderFiresAtMostOncePerThreshold(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 14, 10, 0, 0, 0, time.UTC)
	deadline := now.Add(5 * 24 * time.Hour)

	store := newFakeStore()
	store.tenders["t1"] = tender.Tender{ID: "t1", Title: "Maling av tak", Deadline: &deadline}
	store.reminders = []tender.Reminder{{TenderID: "t1", Days: []int{3, 7}}}
	notifier := &fakeNotifier{}
	e := engineAt(store, notifier, now)

	// Five days out: only the 7-day threshold is due.
	if err := e.CheckReminders(context.Background()); err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(notifier.sent) != 1 || notifier.sent[0] != 5 {
		t.Fatalf("sends after first check = %v, want [5]", notifier.sent)
	}

	// Same conditions again: the marker suppresses a second send.
	if err := e.CheckReminders(context.Background()); err != nil {
		t.Fatalf("recheck: %v", err)
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("sends after second check = %v, want exactly one", notifier.sent)
	}

	key := tender.SentMarker{TenderID: "t1", Days: 7}.Key()
	if _, ok := store.markers[key]; !ok {
		t.Fatalf("marker %q not recorded, have %v", key, store.markers)
	}
	if _, ok := store.markers[tender.SentMarker{TenderID: "t1", Days: 3}.Key()]; ok {
		t.Fatal("3-day threshold fired five days out")
	}
}

func TestReminderFiresEachDueThreshold(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 14, 10, 0, 0, 0, time.UTC)
	deadline := now.Add(2 * 24 * time.Hour)

	store := newFakeStore()
	store.tenders["t1"] = tender.Tender{ID: "t1", Title: "Skifte vinduer", Deadline: &deadline}
	store.reminders = []tender.Reminder{{TenderID: "t1", Days: []int{3, 7}}}
	notifier := &fakeNotifier{}
	e := engineAt(store, notifier, now)

	if err := e.CheckReminders(context.Background()); err != nil {
		t.Fatalf("check: %v", err)
	}
	// Two days out both thresholds are due and each fires once.
	if len(notifier.sent) != 2 {
		t.Fatalf("sends = %v, want two", notifier.sent)
	}
}

func TestConcurrentSweepsSendOnce(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 14, 10, 0, 0, 0, time.UTC)
	deadline := now.Add(5 * 24 * time.Hour)

	store := newFakeStore()
	store.tenders["t1"] = tender.Tender{ID: "t1", Title: "Maling av tak", Deadline: &deadline}
	store.reminders = []tender.Reminder{{TenderID: "t1", Days: []int{7}}}
	// The delay holds the send open long enough that an unserialized
	// second sweep would read the markers before the first one writes.
	notifier := &fakeNotifier{sendDelay: 50 * time.Millisecond}
	e := engineAt(store, notifier, now)

	// The hourly and daily schedules both fire at 09:00.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.CheckReminders(context.Background()); err != nil {
				t.Errorf("check: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := notifier.sends(); len(got) != 1 {
		t.Fatalf("sends = %v, want exactly one", got)
	}
}

func TestPassedDeadlineNeverFires(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 14, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		name     string
		deadline time.Time
	}{
		{"yesterday", now.Add(-24 * time.Hour)},
		{"earlier today", now.Add(-2 * time.Hour)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			store := newFakeStore()
			deadline := tc.deadline
			store.tenders["t1"] = tender.Tender{ID: "t1", Deadline: &deadline}
			store.reminders = []tender.Reminder{{TenderID: "t1", Days: []int{3}}}
			notifier := &fakeNotifier{}
			e := engineAt(store, notifier, now)

			if err := e.CheckReminders(context.Background()); err != nil {
				t.Fatalf("check: %v", err)
			}
			if len(notifier.sent) != 0 {
				t.Fatalf("sends = %v, want none", notifier.sent)
			}
		})
	}
}

func TestMissingTenderOrDeadlineSkipped(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 14, 10, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.tenders["no-deadline"] = tender.Tender{ID: "no-deadline"}
	store.reminders = []tender.Reminder{
		{TenderID: "gone", Days: []int{3}},
		{TenderID: "no-deadline", Days: []int{3}},
	}
	notifier := &fakeNotifier{}
	e := engineAt(store, notifier, now)

	if err := e.CheckReminders(context.Background()); err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(notifier.sent) != 0 {
		t.Fatalf("sends = %v, want none", notifier.sent)
	}
}

func TestSetReminderRejectsUnknownTender(t *testing.T) {
	t.Parallel()

	e := New(newFakeStore(), &fakeNotifier{}, logx.Nop())
	if err := e.SetReminder(context.Background(), "nope", []int{3}); err == nil {
		t.Fatal("expected error for unknown tender")
	}
}

func TestComputeUrgency(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 14, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		hoursAhead int
		want       Urgency
	}{
		{24, UrgencyUrgent},       // tomorrow
		{3 * 24, UrgencyUrgent},   // exactly three days
		{5 * 24, UrgencyWarning},  // mid-week
		{7 * 24, UrgencyWarning},  // exactly a week
		{10 * 24, UrgencyNormal},  // next week
		{-24, UrgencyUrgent},      // already passed still reads urgent
	}
	for _, tc := range cases {
		deadline := now.Add(time.Duration(tc.hoursAhead) * time.Hour)
		if got := ComputeUrgency(&deadline, now); got != tc.want {
			t.Errorf("ComputeUrgency(+%dh) = %q, want %q", tc.hoursAhead, got, tc.want)
		}
	}
	if got := ComputeUrgency(nil, now); got != UrgencyNormal {
		t.Errorf("ComputeUrgency(nil) = %q, want normal", got)
	}
}
