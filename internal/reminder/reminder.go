// Package reminder fires deadline reminders at most once per
// (tender, threshold) pair. A reminder with thresholds [3 7] and a
// deadline five days out fires the 7-day notice on the next check and
// records a sent marker so later checks stay quiet.
package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"tenderwatch/internal/dates"
	"tenderwatch/internal/notify"
	"tenderwatch/internal/storage"
	"tenderwatch/internal/tender"
	"tenderwatch/pkg/logx"
)

// Urgency classifies how close a deadline is.
type Urgency string

const (
	UrgencyUrgent  Urgency = "urgent"
	UrgencyWarning Urgency = "warning"
	UrgencyNormal  Urgency = "normal"
)

// Urgency buckets a deadline relative to now: three days or less is
// urgent, a week or less is a warning, anything further is normal.
func ComputeUrgency(deadline *time.Time, now time.Time) Urgency {
	if deadline == nil {
		return UrgencyNormal
	}
	daysLeft := dates.DaysUntil(*deadline, now)
	switch {
	case daysLeft <= 3:
		return UrgencyUrgent
	case daysLeft <= 7:
		return UrgencyWarning
	default:
		return UrgencyNormal
	}
}

type Engine struct {
	store    storage.Store
	notifier notify.Notifier
	log      logx.Logger
	now      func() time.Time

	// sweepMu serializes CheckReminders: the hourly and daily cron
	// entries both fire at 09:00 in separate goroutines, and two
	// interleaved sweeps would each see a threshold unsent and send it
	// twice.
	sweepMu sync.Mutex

	c *cron.Cron
}

func New(store storage.Store, notifier notify.Notifier, log logx.Logger) *Engine {
	return &Engine{
		store:    store,
		notifier: notifier,
		log:      log.With(logx.String("component", "reminder")),
		now:      time.Now,
	}
}

// SetReminder stores the thresholds for a known tender. Unknown ids
// are rejected so reminders cannot dangle.
func (e *Engine) SetReminder(ctx context.Context, tenderID string, days []int) error {
	t, err := e.store.GetTenderByID(ctx, tenderID)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("unknown tender %q", tenderID)
	}
	return e.store.SetReminder(ctx, tenderID, days)
}

func (e *Engine) RemoveReminder(ctx context.Context, tenderID string) error {
	return e.store.RemoveReminder(ctx, tenderID)
}

// CheckReminders walks all configured reminders once. For each
// threshold d that has no sent marker and whose deadline is between
// one and d days away it notifies, then appends the marker. Per-tender
// failures are logged and do not stop the sweep.
func (e *Engine) CheckReminders(ctx context.Context) error {
	e.sweepMu.Lock()
	defer e.sweepMu.Unlock()

	reminders, err := e.store.Reminders(ctx)
	if err != nil {
		return fmt.Errorf("load reminders: %w", err)
	}
	if len(reminders) == 0 {
		return nil
	}
	markers, err := e.store.SentMarkers(ctx)
	if err != nil {
		return fmt.Errorf("load sent markers: %w", err)
	}
	if markers == nil {
		markers = map[string]time.Time{}
	}

	now := e.now()
	for _, r := range reminders {
		t, err := e.store.GetTenderByID(ctx, r.TenderID)
		if err != nil {
			e.log.Error("load tender failed", logx.String("tender_id", r.TenderID), logx.Err(err))
			continue
		}
		if t == nil || t.Deadline == nil {
			continue
		}
		daysLeft := dates.DaysUntil(*t.Deadline, now)

		for _, d := range r.Days {
			key := tender.SentMarker{TenderID: r.TenderID, Days: d}.Key()
			if _, sent := markers[key]; sent {
				continue
			}
			if daysLeft <= 0 || daysLeft > d {
				continue
			}
			e.notifier.NotifyReminder(ctx, *t, daysLeft)
			if err := e.store.AppendSentMarker(ctx, r.TenderID, d); err != nil {
				e.log.Error("append sent marker failed", logx.String("key", key), logx.Err(err))
				continue
			}
			markers[key] = now
			e.log.Info("reminder sent", logx.String("tender_id", r.TenderID), logx.Int("threshold", d), logx.Int("days_left", daysLeft))
		}
	}
	return nil
}

// Start registers the hourly sweep plus a fixed 09:00 daily sweep, the
// morning one so a tender crossing a threshold overnight is reported
// at a sane hour.
func (e *Engine) Start(ctx context.Context) error {
	e.c = cron.New()
	sweep := func() {
		if err := e.CheckReminders(ctx); err != nil {
			e.log.Error("reminder sweep failed", logx.Err(err))
		}
	}
	for _, spec := range []string{"0 * * * *", "0 9 * * *"} {
		if _, err := e.c.AddFunc(spec, sweep); err != nil {
			return fmt.Errorf("register reminder sweep %q: %w", spec, err)
		}
	}
	e.c.Start()
	e.log.Info("reminder engine started")
	return nil
}

func (e *Engine) Stop() {
	if e.c != nil {
		<-e.c.Stop().Done()
	}
	e.log.Info("reminder engine stopped")
}
