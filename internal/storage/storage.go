// Package storage is the dedup and persistence gateway for the
// pipeline. It owns the new-record rule: a record is new when nothing
// with the same (source, id), or for synthetic ids the same normalized
// title, existed before the run's writes. Membership is computed
// before the upsert so re-ingesting the same batch twice reports zero
// new records the second time.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"tenderwatch/internal/tender"
	"tenderwatch/pkg/logx"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//   - "postgres": PostgreSQL via DSN
type Config struct {
	Driver      string
	Path        string        // sqlite only
	DSN         string        // postgres only
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API consumed by the scheduler and the
// reminder engine.
type Store interface {
	// UpsertTenders writes the batch and returns the newly inserted
	// subset. Existing records get their descriptive fields overwritten;
	// reminders and sent markers hanging off them are left untouched.
	UpsertTenders(ctx context.Context, batch []tender.Tender) ([]tender.Tender, error)

	// GetTenderByID returns nil when the id is unknown.
	GetTenderByID(ctx context.Context, id string) (*tender.Tender, error)

	Reminders(ctx context.Context) ([]tender.Reminder, error)
	SetReminder(ctx context.Context, tenderID string, days []int) error
	// RemoveReminder also drops the reminder's sent markers.
	RemoveReminder(ctx context.Context, tenderID string) error

	SentMarkers(ctx context.Context) (map[string]time.Time, error)
	AppendSentMarker(ctx context.Context, tenderID string, days int) error

	ReadEnabledSources(ctx context.Context) (map[tender.Source]bool, error)
	WriteEnabledSources(ctx context.Context, sources map[tender.Source]bool) error

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "postgresql", "pgx":
		return openPostgres(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}

// dedupeBatch drops in-batch duplicates (same conflict key) keeping the
// first occurrence, so one run cannot count the same listing twice.
func dedupeBatch(batch []tender.Tender) []tender.Tender {
	seen := make(map[string]struct{}, len(batch))
	out := batch[:0]
	for _, t := range batch {
		key := string(t.Source) + "\x00" + t.ID
		if t.SyntheticID {
			key = string(t.Source) + "\x00title\x00" + tender.NormalizeTitle(t.Title)
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	return out
}
