package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"tenderwatch/internal/tender"
	"tenderwatch/pkg/logx"
)

//go:embed schema_sqlite.sql
var sqliteSchemaFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := sqliteSchemaFS.ReadFile("schema_sqlite.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) UpsertTenders(ctx context.Context, batch []tender.Tender) ([]tender.Tender, error) {
	batch = dedupeBatch(batch)
	if len(batch) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// Membership first, writes second: the new set must reflect the
	// state at the start of the call, not mid-batch.
	var fresh []tender.Tender
	isNew := make([]bool, len(batch))
	for i, t := range batch {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM tenders WHERE source = ? AND (id = ? OR (? AND normalized_title = ?))`,
			string(t.Source), t.ID, t.SyntheticID, tender.NormalizeTitle(t.Title),
		).Scan(&exists)
		if err != nil {
			return nil, err
		}
		isNew[i] = exists == 0
	}

	for i, t := range batch {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tenders(source, id, title, normalized_title, description, category, deadline, published,
			                     link, scraped_at, amount, location, buyer, notice_type, status, synthetic_id)
			 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			 ON CONFLICT(source, id) DO UPDATE SET
			   title=excluded.title, normalized_title=excluded.normalized_title,
			   description=excluded.description, category=excluded.category,
			   deadline=excluded.deadline, published=excluded.published,
			   link=excluded.link, scraped_at=excluded.scraped_at,
			   amount=excluded.amount, location=excluded.location,
			   buyer=excluded.buyer, notice_type=excluded.notice_type,
			   status=excluded.status`,
			string(t.Source), t.ID, t.Title, tender.NormalizeTitle(t.Title), t.Description, t.Category,
			nullTime(t.Deadline), nullTime(t.Published), t.Link, t.ScrapedAt.Format(time.RFC3339Nano),
			t.Amount, t.Location, t.Buyer, t.NoticeType, t.Status, t.SyntheticID,
		)
		if err != nil {
			return nil, err
		}
		if isNew[i] {
			fresh = append(fresh, t)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return fresh, nil
}

const tenderColumns = `source, id, title, description, category, deadline, published,
	link, scraped_at, amount, location, buyer, notice_type, status, synthetic_id`

func (s *sqliteStore) GetTenderByID(ctx context.Context, id string) (*tender.Tender, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tenderColumns+` FROM tenders WHERE id = ? LIMIT 1`, id)
	t, err := scanTenderSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanTenderSQLite(row rowScanner) (*tender.Tender, error) {
	var (
		t                            tender.Tender
		source                       string
		deadline, published, scraped sql.NullString
	)
	err := row.Scan(&source, &t.ID, &t.Title, &t.Description, &t.Category, &deadline, &published,
		&t.Link, &scraped, &t.Amount, &t.Location, &t.Buyer, &t.NoticeType, &t.Status, &t.SyntheticID)
	if err != nil {
		return nil, err
	}
	t.Source = tender.Source(source)
	t.Deadline = parseStoredTime(deadline)
	t.Published = parseStoredTime(published)
	if at := parseStoredTime(scraped); at != nil {
		t.ScrapedAt = *at
	}
	return &t, nil
}

func (s *sqliteStore) Reminders(ctx context.Context) ([]tender.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tender_id, days, created_at FROM reminders`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tender.Reminder
	for rows.Next() {
		var (
			r       tender.Reminder
			daysRaw string
			created string
		)
		if err := rows.Scan(&r.TenderID, &daysRaw, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(daysRaw), &r.Days); err != nil {
			return nil, fmt.Errorf("reminder %s: bad days payload: %w", r.TenderID, err)
		}
		if at := parseStoredTime(sql.NullString{String: created, Valid: true}); at != nil {
			r.CreatedAt = *at
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SetReminder(ctx context.Context, tenderID string, days []int) error {
	payload, err := json.Marshal(normalizeDays(days))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reminders(tender_id, days, created_at) VALUES(?,?,?)
		 ON CONFLICT(tender_id) DO UPDATE SET days=excluded.days`,
		tenderID, string(payload), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) RemoveReminder(ctx context.Context, tenderID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM reminders WHERE tender_id = ?`, tenderID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sent_markers WHERE tender_id = ?`, tenderID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) SentMarkers(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tender_id, days, sent_at FROM sent_markers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]time.Time{}
	for rows.Next() {
		var m tender.SentMarker
		var sent string
		if err := rows.Scan(&m.TenderID, &m.Days, &sent); err != nil {
			return nil, err
		}
		if at := parseStoredTime(sql.NullString{String: sent, Valid: true}); at != nil {
			out[m.Key()] = *at
		} else {
			out[m.Key()] = time.Time{}
		}
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendSentMarker(ctx context.Context, tenderID string, days int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sent_markers(tender_id, days, sent_at) VALUES(?,?,?)
		 ON CONFLICT(tender_id, days) DO NOTHING`,
		tenderID, days, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) ReadEnabledSources(ctx context.Context) (map[tender.Source]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source, enabled FROM enabled_sources`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[tender.Source]bool{}
	for rows.Next() {
		var src string
		var enabled bool
		if err := rows.Scan(&src, &enabled); err != nil {
			return nil, err
		}
		if s, ok := tender.ParseSource(src); ok {
			out[s] = enabled
		}
	}
	return out, rows.Err()
}

func (s *sqliteStore) WriteEnabledSources(ctx context.Context, sources map[tender.Source]bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for src, enabled := range sources {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO enabled_sources(source, enabled) VALUES(?,?)
			 ON CONFLICT(source) DO UPDATE SET enabled=excluded.enabled`,
			string(src), enabled,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseStoredTime(v sql.NullString) *time.Time {
	if !v.Valid || strings.TrimSpace(v.String) == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil
	}
	return &t
}

// normalizeDays sorts thresholds ascending and drops duplicates and
// non-positive values.
func normalizeDays(days []int) []int {
	seen := map[int]struct{}{}
	var out []int
	for _, d := range days {
		if d <= 0 {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	if out == nil {
		out = []int{}
	}
	return out
}
