package storage

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tenderwatch/internal/tender"
	"tenderwatch/pkg/logx"
)

//go:embed schema_postgres.sql
var pgSchemaFS embed.FS

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pool, err := pgxpool.New(context.Background(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	st := &postgresStore{pool: pool, log: log}
	if err := st.migrate(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	return st, nil
}

func (s *postgresStore) migrate(ctx context.Context) error {
	b, err := pgSchemaFS.ReadFile("schema_postgres.sql")
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, string(b))
	return err
}

func (s *postgresStore) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *postgresStore) UpsertTenders(ctx context.Context, batch []tender.Tender) ([]tender.Tender, error) {
	batch = dedupeBatch(batch)
	if len(batch) == 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var fresh []tender.Tender
	isNew := make([]bool, len(batch))
	for i, t := range batch {
		var exists int
		err := tx.QueryRow(ctx,
			`SELECT COUNT(1) FROM tenders WHERE source = $1 AND (id = $2 OR ($3 AND normalized_title = $4))`,
			string(t.Source), t.ID, t.SyntheticID, tender.NormalizeTitle(t.Title),
		).Scan(&exists)
		if err != nil {
			return nil, err
		}
		isNew[i] = exists == 0
	}

	for i, t := range batch {
		_, err := tx.Exec(ctx,
			`INSERT INTO tenders(source, id, title, normalized_title, description, category, deadline, published,
			                     link, scraped_at, amount, location, buyer, notice_type, status, synthetic_id)
			 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
			 ON CONFLICT(source, id) DO UPDATE SET
			   title=excluded.title, normalized_title=excluded.normalized_title,
			   description=excluded.description, category=excluded.category,
			   deadline=excluded.deadline, published=excluded.published,
			   link=excluded.link, scraped_at=excluded.scraped_at,
			   amount=excluded.amount, location=excluded.location,
			   buyer=excluded.buyer, notice_type=excluded.notice_type,
			   status=excluded.status`,
			string(t.Source), t.ID, t.Title, tender.NormalizeTitle(t.Title), t.Description, t.Category,
			t.Deadline, t.Published, t.Link, t.ScrapedAt, t.Amount, t.Location, t.Buyer,
			t.NoticeType, t.Status, t.SyntheticID,
		)
		if err != nil {
			return nil, err
		}
		if isNew[i] {
			fresh = append(fresh, t)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return fresh, nil
}

func (s *postgresStore) GetTenderByID(ctx context.Context, id string) (*tender.Tender, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT source, id, title, description, category, deadline, published,
		        link, scraped_at, amount, location, buyer, notice_type, status, synthetic_id
		 FROM tenders WHERE id = $1 LIMIT 1`, id)

	var t tender.Tender
	var source string
	err := row.Scan(&source, &t.ID, &t.Title, &t.Description, &t.Category, &t.Deadline, &t.Published,
		&t.Link, &t.ScrapedAt, &t.Amount, &t.Location, &t.Buyer, &t.NoticeType, &t.Status, &t.SyntheticID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.Source = tender.Source(source)
	return &t, nil
}

func (s *postgresStore) Reminders(ctx context.Context) ([]tender.Reminder, error) {
	rows, err := s.pool.Query(ctx, `SELECT tender_id, days, created_at FROM reminders`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tender.Reminder
	for rows.Next() {
		var r tender.Reminder
		var daysRaw []byte
		if err := rows.Scan(&r.TenderID, &daysRaw, &r.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(daysRaw, &r.Days); err != nil {
			return nil, fmt.Errorf("reminder %s: bad days payload: %w", r.TenderID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *postgresStore) SetReminder(ctx context.Context, tenderID string, days []int) error {
	payload, err := json.Marshal(normalizeDays(days))
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO reminders(tender_id, days, created_at) VALUES($1,$2,$3)
		 ON CONFLICT(tender_id) DO UPDATE SET days=excluded.days`,
		tenderID, payload, time.Now().UTC(),
	)
	return err
}

func (s *postgresStore) RemoveReminder(ctx context.Context, tenderID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if _, err := tx.Exec(ctx, `DELETE FROM reminders WHERE tender_id = $1`, tenderID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM sent_markers WHERE tender_id = $1`, tenderID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *postgresStore) SentMarkers(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.pool.Query(ctx, `SELECT tender_id, days, sent_at FROM sent_markers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]time.Time{}
	for rows.Next() {
		var m tender.SentMarker
		if err := rows.Scan(&m.TenderID, &m.Days, &m.SentAt); err != nil {
			return nil, err
		}
		out[m.Key()] = m.SentAt
	}
	return out, rows.Err()
}

func (s *postgresStore) AppendSentMarker(ctx context.Context, tenderID string, days int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sent_markers(tender_id, days, sent_at) VALUES($1,$2,$3)
		 ON CONFLICT(tender_id, days) DO NOTHING`,
		tenderID, days, time.Now().UTC(),
	)
	return err
}

func (s *postgresStore) ReadEnabledSources(ctx context.Context) (map[tender.Source]bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT source, enabled FROM enabled_sources`)
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

func (s *postgresStore) WriteEnabledSources(ctx context.Context, sources map[tender.Source]bool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	for src, enabled := range sources {
		if _, err := tx.Exec(ctx,
			`INSERT INTO enabled_sources(source, enabled) VALUES($1,$2)
			 ON CONFLICT(source) DO UPDATE SET enabled=excluded.enabled`,
			string(src), enabled,
		); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
