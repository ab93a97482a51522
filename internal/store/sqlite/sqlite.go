// Package sqlite stores links in a local SQLite file through modernc.org/sqlite,
// or in a remote libsql/Turso database when the DSN says so.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"

	"github.com/AdeAdecodes/short/internal"
	"github.com/AdeAdecodes/short/internal/store"
)

type Store struct {
	db *sql.DB
}

// Times are stored as unix nanoseconds so both drivers round-trip them exactly.
const schema = `
CREATE TABLE IF NOT EXISTS short_links (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	code TEXT NOT NULL UNIQUE,
	long_url TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	visit_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_short_links_long_url ON short_links(long_url);

CREATE TABLE IF NOT EXISTS visits (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	short_link_id INTEGER NOT NULL,
	client_address TEXT,
	client_signature TEXT,
	referrer TEXT,
	location TEXT,
	device_type TEXT NOT NULL,
	browser TEXT NOT NULL,
	operating_system TEXT NOT NULL,
	visited_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_visits_short_link_id ON visits(short_link_id);
`

// DriverName picks libsql for remote DSNs and modernc's sqlite otherwise.
func DriverName(dsn string) string {
	if strings.Contains(dsn, "libsql://") || strings.Contains(dsn, "wss://") {
		return "libsql"
	}
	return "sqlite"
}

func Open(ctx context.Context, dsn string) (*Store, error) {
	driver := DriverName(dsn)
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == "sqlite" {
		// One writer at a time; also keeps ":memory:" databases alive.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	if driver == "sqlite" {
		if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set busy timeout: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) findLink(ctx context.Context, where string, arg any) (*internal.ShortLink, error) {
	q := `SELECT id, code, long_url, created_at, visit_count FROM short_links WHERE ` + where + ` ORDER BY id ASC LIMIT 1`

	var (
		l       internal.ShortLink
		created int64
	)
	err := s.db.QueryRowContext(ctx, q, arg).Scan(&l.ID, &l.Code, &l.LongURL, &created, &l.VisitCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, internal.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", internal.ErrStoreFailure, err)
	}
	l.CreatedAt = time.Unix(0, created).UTC()
	return &l, nil
}

func (s *Store) FindByCode(ctx context.Context, code string) (*internal.ShortLink, error) {
	return s.findLink(ctx, "code = ?", code)
}

func (s *Store) FindByLongURL(ctx context.Context, longURL string) (*internal.ShortLink, error) {
	return s.findLink(ctx, "long_url = ?", longURL)
}

func (s *Store) CreateLink(ctx context.Context, link *internal.ShortLink) error {
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO short_links (code, long_url, created_at, visit_count) VALUES (?, ?, ?, ?)`,
		link.Code, link.LongURL, link.CreatedAt.UnixNano(), link.VisitCount)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create link %q: %w", link.Code, internal.ErrCodeConflict)
		}
		return fmt.Errorf("%w: create link: %v", internal.ErrStoreFailure, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("%w: create link id: %v", internal.ErrStoreFailure, err)
	}
	link.ID = id
	return nil
}

func (s *Store) ListLinks(ctx context.Context) ([]internal.ShortLink, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, code, long_url, created_at, visit_count FROM short_links ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("%w: list links: %v", internal.ErrStoreFailure, err)
	}
	defer rows.Close()

	var links []internal.ShortLink
	for rows.Next() {
		var (
			l       internal.ShortLink
			created int64
		)
		if err := rows.Scan(&l.ID, &l.Code, &l.LongURL, &created, &l.VisitCount); err != nil {
			return nil, fmt.Errorf("%w: scan link: %v", internal.ErrStoreFailure, err)
		}
		l.CreatedAt = time.Unix(0, created).UTC()
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list links: %v", internal.ErrStoreFailure, err)
	}
	return links, nil
}

func (s *Store) CreateVisit(ctx context.Context, v *internal.Visit) error {
	if v.VisitedAt.IsZero() {
		v.VisitedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO visits (short_link_id, client_address, client_signature, referrer, location, device_type, browser, operating_system, visited_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ShortLinkID, v.ClientAddress, v.ClientSignature, nullable(v.Referrer), nullable(v.Location),
		v.DeviceType, v.Browser, v.OperatingSystem, v.VisitedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("%w: create visit: %v", internal.ErrStoreFailure, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("%w: create visit id: %v", internal.ErrStoreFailure, err)
	}
	v.ID = id
	return nil
}

func (s *Store) IncrementVisitCount(ctx context.Context, linkID int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE short_links SET visit_count = visit_count + 1 WHERE id = ?`, linkID)
	if err != nil {
		return fmt.Errorf("%w: increment visit count: %v", internal.ErrStoreFailure, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: increment visit count: %v", internal.ErrStoreFailure, err)
	}
	if n == 0 {
		return fmt.Errorf("increment visit count for link %d: %w", linkID, internal.ErrNotFound)
	}
	return nil
}

func (s *Store) VisitSummary(ctx context.Context, linkID int64) (internal.VisitSummary, error) {
	var (
		sum  internal.VisitSummary
		last sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MAX(visited_at) FROM visits WHERE short_link_id = ?`, linkID).Scan(&sum.Count, &last)
	if err != nil {
		return sum, fmt.Errorf("%w: visit summary: %v", internal.ErrStoreFailure, err)
	}
	if last.Valid {
		t := time.Unix(0, last.Int64).UTC()
		sum.LastAccessed = &t
	}
	return sum, nil
}

func (s *Store) CountVisitsBy(ctx context.Context, linkID int64, dim internal.Dimension, limit int) ([]internal.GroupCount, error) {
	q, err := store.GroupCountQuery(dim, limit)
	if err != nil {
		return nil, err
	}
	args := []any{linkID}
	if limit > 0 {
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: count visits by %s: %v", internal.ErrStoreFailure, dim, err)
	}
	defer rows.Close()

	groups := []internal.GroupCount{}
	for rows.Next() {
		var (
			g       = internal.GroupCount{Dimension: dim}
			firstID int64
		)
		if err := rows.Scan(&g.Value, &g.Count, &firstID); err != nil {
			return nil, fmt.Errorf("%w: scan group: %v", internal.ErrStoreFailure, err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: count visits by %s: %v", internal.ErrStoreFailure, dim, err)
	}
	return groups, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func nullable(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ store.Store = (*Store)(nil)
