// Package postgres is the durable store backed by gorm and PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/AdeAdecodes/short/internal"
	"github.com/AdeAdecodes/short/internal/store"
)

type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Logger          gormlogger.Interface
}

type Store struct {
	db *gorm.DB
}

// Open connects, sizes the pool and migrates the schema.
func Open(ctx context.Context, dsn string, opts Options) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         opts.Logger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&internal.ShortLink{}, &internal.Visit{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) first(ctx context.Context, query string, arg any) (*internal.ShortLink, error) {
	var l internal.ShortLink
	err := s.db.WithContext(ctx).Where(query, arg).First(&l).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, internal.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", internal.ErrStoreFailure, err)
	}
	return &l, nil
}

func (s *Store) FindByCode(ctx context.Context, code string) (*internal.ShortLink, error) {
	return s.first(ctx, "code = ?", code)
}

func (s *Store) FindByLongURL(ctx context.Context, longURL string) (*internal.ShortLink, error) {
	return s.first(ctx, "long_url = ?", longURL)
}

func (s *Store) CreateLink(ctx context.Context, link *internal.ShortLink) error {
	err := s.db.WithContext(ctx).Create(link).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("create link %q: %w", link.Code, internal.ErrCodeConflict)
	}
	if err != nil {
		return fmt.Errorf("%w: create link: %v", internal.ErrStoreFailure, err)
	}
	return nil
}

func (s *Store) ListLinks(ctx context.Context) ([]internal.ShortLink, error) {
	var links []internal.ShortLink
	if err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&links).Error; err != nil {
		return nil, fmt.Errorf("%w: list links: %v", internal.ErrStoreFailure, err)
	}
	return links, nil
}

func (s *Store) CreateVisit(ctx context.Context, v *internal.Visit) error {
	if v.VisitedAt.IsZero() {
		v.VisitedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(v).Error; err != nil {
		return fmt.Errorf("%w: create visit: %v", internal.ErrStoreFailure, err)
	}
	return nil
}

func (s *Store) IncrementVisitCount(ctx context.Context, linkID int64) error {
	res := s.db.WithContext(ctx).
		Model(&internal.ShortLink{}).
		Where("id = ?", linkID).
		UpdateColumn("visit_count", gorm.Expr("visit_count + ?", 1))
	if res.Error != nil {
		return fmt.Errorf("%w: increment visit count: %v", internal.ErrStoreFailure, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("increment visit count for link %d: %w", linkID, internal.ErrNotFound)
	}
	return nil
}

func (s *Store) VisitSummary(ctx context.Context, linkID int64) (internal.VisitSummary, error) {
	var (
		sum  internal.VisitSummary
		last sql.NullTime
	)
	row := s.db.WithContext(ctx).
		Raw("SELECT COUNT(*), MAX(visited_at) FROM visits WHERE short_link_id = ?", linkID).
		Row()
	if err := row.Scan(&sum.Count, &last); err != nil {
		return sum, fmt.Errorf("%w: visit summary: %v", internal.ErrStoreFailure, err)
	}
	if last.Valid {
		t := last.Time.UTC()
		sum.LastAccessed = &t
	}
	return sum, nil
}

type groupRow struct {
	Value   string
	Count   int64
	FirstID int64
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

	var rows []groupRow
	if err := s.db.WithContext(ctx).Raw(q, args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: count visits by %s: %v", internal.ErrStoreFailure, dim, err)
	}
	groups := make([]internal.GroupCount, 0, len(rows))
	for _, r := range rows {
		groups = append(groups, internal.GroupCount{Dimension: dim, Value: r.Value, Count: r.Count})
	}
	return groups, nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ store.Store = (*Store)(nil)
