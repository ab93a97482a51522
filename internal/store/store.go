// Package store defines the persistence contract for short links and their
// visits, plus an in-process implementation.
package store

import (
	"context"

	"github.com/AdeAdecodes/short/internal"
)

// Store is implemented by every persistence engine. Lookups that find nothing
// return internal.ErrNotFound; CreateLink returns internal.ErrCodeConflict when
// the code is taken. All methods are safe for concurrent use.
type Store interface {
	FindByCode(ctx context.Context, code string) (*internal.ShortLink, error)
	// FindByLongURL matches the URL byte for byte and returns the oldest link.
	FindByLongURL(ctx context.Context, longURL string) (*internal.ShortLink, error)
	// CreateLink assigns ID and, when zero, CreatedAt.
	CreateLink(ctx context.Context, link *internal.ShortLink) error
	// ListLinks returns every link, newest first.
	ListLinks(ctx context.Context) ([]internal.ShortLink, error)

	// CreateVisit assigns ID. Distinct visits never conflict.
	CreateVisit(ctx context.Context, visit *internal.Visit) error
	// IncrementVisitCount is an atomic visit_count + 1.
	IncrementVisitCount(ctx context.Context, linkID int64) error
	VisitSummary(ctx context.Context, linkID int64) (internal.VisitSummary, error)
	// CountVisitsBy groups the link's visits by dim, skipping NULL and empty
	// values, ordered by count descending and then by first appearance.
	// limit <= 0 returns every group.
	CountVisitsBy(ctx context.Context, linkID int64, dim internal.Dimension, limit int) ([]internal.GroupCount, error)

	Ping(ctx context.Context) error
	Close() error
}
