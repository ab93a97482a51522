package tracker

import (
	"context"
	"errors"
	"fmt"

	"github.com/AdeAdecodes/short/internal"
	"github.com/AdeAdecodes/short/internal/logger"
)

// VisitWriter is the slice of store.Store the recorder needs.
type VisitWriter interface {
	CreateVisit(ctx context.Context, visit *internal.Visit) error
	IncrementVisitCount(ctx context.Context, linkID int64) error
}

type Recorder struct {
	store VisitWriter
}

func NewRecorder(s VisitWriter) *Recorder {
	return &Recorder{store: s}
}

// Record inserts the visit and bumps the link's counter. The writes are
// independent: the increment is attempted even when the insert fails.
func (r *Recorder) Record(ctx context.Context, v *internal.Visit) error {
	log := logger.FromContext(ctx).With("link_id", v.ShortLinkID)

	var errs []error
	if err := r.store.CreateVisit(ctx, v); err != nil {
		log.Error("insert visit failed", "stage", "insert_visit", "err", err)
		errs = append(errs, fmt.Errorf("insert visit: %w", err))
	}
	if err := r.store.IncrementVisitCount(ctx, v.ShortLinkID); err != nil {
		log.Error("increment visit count failed", "stage", "increment_count", "err", err)
		errs = append(errs, fmt.Errorf("increment visit count: %w", err))
	}
	return errors.Join(errs...)
}
