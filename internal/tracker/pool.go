package tracker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AdeAdecodes/short/internal/logger"
	"github.com/AdeAdecodes/short/internal/metrics"
)

// Handler processes one event. Errors are logged by the pool and never retried.
type Handler func(ctx context.Context, ev Event) error

// Pool is a fixed set of workers reading from a bounded queue. Submit never
// blocks: a full queue drops the event. Serve runs until its context is
// cancelled and then drains what is left for at most the drain timeout.
type Pool struct {
	name         string
	workers      int
	drainTimeout time.Duration
	queue        chan Event
	handle       Handler
	pending      atomic.Int64
}

func NewPool(name string, workers, queueSize int, drainTimeout time.Duration, handle Handler) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Pool{
		name:         name,
		workers:      workers,
		drainTimeout: drainTimeout,
		queue:        make(chan Event, queueSize),
		handle:       handle,
	}
}

func (p *Pool) Submit(ev Event) bool {
	p.pending.Add(1)
	select {
	case p.queue <- ev:
		metrics.TrackingQueueDepth.Set(float64(len(p.queue)))
		return true
	default:
		p.pending.Add(-1)
		metrics.RecordVisitEvent("dropped")
		logger.Default().Warn("tracking queue full, visit dropped", "pool", p.name, "code", ev.Code, "link_id", ev.LinkID)
		return false
	}
}

// Pending counts events accepted but not yet handled.
func (p *Pool) Pending() int64 {
	return p.pending.Load()
}

func (p *Pool) Serve(ctx context.Context) error {
	// Handlers outlive ctx so an event that was already dequeued completes.
	workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev := <-p.queue:
					p.run(workCtx, ev)
				}
			}
		}()
	}
	wg.Wait()

	p.drain(workCtx)
	return ctx.Err()
}

func (p *Pool) drain(parent context.Context) {
	if p.drainTimeout <= 0 {
		p.discardRemaining()
		return
	}
	ctx, cancel := context.WithTimeout(parent, p.drainTimeout)
	defer cancel()

	for {
		if ctx.Err() != nil {
			p.discardRemaining()
			return
		}
		select {
		case ev := <-p.queue:
			p.run(ctx, ev)
		default:
			return
		}
	}
}

func (p *Pool) discardRemaining() {
	n := 0
	for {
		select {
		case <-p.queue:
			n++
			p.pending.Add(-1)
			metrics.RecordVisitEvent("dropped")
		default:
			if n > 0 {
				logger.Default().Warn("tracking queue not drained before shutdown", "pool", p.name, "dropped", n)
			}
			return
		}
	}
}

func (p *Pool) run(ctx context.Context, ev Event) {
	defer p.pending.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordVisitEvent("failed")
			logger.FromContext(ctx).Error("visit handler panicked", "pool", p.name, "code", ev.Code, "panic", fmt.Sprint(r))
		}
	}()
	metrics.TrackingQueueDepth.Set(float64(len(p.queue)))

	if err := p.handle(ctx, ev); err != nil {
		logger.FromContext(ctx).Error("visit pipeline failed", "pool", p.name, "code", ev.Code, "link_id", ev.LinkID, "err", err)
	}
}

func (p *Pool) String() string { return "tracking-pool:" + p.name }

var _ Sink = (*Pool)(nil)
