package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rabbitmq/amqp091-go"

	"github.com/AdeAdecodes/short/internal"
	"github.com/AdeAdecodes/short/internal/logger"
	"github.com/AdeAdecodes/short/internal/metrics"
	"github.com/AdeAdecodes/short/internal/tracker"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 2 * time.Second
)

var errDeliveriesClosed = errors.New("rabbitmq delivery channel closed")

type ConsumerOptions struct {
	URL      string
	Queue    string
	Prefetch int
	// BatchSize and FlushInterval bound how long a delivery waits unacked.
	BatchSize     int
	FlushInterval time.Duration
}

// Consumer reads visit events from the queue in batches and hands each one
// to the pipeline. Deliveries are acked once handled, including when the
// handler failed; malformed bodies are rejected without requeue.
type Consumer struct {
	opts   ConsumerOptions
	handle tracker.Handler
}

func NewConsumer(opts ConsumerOptions, handle tracker.Handler) *Consumer {
	if opts.Prefetch <= 0 {
		opts.Prefetch = defaultBatchSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = opts.Prefetch
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultFlushInterval
	}
	return &Consumer{opts: opts, handle: handle}
}

// Serve connects and consumes until ctx is cancelled or the broker goes
// away. A lost connection is returned as an error so the supervisor restarts it.
func (c *Consumer) Serve(ctx context.Context) error {
	conn, err := amqp091.Dial(c.opts.URL)
	if err != nil {
		return fmt.Errorf("%w: rabbitmq dial: %v", internal.ErrDependencyUnavailable, err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("%w: rabbitmq channel: %v", internal.ErrDependencyUnavailable, err)
	}
	defer ch.Close()

	if err := declare(ch, c.opts.Queue); err != nil {
		return fmt.Errorf("declare queue %q: %w", c.opts.Queue, err)
	}
	if err := ch.Qos(c.opts.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	msgs, err := ch.ConsumeWithContext(ctx, c.opts.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	logger.Default().Info("analytics consumer started", "queue", c.opts.Queue, "prefetch", c.opts.Prefetch)
	return c.consume(ctx, msgs)
}

func (c *Consumer) consume(ctx context.Context, msgs <-chan amqp091.Delivery) error {
	batch := make([]pending, 0, c.opts.BatchSize)
	ticker := time.NewTicker(c.opts.FlushInterval)
	defer ticker.Stop()

	// Anything already decoded is handled before returning.
	flush := func() {
		if len(batch) == 0 {
			return
		}
		c.processBatch(context.WithoutCancel(ctx), batch)
		batch = batch[:0]
	}
	defer flush()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errDeliveriesClosed
			}
			ev, ok := decode(d)
			if !ok {
				continue
			}
			batch = append(batch, pending{ev: ev, delivery: d})
			if len(batch) >= c.opts.BatchSize {
				flush()
				ticker.Reset(c.opts.FlushInterval)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				logger.Default().Debug("timer flush", "count", len(batch))
			}
			flush()
		}
	}
}

type pending struct {
	ev       tracker.Event
	delivery amqp091.Delivery
}

func decode(d amqp091.Delivery) (tracker.Event, bool) {
	var ev tracker.Event
	if err := json.Unmarshal(d.Body, &ev); err != nil || ev.LinkID == 0 {
		if err == nil {
			err = errors.New("missing link_id")
		}
		logger.Default().Error("malformed visit event, rejecting", "message_id", d.MessageId, "err", err)
		metrics.RecordVisitEvent("rejected")
		if rerr := d.Reject(false); rerr != nil {
			logger.Default().Error("reject failed", "message_id", d.MessageId, "err", rerr)
		}
		return ev, false
	}
	return ev, true
}

func (c *Consumer) processBatch(ctx context.Context, batch []pending) {
	failed := 0
	for _, p := range batch {
		if err := c.handle(ctx, p.ev); err != nil {
			failed++
			logger.FromContext(ctx).Error("visit event failed", "code", p.ev.Code, "link_id", p.ev.LinkID, "err", err)
		}
		if err := p.delivery.Ack(false); err != nil {
			logger.FromContext(ctx).Error("ack failed", "message_id", p.delivery.MessageId, "err", err)
		}
	}
	logger.FromContext(ctx).Info("processed visit batch", "count", len(batch), "failed", failed)
}

func (c *Consumer) String() string { return "amqp-consumer:" + c.opts.Queue }
