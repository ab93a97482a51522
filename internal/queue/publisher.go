// Package queue carries visit events over RabbitMQ so the pipeline can run in
// a separate analytics worker.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/AdeAdecodes/short/internal"
	"github.com/AdeAdecodes/short/internal/logger"
	"github.com/AdeAdecodes/short/internal/tracker"
)

// declare makes sure the durable queue exists before anyone uses it.
func declare(ch *amqp091.Channel, queue string) error {
	_, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	)
	return err
}

// Publisher re-dials lazily: a closed connection or channel is replaced on
// the next Publish, so a broker restart costs at most the events published
// while it was down.
type Publisher struct {
	mu    sync.Mutex
	url   string
	conn  *amqp091.Connection
	ch    *amqp091.Channel
	queue string
}

// Dial connects, opens a channel and declares queue.
func Dial(url, queue string) (*Publisher, error) {
	p := &Publisher{url: url, queue: queue}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

// connect must be called with p.mu held.
func (p *Publisher) connect() error {
	conn, err := amqp091.Dial(p.url)
	if err != nil {
		return fmt.Errorf("%w: rabbitmq dial: %v", internal.ErrDependencyUnavailable, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("%w: rabbitmq channel: %v", internal.ErrDependencyUnavailable, err)
	}
	if err := declare(ch, p.queue); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("%w: declare queue %q: %v", internal.ErrDependencyUnavailable, p.queue, err)
	}

	closed := conn.NotifyClose(make(chan *amqp091.Error, 1))
	go func() {
		if err, ok := <-closed; ok && err != nil {
			logger.Default().Warn("rabbitmq publisher connection closed", "queue", p.queue, "err", err)
		}
	}()

	p.conn, p.ch = conn, ch
	return nil
}

// ready must be called with p.mu held.
func (p *Publisher) ready() error {
	if p.conn != nil && !p.conn.IsClosed() && p.ch != nil && !p.ch.IsClosed() {
		return nil
	}
	p.reset()
	return p.connect()
}

// reset must be called with p.mu held.
func (p *Publisher) reset() {
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
	p.conn, p.ch = nil, nil
}

// Publish sends ev as a persistent JSON message. It has the tracker.Handler
// signature so a pool can forward events to the broker. A publish on a
// connection that died since the last call is retried once on a fresh one.
func (p *Publisher) Publish(ctx context.Context, ev tracker.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode visit event: %w", err)
	}

	msg := amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		MessageId:     uuid.NewString(),
		CorrelationId: ev.RequestID,
		Timestamp:     ev.VisitedAt,
		Body:          body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for attempt := 1; ; attempt++ {
		if err := p.ready(); err != nil {
			return err
		}
		err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, msg)
		if err == nil {
			break
		}
		if !errors.Is(err, amqp091.ErrClosed) || attempt == 2 {
			return fmt.Errorf("%w: publish visit event: %v", internal.ErrDependencyUnavailable, err)
		}
		logger.FromContext(ctx).Warn("rabbitmq channel closed, reconnecting", "queue", p.queue)
		p.reset()
	}
	logger.FromContext(ctx).Debug("visit event published", "code", ev.Code, "message_id", msg.MessageId)
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn, p.ch = nil, nil
	if errors.Is(err, amqp091.ErrClosed) {
		return nil
	}
	return err
}
