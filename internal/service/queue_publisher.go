// Package service contains the notification side of the engine: the
// asynchronous dispatcher the engine hands events to and the sinks that
// deliver them.  Delivery is best effort; failures are logged and dropped so
// they never reach the request that caused the event.
package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/virtual-queue/internal/queue"
)

// Publisher publishes queue events to a RabbitMQ topic exchange, using the
// event kind as routing key.  The connection is opened lazily and reopened
// after a failure.
type Publisher struct {
	url      string
	exchange string
	log      *logrus.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher returns a publisher for the exchange at url.  No connection is
// made until the first Send.
func NewPublisher(url, exchange string, log *logrus.Logger) *Publisher {
	return &Publisher{url: url, exchange: exchange, log: log}
}

// channel returns an open channel, dialing and declaring the exchange when
// needed.  The caller holds p.mu.
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.closeLocked()
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, errors.Wrap(err, "dial rabbitmq")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "open channel")
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, errors.Wrap(err, "declare exchange")
	}
	p.conn, p.ch = conn, ch
	p.log.WithField("exchange", p.exchange).Info("rabbitmq publisher connected")
	return ch, nil
}

// Send publishes ev as a persistent JSON message.
func (p *Publisher) Send(ctx context.Context, ev queue.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channel()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, p.exchange, string(ev.Kind), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		p.closeLocked()
		return errors.Wrap(err, "publish event")
	}
	return nil
}

// Name implements Sink.
func (p *Publisher) Name() string { return "rabbitmq" }

// Close releases the broker connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked()
}

func (p *Publisher) closeLocked() error {
	var err error
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		err = p.conn.Close()
		p.conn = nil
	}
	return err
}
