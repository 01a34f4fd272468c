package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// DefaultNotificationsQueue is the durable queue the consumer binds to the
// events exchange.
const DefaultNotificationsQueue = "queue.notifications"

// Handler processes one decoded event.  Returning an error rejects the
// message without requeueing it.
type Handler func(ctx context.Context, ev Event) error

// Consumer binds a durable queue to the events exchange with the "#" routing
// key and feeds every message to its handlers.
type Consumer struct {
	URL       string
	Exchange  string
	QueueName string
	Handlers  []Handler
	Log       *logrus.Logger
}

// Run consumes until ctx is cancelled, redialing the broker with exponential
// backoff (1s doubling up to 30s) whenever the connection drops.
func (c *Consumer) Run(ctx context.Context) error {
	name := c.QueueName
	if name == "" {
		name = DefaultNotificationsQueue
	}
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.URL)
		if err != nil {
			c.Log.WithError(err).WithField("retry_in", backoff).Warn("event consumer: dial failed")
			if !wait(ctx, backoff) {
				return nil
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn, name)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		c.Log.WithError(err).Warn("event consumer: consume loop ended, reconnecting")
		if !wait(ctx, 2*time.Second) {
			return nil
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection, name string) error {
	ch, err := conn.Channel()
	if err != nil {
		return errors.Wrap(err, "channel open")
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.Log.WithError(err).Warn("event consumer: set QoS failed")
	}
	if err := ch.ExchangeDeclare(c.Exchange, "topic", true, false, false, false, nil); err != nil {
		return errors.Wrap(err, "exchange declare")
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return errors.Wrap(err, "queue declare")
	}
	if err := ch.QueueBind(name, "#", c.Exchange, false, nil); err != nil {
		return errors.Wrap(err, "queue bind")
	}
	msgs, err := ch.Consume(name, "", false, false, false, false, nil)
	if err != nil {
		return errors.Wrap(err, "queue consume")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.Handle(ctx, d.Body); err != nil {
				c.Log.WithError(err).Warn("event consumer: handle message failed")
				_ = d.Nack(false, false) // no requeue, avoids a tight redelivery loop
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Handle decodes body and runs every handler on it.  All handlers run even
// when one fails; the first error is returned.
func (c *Consumer) Handle(ctx context.Context, body []byte) error {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return errors.Wrap(err, "unmarshal event")
	}
	var first error
	for _, h := range c.Handlers {
		if err := h(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// FileLog appends one line per event to a log file, creating its directory
// on first use.
type FileLog struct {
	Path string
	mu   sync.Mutex
}

// Handle implements Handler.
func (f *FileLog) Handle(_ context.Context, ev Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return errors.Wrap(err, "mkdir logs")
	}
	file, err := os.OpenFile(f.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "open log file")
	}
	defer file.Close()

	line := fmt.Sprintf("[%s] %s | queue_id=%d | entry_id=%d | customer_id=%d | position=%d | previous=%d | waiting=%d\n",
		ev.OccurredAt.Format(time.RFC3339), ev.Kind, ev.QueueID, ev.EntryID, ev.CustomerID, ev.Position, ev.PreviousPosition, ev.Waiting)
	if _, err := file.WriteString(line); err != nil {
		return errors.Wrap(err, "write log")
	}
	return nil
}
