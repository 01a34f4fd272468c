package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/virtual-queue/internal/queue"
)

// Sink delivers one event.
type Sink interface {
	Name() string
	Send(ctx context.Context, ev queue.Event) error
}

// Dispatcher buffers events and hands them to every sink from a background
// worker.  Notify never blocks: when the buffer is full the event is dropped
// and a warning is logged.
type Dispatcher struct {
	sinks   []Sink
	events  chan queue.Event
	timeout time.Duration
	log     *logrus.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewDispatcher returns a dispatcher with room for buffer pending events.
// Each delivery is bounded by timeout.
func NewDispatcher(log *logrus.Logger, buffer int, timeout time.Duration, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		sinks:   sinks,
		events:  make(chan queue.Event, buffer),
		timeout: timeout,
		log:     log,
		done:    make(chan struct{}),
	}
}

// Notify enqueues ev for delivery.
func (d *Dispatcher) Notify(ev queue.Event) {
	select {
	case <-d.done:
		return
	default:
	}
	select {
	case d.events <- ev:
	default:
		d.log.WithFields(logrus.Fields{"kind": ev.Kind, "queue_id": ev.QueueID}).Warn("notification buffer full, event dropped")
	}
}

// Run delivers events until ctx is cancelled, then drains what is already
// buffered and returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.closeOnce.Do(func() { close(d.done) })
	for {
		select {
		case ev := <-d.events:
			d.deliver(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-d.events:
					d.deliver(ev)
				default:
					return nil
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(ev queue.Event) {
	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := s.Send(ctx, ev)
		cancel()
		if err != nil {
			d.log.WithError(err).WithFields(logrus.Fields{
				"sink": s.Name(), "kind": ev.Kind, "queue_id": ev.QueueID,
			}).Warn("notification delivery failed")
		}
	}
}

// LogSink writes every event to the logger.
type LogSink struct{ Log *logrus.Logger }

// Name implements Sink.
func (LogSink) Name() string { return "log" }

// Send implements Sink.
func (s LogSink) Send(_ context.Context, ev queue.Event) error {
	s.Log.WithFields(logrus.Fields{
		"kind":        ev.Kind,
		"queue_id":    ev.QueueID,
		"entry_id":    ev.EntryID,
		"customer_id": ev.CustomerID,
		"position":    ev.Position,
		"waiting":     ev.Waiting,
	}).Info("queue event")
	return nil
}
