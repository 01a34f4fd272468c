// Package engine implements the queue ordering and call engine: joining,
// calling the next customer, leaving and renumbering.  Every mutation runs
// in one store transaction guarded by the queue's version counter and is
// re-run from scratch when another writer changed the queue first.
package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/virtual-queue/internal/access"
	"github.com/iliyamo/virtual-queue/internal/model"
	"github.com/iliyamo/virtual-queue/internal/queue"
)

const (
	defaultAttempts = 8
	defaultInitial  = 5 * time.Millisecond
	defaultMax      = 200 * time.Millisecond
)

// Engine serializes mutations per queue and emits notifications after
// commit.  It is safe for concurrent use.
type Engine struct {
	store    Store
	notifier Notifier
	resolver Resolver
	backoff  Backoff
	attempts int
	now      func() time.Time
	log      *logrus.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier sets the sink that receives committed events.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithResolver sets the token resolver used by JoinByToken.
func WithResolver(r Resolver) Option { return func(e *Engine) { e.resolver = r } }

// WithRetry sets how many times a conflicting mutation is attempted and how
// long to wait between attempts.
func WithRetry(attempts int, b Backoff) Option {
	return func(e *Engine) {
		if attempts > 0 {
			e.attempts = attempts
		}
		if b != nil {
			e.backoff = b
		}
	}
}

// WithClock overrides the source of entry timestamps.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithLogger sets the logger.
func WithLogger(l *logrus.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// New builds an Engine on top of store.
func New(store Store, opts ...Option) *Engine {
	if store == nil {
		panic("nil store passed to engine.New")
	}
	e := &Engine{
		store:    store,
		notifier: discard{},
		backoff:  Jittered{Initial: defaultInitial, Max: defaultMax},
		attempts: defaultAttempts,
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type discard struct{}

func (discard) Notify(queue.Event) {}

// Join places customer in the queue with class p and returns the new entry.
// It fails with model.ErrNotFound for an unknown queue, model.ErrAccessDenied
// when the customer owns or staffs the establishment and
// model.ErrDuplicateEntry when the customer is already waiting there.
func (e *Engine) Join(ctx context.Context, queueID uint64, customer model.User, p model.Priority) (model.Entry, error) {
	if p != model.PriorityHigh && p != model.PriorityNormal {
		return model.Entry{}, errors.Errorf("invalid priority %d", p)
	}
	var (
		entry   model.Entry
		changes []PositionChange
		waiting int
	)
	err := e.mutate(ctx, "join", queueID, func(tx Tx) error {
		q, est, err := loadQueue(ctx, tx, queueID)
		if err != nil {
			return err
		}
		if err := access.RequireJoin(customer, q, est); err != nil {
			return err
		}
		dup, err := tx.HasWaiting(ctx, queueID, customer.ID)
		if err != nil {
			return errors.Wrap(err, "look up waiting entry")
		}
		if dup {
			return errors.Wrapf(model.ErrDuplicateEntry, "customer %d in queue %d", customer.ID, queueID)
		}
		counts, err := Counts(ctx, tx, queueID)
		if err != nil {
			return err
		}
		entry = model.Entry{
			QueueID:    queueID,
			CustomerID: customer.ID,
			Position:   NextPosition(counts, p),
			Status:     model.StatusWaiting,
			Priority:   p,
			EnteredAt:  e.now(),
		}
		if err := tx.InsertEntry(ctx, &entry); err != nil {
			return errors.Wrap(err, "insert entry")
		}
		changes, waiting, err = renumberTx(ctx, tx, queueID)
		if err != nil {
			return err
		}
		for _, c := range changes {
			if c.EntryID == entry.ID {
				entry.Position = c.To
			}
		}
		return tx.BumpVersion(ctx, queueID, q.Version)
	})
	if err != nil {
		return model.Entry{}, err
	}

	e.log.WithFields(logrus.Fields{
		"queue_id": queueID, "entry_id": entry.ID, "customer_id": customer.ID,
		"priority": p.String(), "position": entry.Position,
	}).Info("customer joined queue")

	events := []queue.Event{e.queueUpdated(queueID, waiting)}
	for _, c := range changes {
		if c.EntryID != entry.ID {
			events = append(events, e.positionChanged(queueID, c, waiting))
		}
	}
	e.publish(events...)
	return entry, nil
}

// JoinByToken resolves a QR token to its queue and joins it with the high
// priority class.  A token whose queue no longer exists is reported as
// model.ErrInvalidToken.
func (e *Engine) JoinByToken(ctx context.Context, token string, customer model.User) (model.Entry, error) {
	if e.resolver == nil {
		return model.Entry{}, errors.Wrap(model.ErrInvalidToken, "no token resolver configured")
	}
	queueID, err := e.resolver.Resolve(ctx, token)
	if err != nil {
		return model.Entry{}, err
	}
	entry, err := e.Join(ctx, queueID, customer, model.PriorityHigh)
	if errors.Is(err, model.ErrNotFound) {
		return model.Entry{}, errors.Wrapf(model.ErrInvalidToken, "token points at missing queue %d", queueID)
	}
	return entry, err
}

// CallNext serves the earliest waiting high entry, or the earliest normal one
// when no high entry waits, and renumbers the rest.  The returned entry
// carries the position it had before it was called.
func (e *Engine) CallNext(ctx context.Context, queueID uint64, caller model.User) (model.Entry, error) {
	var (
		called  model.Entry
		changes []PositionChange
		waiting int
	)
	err := e.mutate(ctx, "call_next", queueID, func(tx Tx) error {
		q, est, err := loadQueue(ctx, tx, queueID)
		if err != nil {
			return err
		}
		if err := access.RequireServe(caller, q, est); err != nil {
			return err
		}
		high, err := tx.Waiting(ctx, queueID, model.PriorityHigh)
		if err != nil {
			return errors.Wrap(err, "list high entries")
		}
		normal, err := tx.Waiting(ctx, queueID, model.PriorityNormal)
		if err != nil {
			return errors.Wrap(err, "list normal entries")
		}
		next, ok := Next(high, normal)
		if !ok {
			return errors.Wrapf(model.ErrEmptyQueue, "queue %d", queueID)
		}
		servedAt := e.now()
		if err := tx.MarkServed(ctx, next.ID, servedAt); err != nil {
			return errors.Wrap(err, "mark entry served")
		}
		next.Status = model.StatusServed
		next.ServedAt = &servedAt
		called = next
		changes, waiting, err = renumberTx(ctx, tx, queueID)
		if err != nil {
			return err
		}
		return tx.BumpVersion(ctx, queueID, q.Version)
	})
	if err != nil {
		return model.Entry{}, err
	}

	e.log.WithFields(logrus.Fields{
		"queue_id": queueID, "entry_id": called.ID, "customer_id": called.CustomerID,
		"caller_id": caller.ID, "position": called.Position, "waiting": waiting,
	}).Info("customer called")

	events := []queue.Event{e.customerCalled(called, waiting)}
	for _, c := range changes {
		events = append(events, e.positionChanged(queueID, c, waiting))
	}
	events = append(events, e.queueUpdated(queueID, waiting))
	e.publish(events...)
	return called, nil
}

// Leave removes the customer's waiting entry and renumbers its queue.  An
// entry that does not exist, belongs to someone else or was already served
// fails with model.ErrNotFound.
func (e *Engine) Leave(ctx context.Context, entryID uint64, customer model.User) error {
	var (
		left    model.Entry
		changes []PositionChange
		waiting int
	)
	err := e.mutate(ctx, "leave", 0, func(tx Tx) error {
		entry, err := tx.CustomerEntry(ctx, entryID, customer.ID)
		if err != nil {
			return errors.Wrapf(err, "entry %d of customer %d", entryID, customer.ID)
		}
		if entry.Status != model.StatusWaiting {
			return errors.Wrapf(model.ErrNotFound, "entry %d is no longer waiting", entryID)
		}
		q, err := tx.Queue(ctx, entry.QueueID)
		if err != nil {
			return errors.Wrapf(err, "queue %d", entry.QueueID)
		}
		if err := tx.DeleteEntry(ctx, entry.ID); err != nil {
			return errors.Wrap(err, "delete entry")
		}
		left = entry
		changes, waiting, err = renumberTx(ctx, tx, q.ID)
		if err != nil {
			return err
		}
		return tx.BumpVersion(ctx, q.ID, q.Version)
	})
	if err != nil {
		return err
	}

	e.log.WithFields(logrus.Fields{
		"queue_id": left.QueueID, "entry_id": left.ID, "customer_id": customer.ID, "waiting": waiting,
	}).Info("customer left queue")

	events := make([]queue.Event, 0, len(changes)+1)
	for _, c := range changes {
		events = append(events, e.positionChanged(left.QueueID, c, waiting))
	}
	events = append(events, e.queueUpdated(left.QueueID, waiting))
	e.publish(events...)
	return nil
}

// Renumber rewrites the positions of the queue's waiting entries and returns
// how many changed.  It is idempotent.
func (e *Engine) Renumber(ctx context.Context, queueID uint64) (int, error) {
	return e.renumber(ctx, queueID, nil)
}

// RenumberFor is Renumber on behalf of caller, who must be allowed to serve
// the queue.
func (e *Engine) RenumberFor(ctx context.Context, queueID uint64, caller model.User) (int, error) {
	return e.renumber(ctx, queueID, func(q model.Queue, est model.Establishment) error {
		return access.RequireServe(caller, q, est)
	})
}

func (e *Engine) renumber(ctx context.Context, queueID uint64, check func(model.Queue, model.Establishment) error) (int, error) {
	var (
		changes []PositionChange
		waiting int
	)
	err := e.mutate(ctx, "renumber", queueID, func(tx Tx) error {
		q, est, err := loadQueue(ctx, tx, queueID)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(q, est); err != nil {
				return err
			}
		}
		changes, waiting, err = renumberTx(ctx, tx, queueID)
		if err != nil {
			return err
		}
		if len(changes) == 0 {
			return nil
		}
		return tx.BumpVersion(ctx, queueID, q.Version)
	})
	if err != nil {
		return 0, err
	}
	if len(changes) > 0 {
		e.log.WithFields(logrus.Fields{"queue_id": queueID, "changed": len(changes)}).Info("queue renumbered")
		events := make([]queue.Event, 0, len(changes)+1)
		for _, c := range changes {
			events = append(events, e.positionChanged(queueID, c, waiting))
		}
		events = append(events, e.queueUpdated(queueID, waiting))
		e.publish(events...)
	}
	return len(changes), nil
}

// Next picks the entry CallNext would serve: the earliest high entry, else
// the earliest normal entry.
func Next(high, normal []model.Entry) (model.Entry, bool) {
	if e, ok := earliest(high); ok {
		return e, true
	}
	return earliest(normal)
}

func earliest(entries []model.Entry) (model.Entry, bool) {
	if len(entries) == 0 {
		return model.Entry{}, false
	}
	best := entries[0]
	for _, e := range entries[1:] {
		if e.Before(best) {
			best = e
		}
	}
	return best, true
}

// mutate runs fn in a transaction until it commits, fails with anything other
// than a version conflict, or runs out of attempts.
func (e *Engine) mutate(ctx context.Context, op string, queueID uint64, fn func(tx Tx) error) error {
	for attempt := 1; ; attempt++ {
		err := e.store.RunInTx(ctx, fn)
		if err == nil || !errors.Is(err, model.ErrVersionConflict) {
			return err
		}
		if attempt >= e.attempts {
			return errors.Wrapf(err, "%s: queue still contended after %d attempts", op, attempt)
		}
		delay := e.backoff.Delay(attempt)
		e.log.WithFields(logrus.Fields{
			"op": op, "queue_id": queueID, "attempt": attempt, "delay": delay,
		}).Debug("queue version conflict, retrying")
		if err := sleep(ctx, delay); err != nil {
			return errors.Wrapf(err, "%s: retry aborted", op)
		}
	}
}

func loadQueue(ctx context.Context, tx Tx, queueID uint64) (model.Queue, model.Establishment, error) {
	q, err := tx.Queue(ctx, queueID)
	if err != nil {
		return model.Queue{}, model.Establishment{}, errors.Wrapf(err, "queue %d", queueID)
	}
	est, err := tx.Establishment(ctx, q.EstablishmentID)
	if err != nil {
		return model.Queue{}, model.Establishment{}, errors.Wrapf(err, "establishment %d", q.EstablishmentID)
	}
	return q, est, nil
}

// renumberTx rewrites drifted positions and returns the changes and the
// number of entries still waiting.
func renumberTx(ctx context.Context, tx Tx, queueID uint64) ([]PositionChange, int, error) {
	high, err := tx.Waiting(ctx, queueID, model.PriorityHigh)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list high entries")
	}
	normal, err := tx.Waiting(ctx, queueID, model.PriorityNormal)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list normal entries")
	}
	changes := Assign(high, normal)
	for _, c := range changes {
		if err := tx.SetPosition(ctx, c.EntryID, c.To); err != nil {
			return nil, 0, errors.Wrapf(err, "set position of entry %d", c.EntryID)
		}
	}
	return changes, len(high) + len(normal), nil
}

func (e *Engine) publish(events ...queue.Event) {
	for _, ev := range events {
		e.notifier.Notify(ev)
	}
}

func (e *Engine) queueUpdated(queueID uint64, waiting int) queue.Event {
	return queue.Event{Kind: queue.KindQueueUpdated, QueueID: queueID, Waiting: waiting, OccurredAt: e.now()}
}

func (e *Engine) customerCalled(called model.Entry, waiting int) queue.Event {
	return queue.Event{
		Kind:       queue.KindCustomerCalled,
		QueueID:    called.QueueID,
		EntryID:    called.ID,
		CustomerID: called.CustomerID,
		Position:   called.Position,
		Waiting:    waiting,
		OccurredAt: e.now(),
	}
}

func (e *Engine) positionChanged(queueID uint64, c PositionChange, waiting int) queue.Event {
	return queue.Event{
		Kind:             queue.KindPositionChanged,
		QueueID:          queueID,
		EntryID:          c.EntryID,
		CustomerID:       c.CustomerID,
		Position:         c.To,
		PreviousPosition: c.From,
		Waiting:          waiting,
		OccurredAt:       e.now(),
	}
}
