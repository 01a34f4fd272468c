package engine

import (
	"context"
	"time"

	"github.com/iliyamo/virtual-queue/internal/model"
	"github.com/iliyamo/virtual-queue/internal/queue"
)

// Store runs engine work inside a single store transaction.  fn's error
// rolls the transaction back; a nil error commits it.
type Store interface {
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the transactional view of the store that queue mutations need.
// Lookups of absent rows fail with model.ErrNotFound.
type Tx interface {
	// Queue loads a queue, including its current version.  Stores that can
	// lock hold the queue row until the transaction ends.
	Queue(ctx context.Context, queueID uint64) (model.Queue, error)
	Establishment(ctx context.Context, id uint64) (model.Establishment, error)

	// CountWaiting counts waiting entries of one priority class.
	CountWaiting(ctx context.Context, queueID uint64, p model.Priority) (int, error)
	HasWaiting(ctx context.Context, queueID, customerID uint64) (bool, error)

	// Waiting lists waiting entries of one class ordered by (entered_at, id).
	Waiting(ctx context.Context, queueID uint64, p model.Priority) ([]model.Entry, error)

	// InsertEntry stores e and sets its ID.
	InsertEntry(ctx context.Context, e *model.Entry) error

	// MarkServed and DeleteEntry only touch waiting entries.  An entry that
	// stopped waiting after it was read fails with model.ErrVersionConflict.
	MarkServed(ctx context.Context, entryID uint64, at time.Time) error
	SetPosition(ctx context.Context, entryID uint64, position int) error

	// CustomerEntry loads an entry only if it belongs to customerID.
	CustomerEntry(ctx context.Context, entryID, customerID uint64) (model.Entry, error)
	DeleteEntry(ctx context.Context, entryID uint64) error

	// BumpVersion advances the queue version from expected to expected+1
	// and fails with model.ErrVersionConflict when another writer got there
	// first.
	BumpVersion(ctx context.Context, queueID, expected uint64) error
}

// Notifier receives events after a mutation commits.  Notify must not block.
type Notifier interface {
	Notify(ev queue.Event)
}

// Resolver maps an opaque token to a queue id.
type Resolver interface {
	Resolve(ctx context.Context, token string) (uint64, error)
}
