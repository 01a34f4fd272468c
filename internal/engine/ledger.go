package engine

import (
	"context"

	"github.com/pkg/errors"

	"github.com/iliyamo/virtual-queue/internal/model"
)

// Counter is the read side the ledger needs.  Tx satisfies it.
type Counter interface {
	CountWaiting(ctx context.Context, queueID uint64, p model.Priority) (int, error)
}

// Count returns the number of waiting entries of class p in the queue.
func Count(ctx context.Context, c Counter, queueID uint64, p model.Priority) (int, error) {
	n, err := c.CountWaiting(ctx, queueID, p)
	if err != nil {
		return 0, errors.Wrapf(err, "count %s entries of queue %d", p, queueID)
	}
	return n, nil
}

// Counts returns the waiting counts of both classes.
func Counts(ctx context.Context, c Counter, queueID uint64) (model.WaitingCounts, error) {
	high, err := Count(ctx, c, queueID, model.PriorityHigh)
	if err != nil {
		return model.WaitingCounts{}, err
	}
	normal, err := Count(ctx, c, queueID, model.PriorityNormal)
	if err != nil {
		return model.WaitingCounts{}, err
	}
	return model.WaitingCounts{High: high, Normal: normal}, nil
}
