package model

import "time"

// Entry records one customer's occupancy of a queue.  Positions of
// waiting entries are a materialized view: they are rewritten whenever
// the queue is renumbered and can always be re-derived from the waiting
// entries' (EnteredAt, ID) order.
//
// Fields:
//  ID         – primary key identifier, doubles as creation sequence.
//  QueueID    – queue being waited on.
//  CustomerID – user occupying the entry.
//  Position   – 1-based place in the queue (high class first).
//  Status     – waiting or served.
//  Priority   – normal or high.
//  EnteredAt  – when the customer joined.
//  ServedAt   – when staff called the entry (nil while waiting).
type Entry struct {
	ID         uint64     // queue_entries.id
	QueueID    uint64     // queue_entries.queue_id
	CustomerID uint64     // queue_entries.customer_id
	Position   int        // queue_entries.position
	Status     Status     // queue_entries.status
	Priority   Priority   // queue_entries.priority
	EnteredAt  time.Time  // queue_entries.entered_at
	ServedAt   *time.Time // queue_entries.served_at (nullable)
}

// Before reports whether e is ahead of o within the same priority class.
// Equal timestamps fall back to the creation sequence.
func (e Entry) Before(o Entry) bool {
	if !e.EnteredAt.Equal(o.EnteredAt) {
		return e.EnteredAt.Before(o.EnteredAt)
	}
	return e.ID < o.ID
}

// EntryDetail is an entry together with the names a customer sees.
type EntryDetail struct {
	Entry
	QueueName         string
	EstablishmentName string
}
