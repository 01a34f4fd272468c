// Package queue defines the notification payloads exchanged over the message
// broker and pushed to live subscribers, and the consumer that drains them.
package queue

import "time"

// EventKind names a notification.  Its value is also the broker routing key.
type EventKind string

const (
	KindQueueUpdated    EventKind = "queue_updated"
	KindCustomerCalled  EventKind = "customer_called"
	KindPositionChanged EventKind = "position_changed"
)

// Event is published after a queue mutation commits.  It carries enough
// information for subscribers to refresh a view without querying the
// primary database.  Fields that do not apply to a kind stay zero.
type Event struct {
	Kind             EventKind `json:"kind"`
	QueueID          uint64    `json:"queue_id"`
	EntryID          uint64    `json:"entry_id,omitempty"`
	CustomerID       uint64    `json:"customer_id,omitempty"`
	Position         int       `json:"position,omitempty"`
	PreviousPosition int       `json:"previous_position,omitempty"`
	Waiting          int       `json:"waiting"`
	OccurredAt       time.Time `json:"occurred_at"`
}
