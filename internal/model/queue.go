package model

import (
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Queue is a named waiting line belonging to exactly one establishment.
//
// Fields:
//  ID              – primary key identifier.
//  EstablishmentID – owning establishment.
//  Name            – display name, editable.
//  Description     – optional free text, editable.
//  Version         – optimistic concurrency counter; bumped by every
//                    mutation of the queue's entries.
//  CreatedAt       – timestamp when the queue was created.
//  UpdatedAt       – timestamp of last update.
type Queue struct {
	ID              uint64    // queues.id
	EstablishmentID uint64    // queues.establishment_id
	Name            string    // queues.name
	Description     *string   // queues.description (nullable)
	Version         uint64    // queues.version
	CreatedAt       time.Time // queues.created_at
	UpdatedAt       time.Time // queues.updated_at
}

// QueueInfo is a queue joined with the name of its establishment and its
// current waiting counts, as listed to owners and customers.
type QueueInfo struct {
	Queue
	EstablishmentName string
	Counts            WaitingCounts
}

// Priority is the class of an entry.  High entries always precede normal
// entries.
type Priority uint8

const (
	PriorityNormal Priority = iota + 1
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	}
	return "unknown"
}

// ParsePriority maps "normal" or "high" to a Priority.  An empty string means
// normal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	}
	return 0, errors.Errorf("unknown priority %q", s)
}

// Status is the lifecycle state of an entry.  Waiting is the only state an
// entry can leave.
type Status uint8

const (
	StatusWaiting Status = iota + 1
	StatusServed
)

func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "waiting"
	case StatusServed:
		return "served"
	}
	return "unknown"
}

// ParseStatus maps a stored status value to a Status.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "waiting":
		return StatusWaiting, nil
	case "served":
		return StatusServed, nil
	}
	return 0, errors.Errorf("unknown status %q", s)
}

// HistoryLabel is the outcome shown in a customer's history.
func (s Status) HistoryLabel() string {
	if s == StatusServed {
		return "completed"
	}
	return "cancelled"
}

// WaitingCounts holds the number of waiting entries of a queue per priority.
type WaitingCounts struct {
	High   int
	Normal int
}

// Total is the number of waiting entries across both classes.
func (c WaitingCounts) Total() int { return c.High + c.Normal }

// Of returns the count for a single class.
func (c WaitingCounts) Of(p Priority) int {
	if p == PriorityHigh {
		return c.High
	}
	return c.Normal
}
