package model

import "github.com/pkg/errors"

// Domain errors shared by the engine, the guard and the repositories.
// Callers wrap them for context and classify with errors.Is.
var (
	ErrNotFound       = errors.New("not found")
	ErrAccessDenied   = errors.New("access denied")
	ErrDuplicateEntry = errors.New("customer already waiting in queue")
	ErrEmptyQueue     = errors.New("queue is empty")
	ErrInvalidToken   = errors.New("invalid queue token")
	ErrEmailExists    = errors.New("email already exists")

	// ErrVersionConflict reports that a queue changed between read and
	// write.  The engine retries it; it only escapes when retries run out.
	ErrVersionConflict = errors.New("queue version conflict")
)
