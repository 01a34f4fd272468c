package engine

import "github.com/iliyamo/virtual-queue/internal/model"

// NextPosition returns the position a new entrant of class p receives.
// A high entrant lands behind the waiting high entries and ahead of every
// normal one; a normal entrant lands at the tail of the queue.
func NextPosition(c model.WaitingCounts, p model.Priority) int {
	if p == model.PriorityHigh {
		return c.High + 1
	}
	return c.High + c.Normal + 1
}
