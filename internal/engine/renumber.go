package engine

import (
	"sort"

	"github.com/iliyamo/virtual-queue/internal/model"
)

// PositionChange records an entry whose stored position differs from the
// one derived by Assign.
type PositionChange struct {
	EntryID    uint64
	CustomerID uint64
	From       int
	To         int
}

// Assign derives the positions of a queue's waiting entries.  Each class is
// ordered by (EnteredAt, ID); high entries take 1..H and normal entries take
// H+1..H+N, so a normal entry's rank inside its class is Position-H.  Only
// entries whose stored position differs are returned, high class first.
// Assign on already numbered entries returns nothing.
func Assign(high, normal []model.Entry) []PositionChange {
	var changes []PositionChange
	changes = appendChanges(changes, sortedCopy(high), 0)
	changes = appendChanges(changes, sortedCopy(normal), len(high))
	return changes
}

func sortedCopy(in []model.Entry) []model.Entry {
	out := make([]model.Entry, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func appendChanges(dst []PositionChange, entries []model.Entry, base int) []PositionChange {
	for i, e := range entries {
		want := base + i + 1
		if e.Position != want {
			dst = append(dst, PositionChange{EntryID: e.ID, CustomerID: e.CustomerID, From: e.Position, To: want})
		}
	}
	return dst
}
