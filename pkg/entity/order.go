package entity

import (
	"sort"
	"time"
)

// Compare implements the canonical collection order:
//
//   - most recent lastUpdated first; createdAt stands in when lastUpdated is
//     absent
//   - entities with a timestamp sort ahead of entities without one
//   - among entities with no timestamp at all, descending by id
//   - any remaining tie broken by id ascending, so the order is total and
//     deterministic
//
// The fallback to id is a documented policy for records the server never
// timestamped, not an accident.
func Compare(a, b Entity) int {
	at, aok := a.orderTime()
	bt, bok := b.orderTime()

	switch {
	case aok && bok:
		if at.After(bt) {
			return -1
		}
		if bt.After(at) {
			return 1
		}
	case aok:
		return -1
	case bok:
		return 1
	default:
		if a.ID != b.ID {
			if a.ID > b.ID {
				return -1
			}
			return 1
		}
	}

	if a.ID < b.ID {
		return -1
	}
	if a.ID > b.ID {
		return 1
	}
	return 0
}

// Sort orders entities canonically in place.
func Sort(entities []Entity) {
	sort.SliceStable(entities, func(i, j int) bool {
		return Compare(entities[i], entities[j]) < 0
	})
}

func (e Entity) orderTime() (time.Time, bool) {
	if !e.LastUpdated.IsZero() {
		return e.LastUpdated, true
	}
	if !e.CreatedAt.IsZero() {
		return e.CreatedAt, true
	}
	return time.Time{}, false
}
